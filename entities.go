package teamsync

import (
	"math"
	"time"
)

// Collection names shared with the remote document store.
const (
	CollectionOrganizations   = "organizations"
	CollectionTasks           = "tasks"
	CollectionTopics          = "topics"
	CollectionWeeklyGoals     = "weeklyGoals"
	CollectionGoalOutcomes    = "goalOutcomes"
	CollectionTop3Items       = "top3Items"
	CollectionProofLogs       = "proofLogs"
	CollectionWeeklySummaries = "weeklySummaries"
)

// Collections lists every synchronized collection.
var Collections = []string{
	CollectionOrganizations,
	CollectionTasks,
	CollectionTopics,
	CollectionWeeklyGoals,
	CollectionGoalOutcomes,
	CollectionTop3Items,
	CollectionProofLogs,
	CollectionWeeklySummaries,
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "TODO"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskDone       TaskStatus = "DONE"
	TaskArchived   TaskStatus = "ARCHIVED"
)

// IsValid reports whether s is a known status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskDone, TaskArchived:
		return true
	}
	return false
}

// Quadrant is a cell of the urgent/important matrix.
type Quadrant string

const (
	QuadrantUrgentImportant       Quadrant = "UI"
	QuadrantUrgentNotImportant    Quadrant = "UNI"
	QuadrantNotUrgentImportant    Quadrant = "NUI"
	QuadrantNotUrgentNotImportant Quadrant = "NUNI"
)

// IsValid reports whether q is a known quadrant.
func (q Quadrant) IsValid() bool {
	switch q {
	case QuadrantUrgentImportant, QuadrantUrgentNotImportant, QuadrantNotUrgentImportant, QuadrantNotUrgentNotImportant:
		return true
	}
	return false
}

// ProofType classifies a proof-of-work log.
type ProofType string

const (
	ProofShipped  ProofType = "SHIPPED"
	ProofSolved   ProofType = "SOLVED"
	ProofImproved ProofType = "IMPROVED"
)

// ImpactTag weights a proof-of-work log.
type ImpactTag string

const (
	ImpactLow    ImpactTag = "LOW"
	ImpactMedium ImpactTag = "MEDIUM"
	ImpactHigh   ImpactTag = "HIGH"
)

var proofBasePoints = map[ProofType]float64{
	ProofShipped:  5,
	ProofSolved:   4,
	ProofImproved: 3,
}

var impactMultipliers = map[ImpactTag]float64{
	ImpactLow:    1.0,
	ImpactMedium: 1.5,
	ImpactHigh:   2.0,
}

// Organization groups users sharing topics.
type Organization struct {
	Meta
	Name       string `json:"name"`
	OwnerID    string `json:"ownerId"`
	InviteCode string `json:"inviteCode"`
}

// Task is a unit of work placed in a quadrant.
type Task struct {
	Meta
	OrganizationID      string     `json:"organizationId,omitempty"`
	Title               string     `json:"title"`
	Description         string     `json:"description,omitempty"`
	Quadrant            Quadrant   `json:"quadrant"`
	Status              TaskStatus `json:"status"`
	TopicID             string     `json:"topicId,omitempty"`
	OwnerID             string     `json:"ownerId"`
	CreatedBy           string     `json:"createdBy"`
	DueDate             *time.Time `json:"dueDate,omitempty"`
	LinkedGoalOutcomeID string     `json:"linkedGoalOutcomeId,omitempty"`
}

// Topic labels tasks within an organization.
type Topic struct {
	Meta
	OrganizationID string `json:"organizationId,omitempty"`
	Name           string `json:"name"`
	Color          string `json:"color"`
	CreatedBy      string `json:"createdBy"`
}

// WeeklyGoal is a goal for the week starting at WeekStart.
type WeeklyGoal struct {
	Meta
	OrganizationID string    `json:"organizationId,omitempty"`
	UserID         string    `json:"userId"`
	WeekStart      time.Time `json:"weekStart"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
}

// GoalOutcome is a measurable outcome of a weekly goal.
type GoalOutcome struct {
	Meta
	OrganizationID string `json:"organizationId,omitempty"`
	GoalID         string `json:"goalId"`
	UserID         string `json:"userId"`
	Description    string `json:"description"`
	LinkedTaskID   string `json:"linkedTaskId,omitempty"`
	IsCompleted    bool   `json:"isCompleted"`
	Order          int    `json:"order"`
}

// Top3Item is one of a user's three daily priorities.
type Top3Item struct {
	Meta
	OrganizationID string    `json:"organizationId,omitempty"`
	UserID         string    `json:"userId"`
	Date           time.Time `json:"date"`
	Order          int       `json:"order"`
	Content        string    `json:"content"`
	LinkedTaskID   string    `json:"linkedTaskId,omitempty"`
	IsCompleted    bool      `json:"isCompleted"`
}

// ProofLog records a piece of finished work.
type ProofLog struct {
	Meta
	OrganizationID string    `json:"organizationId,omitempty"`
	UserID         string    `json:"userId"`
	Date           time.Time `json:"date"`
	Type           ProofType `json:"type"`
	Content        string    `json:"content"`
	Category       string    `json:"category,omitempty"`
	ImpactTag      ImpactTag `json:"impactTag,omitempty"`
}

// Points returns the log's score: base points for its type scaled by its
// impact. An empty impact counts as low.
func (p ProofLog) Points() float64 {
	impact := p.ImpactTag
	if impact == "" {
		impact = ImpactLow
	}
	return proofBasePoints[p.Type] * impactMultipliers[impact]
}

// ScoreLogs sums the points of logs, rounded to the nearest integer.
func ScoreLogs(logs []ProofLog) int {
	var total float64
	for _, l := range logs {
		total += l.Points()
	}
	return int(math.Round(total))
}

// WeeklySummary is a user's end-of-week summary.
type WeeklySummary struct {
	Meta
	OrganizationID string    `json:"organizationId,omitempty"`
	UserID         string    `json:"userId"`
	WeekStart      time.Time `json:"weekStart"`
	Content        string    `json:"content"`
	IsFinalized    bool      `json:"isFinalized"`
	Score          int       `json:"score"`
}

// DayStart truncates t to midnight UTC.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	return DayStart(a).Equal(DayStart(b))
}
