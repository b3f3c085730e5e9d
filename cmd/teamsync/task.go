package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/teamsync"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Example: `  teamsync task add "Write quarterly report" --quadrant UI --due 2025-03-14
  teamsync task add "Refactor sync queue" -d "split drain passes"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List your tasks",
	RunE:    runTaskList,
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a task's fields",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskUpdate,
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task as done",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDone,
}

var taskRmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete a task",
	Args:    cobra.ExactArgs(1),
	RunE:    runTaskRm,
}

var (
	taskDescription string
	taskQuadrant    string
	taskStatus      string
	taskTopic       string
	taskDue         string
	taskTitle       string
	taskAll         bool
)

func init() {
	taskAddCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "Task description")
	taskAddCmd.Flags().StringVarP(&taskQuadrant, "quadrant", "q", "", "Quadrant: UI, UNI, NUI, NUNI (default NUI)")
	taskAddCmd.Flags().StringVar(&taskTopic, "topic", "", "Topic id")
	taskAddCmd.Flags().StringVar(&taskDue, "due", "", "Due date (YYYY-MM-DD)")

	taskListCmd.Flags().StringVarP(&taskQuadrant, "quadrant", "q", "", "Only this quadrant")
	taskListCmd.Flags().StringVarP(&taskStatus, "status", "s", "", "Only this status")
	taskListCmd.Flags().BoolVarP(&taskAll, "all", "a", false, "Include archived tasks")

	taskUpdateCmd.Flags().StringVarP(&taskTitle, "title", "t", "", "New title")
	taskUpdateCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "New description")
	taskUpdateCmd.Flags().StringVarP(&taskQuadrant, "quadrant", "q", "", "New quadrant")
	taskUpdateCmd.Flags().StringVarP(&taskStatus, "status", "s", "", "New status: TODO, IN_PROGRESS, DONE, ARCHIVED")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskUpdateCmd, taskDoneCmd, taskRmCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	in := teamsync.TaskInput{
		Title:       strings.Join(args, " "),
		Description: taskDescription,
		Quadrant:    teamsync.Quadrant(strings.ToUpper(taskQuadrant)),
		TopicID:     taskTopic,
	}
	if taskDue != "" {
		d, err := time.Parse(dateLayout, taskDue)
		if err != nil {
			return fmt.Errorf("invalid --due %q: use YYYY-MM-DD", taskDue)
		}
		in.DueDate = &d
	}

	client, _, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	task, err := client.AddTask(cmd.Context(), in)
	if err != nil {
		return err
	}
	return outputTask(cmd, "Created", task)
}

func runTaskList(cmd *cobra.Command, args []string) error {
	client, _, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	tasks, err := client.LoadTasks(cmd.Context())
	if err != nil {
		return err
	}

	quadrant := teamsync.Quadrant(strings.ToUpper(taskQuadrant))
	status := teamsync.TaskStatus(strings.ToUpper(taskStatus))
	var filtered []teamsync.Task
	for _, t := range tasks {
		if t.IsDeleted {
			continue
		}
		if !taskAll && status == "" && t.Status == teamsync.TaskArchived {
			continue
		}
		if quadrant != "" && t.Quadrant != quadrant {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		filtered = append(filtered, t)
	}
	return outputTasks(cmd, filtered)
}

// resolveTaskID expands a short id prefix, as printed by task list, to the
// full id of exactly one local task.
func resolveTaskID(ctx context.Context, client *teamsync.Client, prefix string) (string, error) {
	if t, err := client.Tasks.GetByID(ctx, prefix); err != nil {
		return "", err
	} else if t != nil {
		return t.ID, nil
	}

	tasks, err := client.Tasks.GetAll(ctx)
	if err != nil {
		return "", err
	}
	var match string
	for _, t := range tasks {
		if strings.HasPrefix(t.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("task id %q is ambiguous", prefix)
			}
			match = t.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("task not found: %s", prefix)
	}
	return match, nil
}

func updateTask(cmd *cobra.Command, ref string, patch teamsync.Patch) error {
	client, _, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()
	id, err := resolveTaskID(ctx, client, ref)
	if err != nil {
		return err
	}
	task, err := client.Tasks.Update(ctx, id, patch)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task not found: %s", ref)
	}
	return outputTask(cmd, "Updated", task)
}

func runTaskUpdate(cmd *cobra.Command, args []string) error {
	patch := teamsync.Patch{}
	flags := cmd.Flags()
	if flags.Changed("title") {
		patch["title"] = taskTitle
	}
	if flags.Changed("description") {
		patch["description"] = taskDescription
	}
	if flags.Changed("quadrant") {
		q := teamsync.Quadrant(strings.ToUpper(taskQuadrant))
		if !q.IsValid() {
			return fmt.Errorf("invalid quadrant %q", taskQuadrant)
		}
		patch["quadrant"] = q
	}
	if flags.Changed("status") {
		s := teamsync.TaskStatus(strings.ToUpper(taskStatus))
		if !s.IsValid() {
			return fmt.Errorf("invalid status %q", taskStatus)
		}
		patch["status"] = s
	}
	if len(patch) == 0 {
		return fmt.Errorf("nothing to update: pass --title, --description, --quadrant or --status")
	}
	return updateTask(cmd, args[0], patch)
}

func runTaskDone(cmd *cobra.Command, args []string) error {
	return updateTask(cmd, args[0], teamsync.Patch{"status": teamsync.TaskDone})
}

func runTaskRm(cmd *cobra.Command, args []string) error {
	client, _, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()
	id, err := resolveTaskID(ctx, client, args[0])
	if err != nil {
		return err
	}
	if _, err := client.Tasks.Delete(ctx, id); err != nil {
		return err
	}

	if outputJSON {
		return outputAsJSON(cmd, map[string]any{"id": id, "deleted": true})
	}
	printSuccess(cmd.OutOrStdout(), "Deleted task %s", shortID(id))
	return nil
}
