package mcp

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hyperengineering/teamsync"
)

// DocRef identifies a document shown to the agent.
type DocRef struct {
	Collection string
	DocumentID string
}

// refPrefixes maps collections to the letter their session refs start with.
var refPrefixes = map[string]string{
	teamsync.CollectionTasks:     "T",
	teamsync.CollectionTop3Items: "P",
}

// Session hands out short references (T1, T2, P1...) for documents listed
// during a session so agents can refer back to them without full ids.
// Counters are per collection; tracking the same document again returns
// its existing ref.
type Session struct {
	mu       sync.Mutex
	refs     map[string]DocRef
	reverse  map[DocRef]string
	counters map[string]int
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{
		refs:     make(map[string]DocRef),
		reverse:  make(map[DocRef]string),
		counters: make(map[string]int),
	}
}

// Track returns the session ref for a document, assigning one if needed.
func (s *Session) Track(collection, documentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := DocRef{Collection: collection, DocumentID: documentID}
	if ref, ok := s.reverse[key]; ok {
		return ref
	}

	prefix, ok := refPrefixes[collection]
	if !ok {
		prefix = "D"
	}
	s.counters[prefix]++
	ref := fmt.Sprintf("%s%d", prefix, s.counters[prefix])
	s.refs[ref] = key
	s.reverse[key] = ref
	return ref
}

// Resolve converts a session ref into the document it names.
// Refs are matched case-insensitively.
func (s *Session) Resolve(ref string) (DocRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.refs[strings.ToUpper(strings.TrimSpace(ref))]
	return r, ok
}

// ResolveID returns the document id for ref when ref is a session ref of
// collection, and ref itself otherwise.
func (s *Session) ResolveID(collection, ref string) string {
	if r, ok := s.Resolve(ref); ok && r.Collection == collection {
		return r.DocumentID
	}
	return ref
}

// Len returns the number of tracked documents.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refs)
}

// Clear forgets every ref and resets the counters.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs = make(map[string]DocRef)
	s.reverse = make(map[DocRef]string)
	s.counters = make(map[string]int)
}
