// Package task holds the programming-task catalogue served to games.
//
// The catalogue is a read-only TOML document loaded once at startup and
// shared by every game on the shard. Private test cases never leave the
// server; the JSON tags below enforce that at the codec level.
package task

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
)

// TestCase is one stdin/expected-stdout pair.
type TestCase struct {
	ID       uuid.UUID `json:"id" toml:"id"`
	Stdin    string    `json:"stdin" toml:"stdin"`
	Expected string    `json:"expected" toml:"expected"`
}

// GameTask is one programming task. Public cases are shown to clients
// and validated first; private cases run only after every public case
// passes and are never serialised to clients.
type GameTask struct {
	TaskID           uuid.UUID  `json:"task_id" toml:"task_id"`
	Question         string     `json:"question" toml:"question"`
	PublicTestCases  []TestCase `json:"public_test_cases" toml:"public_test_cases"`
	PrivateTestCases []TestCase `json:"-" toml:"private_test_cases"`
}

// Catalogue is the full task list for this process.
type Catalogue struct {
	tasks []GameTask
}

type fileTaskList struct {
	Tasks []GameTask `toml:"tasks"`
}

// Load reads the catalogue from a TOML document with a top-level
// `tasks` array.
func Load(path string) (*Catalogue, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task catalogue: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a TOML task list.
func Parse(raw []byte) (*Catalogue, error) {
	var list fileTaskList
	if err := toml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse task catalogue: %w", err)
	}
	for i, t := range list.Tasks {
		if t.Question == "" {
			return nil, fmt.Errorf("task %d (%s) has no question", i, t.TaskID)
		}
		if len(t.PublicTestCases) == 0 {
			return nil, fmt.Errorf("task %d (%s) has no public test cases", i, t.TaskID)
		}
	}
	return &Catalogue{tasks: list.Tasks}, nil
}

// NewCatalogue wraps an in-memory task list. Used by tests.
func NewCatalogue(tasks []GameTask) *Catalogue {
	return &Catalogue{tasks: tasks}
}

// Len reports the number of tasks available.
func (c *Catalogue) Len() int {
	return len(c.tasks)
}

// Sample picks n distinct tasks uniformly at random. It fails when the
// catalogue holds fewer than n tasks; n equal to the catalogue size
// returns every task in random order.
func (c *Catalogue) Sample(n int) ([]GameTask, error) {
	if n <= 0 {
		return nil, fmt.Errorf("task count must be positive, got %d", n)
	}
	if n > len(c.tasks) {
		return nil, fmt.Errorf("catalogue holds %d tasks, %d requested", len(c.tasks), n)
	}
	picked := make([]GameTask, 0, n)
	for _, i := range rand.Perm(len(c.tasks))[:n] {
		picked = append(picked, c.tasks[i])
	}
	return picked, nil
}
