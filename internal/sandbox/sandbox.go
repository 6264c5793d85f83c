// Package sandbox talks to the external compile/execute service. The
// service compiles submitted source and runs it once per supplied
// stdin; stdout[i] corresponds to stdin[i].
package sandbox

import (
	"context"

	"github.com/google/uuid"
)

// Result is the outcome of one compile-and-run batch. When Success is
// false the submission did not compile and Stderr carries the
// compiler output; Stdout is aligned index-for-index with the inputs.
type Result struct {
	Success bool
	Stdout  []string
	Stderr  []string
}

// Runner is the sandbox as seen by game replicas. Tests substitute a
// scripted implementation.
type Runner interface {
	Compile(ctx context.Context, userID uuid.UUID, code string, stdin []string, language string) (Result, error)
}
