package scheduler

import "errors"

// Run failure causes (§7 error taxonomy, §4.6 GET /runs/{id}).
const (
	CauseStore    = "store"
	CauseBudget   = "budget"
	CauseDeadline = "deadline"
	CauseCancelled = "cancelled"
)

// ValidatorBlock indicates a run stopped reconciling with unresolved
// critical/high contradictions after the round cap. It is not a failure:
// the run's status becomes "blocked", awaiting user input, not "failed".
type ValidatorBlock struct {
	RuleIDs []string
}

func (e *ValidatorBlock) Error() string {
	return "scheduler: validator block: unresolved contradictions after reconciliation cap"
}

// StoreError wraps a checkpoint append failure, fatal to the run (§7).
type StoreError struct{ Err error }

func (e *StoreError) Error() string { return "scheduler: store error: " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// BudgetError indicates the run exhausted its token or time budget.
type BudgetError struct{ Cause string }

func (e *BudgetError) Error() string { return "scheduler: budget exhausted: " + e.Cause }

// ErrCancelled indicates the run was cancelled by its caller.
var ErrCancelled = errors.New("scheduler: run cancelled")

// ErrRunNotFound indicates a Resume/Cancel call named a run the scheduler
// has no record of (already finished, or never started on this process).
var ErrRunNotFound = errors.New("scheduler: run not found")
