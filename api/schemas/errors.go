package schemas

import "errors"

// Error taxonomy for the engine. Only ErrInputInconsistency aborts a run;
// the others are handled internally via fallback paths and surface as
// RunStatus flags instead of hard failures.
var (
	// ErrInputInconsistency marks forecast or roster data referencing unknown
	// queue or skill ids. It indicates a data-contract violation by an
	// external collaborator and is fatal for the run.
	ErrInputInconsistency = errors.New("input inconsistency")

	// ErrSolverTimeout marks an LP or search budget exhaustion. Callers fall
	// back to the best-known result; it never escalates past the component.
	ErrSolverTimeout = errors.New("solver budget exceeded")

	// ErrComplianceUnrepairable marks a candidate that still carries a hard
	// violation after repair. The candidate is discarded, not surfaced.
	ErrComplianceUnrepairable = errors.New("hard compliance violation after repair")
)
