package saga

// Result is the tri-state outcome of a saga execution. Exactly one of
// Success, Failure, or PartialFailure is produced per execution.
//
// The type is sealed: dispatch exhaustively with a type switch or with
// Match.
type Result interface {
	// SagaID identifies the execution that produced this result.
	SagaID() string

	IsSuccess() bool
	IsFailure() bool
	IsPartialFailure() bool

	sealedResult()
}

// Success reports that every step completed. Results are positionally
// aligned with the input steps; a nested step contributes its single
// reduced result at its position.
type Success struct {
	ID      string
	Results []StepResult
}

// Failure reports that a step failed and every completed step was
// compensated cleanly. CompensatedSteps is in compensation order,
// i.e. reverse of execution order.
type Failure struct {
	ID               string
	Err              error
	FailedStep       string
	CompensatedSteps []string
}

// PartialFailure reports that a step failed and at least one
// compensation also failed, leaving external state inconsistent.
// It requires operator intervention and must be distinguished from an
// ordinary Failure by callers.
type PartialFailure struct {
	ID                 string
	Err                error
	FailedStep         string
	CompensationErrors []CompensationError
}

func (r *Success) SagaID() string        { return r.ID }
func (r *Failure) SagaID() string        { return r.ID }
func (r *PartialFailure) SagaID() string { return r.ID }

func (r *Success) IsSuccess() bool        { return true }
func (r *Failure) IsSuccess() bool        { return false }
func (r *PartialFailure) IsSuccess() bool { return false }

func (r *Success) IsFailure() bool        { return false }
func (r *Failure) IsFailure() bool        { return true }
func (r *PartialFailure) IsFailure() bool { return false }

func (r *Success) IsPartialFailure() bool        { return false }
func (r *Failure) IsPartialFailure() bool        { return false }
func (r *PartialFailure) IsPartialFailure() bool { return true }

func (r *Success) sealedResult()        {}
func (r *Failure) sealedResult()        {}
func (r *PartialFailure) sealedResult() {}

// Match dispatches exhaustively over the three result variants.
// Handlers may be nil to ignore a variant.
func Match(r Result, onSuccess func(*Success), onFailure func(*Failure), onPartialFailure func(*PartialFailure)) {
	switch v := r.(type) {
	case *Success:
		if onSuccess != nil {
			onSuccess(v)
		}
	case *Failure:
		if onFailure != nil {
			onFailure(v)
		}
	case *PartialFailure:
		if onPartialFailure != nil {
			onPartialFailure(v)
		}
	}
}

// TriggeringError returns the error that caused a Failure or
// PartialFailure, or nil for a Success.
func TriggeringError(r Result) error {
	switch v := r.(type) {
	case *Failure:
		return v.Err
	case *PartialFailure:
		return v.Err
	default:
		return nil
	}
}
