package saga

import (
	"encoding/json"
	"time"
)

// Status is the persisted lifecycle status of a saga.
type Status string

const (
	StatusPending         Status = "pending"
	StatusExecuting       Status = "executing"
	StatusCompensating    Status = "compensating"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusPartiallyFailed Status = "partially_failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartiallyFailed:
		return true
	}
	return false
}

// StepStatus is the persisted status of a single step within a saga.
type StepStatus string

const (
	StepStatusPending      StepStatus = "pending"
	StepStatusExecuting    StepStatus = "executing"
	StepStatusCompleted    StepStatus = "completed"
	StepStatusFailed       StepStatus = "failed"
	StepStatusCompensating StepStatus = "compensating"
	StepStatusCompensated  StepStatus = "compensated"
)

// StepState is the durable snapshot of one step's progress.
type StepState struct {
	Name        string          `json:"name"`
	Status      StepStatus      `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// State is the durable snapshot of an in-flight or finished saga,
// written at each status transition to support crash recovery and
// introspection of incomplete sagas.
//
// Identity is the SagaID alone: two snapshots of the same saga at
// different times describe the same entity.
type State struct {
	SagaID           string                     `json:"saga_id"`
	Status           Status                     `json:"status"`
	CurrentStepIndex int                        `json:"current_step_index"`
	Steps            []StepState                `json:"steps"`
	StartedAt        time.Time                  `json:"started_at"`
	CompletedAt      *time.Time                 `json:"completed_at,omitempty"`
	Results          map[string]json.RawMessage `json:"results,omitempty"`
	Error            string                     `json:"error,omitempty"`
	FailedStep       string                     `json:"failed_step,omitempty"`
}

// Equal reports whether two snapshots describe the same saga,
// regardless of how far each has progressed.
func (s *State) Equal(other *State) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.SagaID == other.SagaID
}

// StepStateFor returns the snapshot for the named step.
func (s *State) StepStateFor(name string) (*StepState, bool) {
	for i := range s.Steps {
		if s.Steps[i].Name == name {
			return &s.Steps[i], true
		}
	}
	return nil, false
}
