package domain

import (
	"errors"
	"fmt"
)

// transitions is the operation lifecycle table. Anything absent is rejected.
//
// Beyond the interactive flow, uploading and validating may fail to error
// when a collaborator is unreachable, and validation_errors may move to
// validated once only warnings remain and they were acknowledged.
var transitions = map[OperationState][]OperationState{
	StateIdle:             {StateUploading},
	StateUploading:        {StateValidating, StateError},
	StateValidating:       {StateValidationErrors, StateValidated, StateError},
	StateValidationErrors: {StateValidating, StateValidated},
	StateValidated:        {StateProcessing},
	StateProcessing:       {StateCompleted, StateError, StateIdle},
}

// TransitionCheck is the outcome of a guard evaluation.
type TransitionCheck struct {
	Allowed bool
	Reason  string
}

// Err returns the reason as an error, or nil when allowed.
func (c TransitionCheck) Err() error {
	if c.Allowed {
		return nil
	}
	return errors.New(c.Reason)
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to OperationState) TransitionCheck {
	if from.IsTerminal() {
		return TransitionCheck{Reason: fmt.Sprintf("operation is %s and can no longer change", from)}
	}
	for _, next := range transitions[from] {
		if next == to {
			return TransitionCheck{Allowed: true}
		}
	}
	return TransitionCheck{Reason: fmt.Sprintf("cannot move from %s to %s", from, to)}
}
