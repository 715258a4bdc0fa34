// Package agent runs multi-step coding tasks and decides when a request needs one.
package agent

import (
	"errors"
	"fmt"
	"time"
)

// StepType categorizes a step.
type StepType string

const (
	StepAnalyze  StepType = "analyze"
	StepPlan     StepType = "plan"
	StepCode     StepType = "code"
	StepReview   StepType = "review"
	StepValidate StepType = "validate"
	StepFix      StepType = "fix"
)

// ParseStepType maps free text onto a StepType. Unknown values become code.
func ParseStepType(s string) StepType {
	switch StepType(s) {
	case StepAnalyze, StepPlan, StepCode, StepReview, StepValidate, StepFix:
		return StepType(s)
	}
	return StepCode
}

// StepStatus is the lifecycle state of a step.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusRunning   StepStatus = "running"
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s StepStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrInvalidTransition is returned for transitions that break pending → running → done.
var ErrInvalidTransition = errors.New("invalid step transition")

// Step is one unit of agent work. Steps are values; every change produces a
// new Step.
type Step struct {
	ID          string     `json:"id"`
	Type        StepType   `json:"type"`
	Description string     `json:"description"`
	Input       string     `json:"input,omitempty"`
	Output      string     `json:"output,omitempty"`
	Status      StepStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
}

// Duration is the wall time of a finished step.
func (s Step) Duration() time.Duration {
	if s.StartTime == nil || s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(*s.StartTime)
}

// Start moves a pending step to running.
func (s Step) Start(at time.Time) (Step, error) {
	if s.Status != StatusPending {
		return s, fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, s.ID, s.Status, StatusRunning)
	}
	s.Status = StatusRunning
	s.StartTime = &at
	s.EndTime = nil
	return s, nil
}

// Complete moves a running step to completed.
func (s Step) Complete(at time.Time) (Step, error) {
	if s.Status != StatusRunning {
		return s, fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, s.ID, s.Status, StatusCompleted)
	}
	s.Status = StatusCompleted
	s.EndTime = &at
	return s, nil
}

// Fail moves a non-terminal step to failed.
func (s Step) Fail(at time.Time, reason string) (Step, error) {
	if s.Status.Terminal() {
		return s, fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, s.ID, s.Status, StatusFailed)
	}
	if s.StartTime == nil {
		s.StartTime = &at
	}
	s.Status = StatusFailed
	s.Error = reason
	s.EndTime = &at
	return s, nil
}

// Merge returns s with the work fields reported by an agent. Identity, type,
// status and timing stay under engine control.
func (s Step) Merge(result Step) Step {
	if result.Description != "" {
		s.Description = result.Description
	}
	if result.Input != "" {
		s.Input = result.Input
	}
	if result.Output != "" {
		s.Output = result.Output
	}
	return s
}
