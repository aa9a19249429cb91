package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is matching against the typed errors below.
var (
	ErrCapacity     = errors.New("capacity exceeded")
	ErrNotFound     = errors.New("not found")
	ErrNoIdleAgents = errors.New("no idle agents available")
	ErrTimeout      = errors.New("timed out")
	ErrRespawn      = errors.New("respawn failed")
	ErrDuplicate    = errors.New("already exists")
	ErrTaskFinished = errors.New("task already finished")
)

// CapacityError is returned when a pool or queue is at its configured maximum.
type CapacityError struct {
	Resource string
	Limit    int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s at capacity (max %d)", e.Resource, e.Limit)
}

func (e *CapacityError) Is(target error) bool { return target == ErrCapacity }

// NotFoundError is returned when an unknown agent or task id is referenced.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DuplicateError is returned when an explicit id is already in use.
type DuplicateError struct {
	Kind string
	ID   string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.ID)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

// FinishedError is returned when a result is recorded on a task that already
// reached a terminal status.
type FinishedError struct {
	ID     string
	Status TaskStatus
}

func (e *FinishedError) Error() string {
	return fmt.Sprintf("task %s already %s", e.ID, e.Status)
}

func (e *FinishedError) Is(target error) bool { return target == ErrTaskFinished }

// TimeoutError is returned when a global deadline elapses before a batch settles.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %s", e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// RespawnError describes a failed automatic restart of an unhealthy agent.
type RespawnError struct {
	AgentID string
	Role    Role
	Err     error
}

func (e *RespawnError) Error() string {
	return fmt.Sprintf("respawn of agent %s (%s): %v", e.AgentID, e.Role, e.Err)
}

func (e *RespawnError) Is(target error) bool { return target == ErrRespawn }

func (e *RespawnError) Unwrap() error { return e.Err }
