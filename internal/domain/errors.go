package domain

import (
	"errors"
	"fmt"
)

// Sentinels matched with errors.Is against the typed errors below.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
)

// ConflictReason names the business rule that denied an operation.
type ConflictReason string

const (
	ReasonStationOccupied      ConflictReason = "StationOccupied"
	ReasonUserAlreadyLeased    ConflictReason = "UserAlreadyLeased"
	ReasonStationNotAvailable  ConflictReason = "StationNotAvailable"
	ReasonAlreadyReleased      ConflictReason = "AlreadyReleased"
	ReasonDuplicateAddress     ConflictReason = "DuplicateAddress"
	ReasonStateManagedByLeases ConflictReason = "StateManagedByLeases"
	ReasonDuplicateUsername    ConflictReason = "DuplicateUsername"
)

type NotFoundError struct {
	Entity string
	ID     any
}

func NotFound(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError is a business-rule denial. State is set for
// StationNotAvailable and carries the station's current state.
type ConflictError struct {
	Reason ConflictReason
	State  State
	Msg    string
}

func Conflict(reason ConflictReason, msg string) *ConflictError {
	return &ConflictError{Reason: reason, Msg: msg}
}

func (e *ConflictError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
	}
	return string(e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// IsConflict reports whether err is a ConflictError with the given reason.
func IsConflict(err error, reason ConflictReason) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Reason == reason
}
