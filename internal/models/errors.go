package models

import (
	"errors"
	"fmt"
)

// ValidationError is bad input detected before any write
type ValidationError struct {
	Entity string
	Msg    string
}

func (e *ValidationError) Error() string {
	if e.Entity == "" {
		return "validation failed: " + e.Msg
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Entity, e.Msg)
}

// PermissionError is a role gate rejection
type PermissionError struct {
	Role   Role
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("role %s is not allowed to %s", e.Role, e.Action)
}

// NotFoundError is a reference to an absent product, user or command
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// StoreError wraps an I/O failure from the document store or identity provider
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store failure during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func Invalid(entity, format string, args ...interface{}) error {
	return &ValidationError{Entity: entity, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(kind, key string) error {
	return &NotFoundError{Kind: kind, Key: key}
}

func Forbidden(role Role, action string) error {
	return &PermissionError{Role: role, Action: action}
}

// StoreFailure wraps err unless it already carries a domain error type.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve *ValidationError
		pe *PermissionError
		ne *NotFoundError
		se *StoreError
	)
	if errors.As(err, &ve) || errors.As(err, &pe) || errors.As(err, &ne) || errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsPermission(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

func IsStore(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
