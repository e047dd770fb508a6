package storage

import (
	"encoding/json"
	"fmt"

	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/errs"
)

// NotFoundError is returned when a record doesn't exist in the store.
type NotFoundError struct {
	Record string
	ID     string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return e.Record + " not found"
	}
	return e.Record + " not found: " + e.ID
}

func (e NotFoundError) Unwrap() error {
	return errs.ErrNotFound
}

// VersionConflictError is returned when a write names a stale version.
type VersionConflictError struct {
	Record   string
	ID       string
	Expected int64
	Actual   int64
}

func (e VersionConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently: read version %d, stored version %d", e.Record, e.ID, e.Expected, e.Actual)
}

func (e VersionConflictError) Unwrap() error {
	return errs.ErrStateConflict
}

// DuplicateError is returned when a create collides with an existing record.
type DuplicateError struct {
	Record string
	Key    string
}

func (e DuplicateError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Record, e.Key)
}

func (e DuplicateError) Unwrap() error {
	return errs.ErrDuplicate
}

// AppendOnlyError is returned when an update would rewrite key history.
type AppendOnlyError struct {
	Subject string
	Seq     int
}

func (e AppendOnlyError) Error() string {
	return fmt.Sprintf("key history of %s is append-only: record %d changed", e.Subject, e.Seq)
}

func (e AppendOnlyError) Unwrap() error {
	return errs.ErrStateConflict
}

// CheckAppendOnly verifies next extends stored without altering it.
func CheckAppendOnly(subject string, stored, next []did.KeyRecord) error {
	if len(next) < len(stored) {
		return AppendOnlyError{Subject: subject, Seq: len(next)}
	}
	for i := range stored {
		a, err := json.Marshal(stored[i])
		if err != nil {
			return err
		}
		b, err := json.Marshal(next[i])
		if err != nil {
			return err
		}
		if string(a) != string(b) {
			return AppendOnlyError{Subject: subject, Seq: stored[i].Seq}
		}
	}
	return nil
}
