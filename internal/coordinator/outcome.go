package coordinator

import (
	"fmt"

	"recipebox/internal/upload"
)

// Kind classifies the result of a commit attempt.
type Kind int

const (
	KindSuccess Kind = iota
	KindEmptyFile
	KindExceededMaximumSize
	KindInvalidExtensionOrSignature
	KindUniqueConstraintViolation
	KindConcurrencyConflict
	KindNotFound
	KindIoFailure
	KindCancelled
	KindInconsistent
	KindInternal
)

var kindNames = [...]string{
	KindSuccess:                     "Success",
	KindEmptyFile:                   "EmptyFile",
	KindExceededMaximumSize:         "ExceededMaximumSize",
	KindInvalidExtensionOrSignature: "InvalidExtensionOrSignature",
	KindUniqueConstraintViolation:   "UniqueConstraintViolation",
	KindConcurrencyConflict:         "ConcurrencyConflict",
	KindNotFound:                    "NotFound",
	KindIoFailure:                   "IoFailure",
	KindCancelled:                   "Cancelled",
	KindInconsistent:                "Inconsistent",
	KindInternal:                    "Internal",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Outcome is the typed result of a commit attempt. Only the fields relevant
// to Kind are set. FileName is HTML-encoded.
type Outcome struct {
	Kind     Kind
	State    State
	FileName string
	Size     int64
	LimitMB  int64
	Cause    string
	Err      error
}

// OK reports whether both resources were committed.
func (o Outcome) OK() bool {
	return o.Kind == KindSuccess
}

// Message renders a user-facing description of the outcome.
func (o Outcome) Message() string {
	switch o.Kind {
	case KindSuccess:
		return ""
	case KindEmptyFile:
		return o.validationError(upload.ErrEmpty).Error()
	case KindExceededMaximumSize:
		return o.validationError(upload.ErrTooLarge).Error()
	case KindInvalidExtensionOrSignature:
		return o.validationError(upload.ErrInvalidSignature).Error()
	case KindUniqueConstraintViolation:
		if o.Cause == "" {
			return "The change conflicts with an existing record."
		}
		return fmt.Sprintf("Another record already uses this %s.", o.Cause)
	case KindConcurrencyConflict:
		return "The record was changed by someone else. Reload it and try again."
	case KindNotFound:
		return "The record no longer exists."
	case KindIoFailure:
		if o.FileName == "" {
			return "The file could not be uploaded. Please try again."
		}
		return fmt.Sprintf("The file (%s) could not be uploaded. Please try again.", o.FileName)
	case KindCancelled:
		return "The operation was cancelled."
	case KindInconsistent:
		return "The change was saved but its image could not be stored. An administrator has been notified."
	default:
		return "An internal error occurred. Please try again later."
	}
}

func (o Outcome) validationError(kind error) *upload.ValidationError {
	return &upload.ValidationError{
		Kind:     kind,
		FileName: o.FileName,
		Size:     o.Size,
		LimitMB:  o.LimitMB,
	}
}
