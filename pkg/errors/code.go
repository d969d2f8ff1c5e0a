package errors

import (
	"fmt"

	cockroacherrors "github.com/cockroachdb/errors"
)

// Code enumerates the kernel-wide error taxonomy.
type Code int

const (
	NONE Code = iota
	DATABASE_ALREADY_EXISTS
	DATABASE_NOT_EXISTS
	COLLECTION_ALREADY_EXISTS
	COLLECTION_NOT_EXISTS
	COLLECTION_DROPPED
	SQL_PARSE_ERROR
	CREATE_PHYSICAL_PLAN_ERROR
	INDEX_CREATE_FAIL
	UNRECOGNIZED_FUNCTION
	INCORRECT_FUNCTION_ARGUMENT
	WRITE_CONFLICT
	OTHER_ERROR
)

func (c Code) String() string {
	switch c {
	case NONE:
		return "NONE"
	case DATABASE_ALREADY_EXISTS:
		return "DATABASE_ALREADY_EXISTS"
	case DATABASE_NOT_EXISTS:
		return "DATABASE_NOT_EXISTS"
	case COLLECTION_ALREADY_EXISTS:
		return "COLLECTION_ALREADY_EXISTS"
	case COLLECTION_NOT_EXISTS:
		return "COLLECTION_NOT_EXISTS"
	case COLLECTION_DROPPED:
		return "COLLECTION_DROPPED"
	case SQL_PARSE_ERROR:
		return "SQL_PARSE_ERROR"
	case CREATE_PHYSICAL_PLAN_ERROR:
		return "CREATE_PHYSICAL_PLAN_ERROR"
	case INDEX_CREATE_FAIL:
		return "INDEX_CREATE_FAIL"
	case UNRECOGNIZED_FUNCTION:
		return "UNRECOGNIZED_FUNCTION"
	case INCORRECT_FUNCTION_ARGUMENT:
		return "INCORRECT_FUNCTION_ARGUMENT"
	case WRITE_CONFLICT:
		return "WRITE_CONFLICT"
	default:
		return "OTHER_ERROR"
	}
}

// KernelError is the carrier type every external-facing operation returns
// its failure as: a stable Code plus a human what string, with the
// underlying cause preserved for Wrap/Is/As chains via cockroachdb/errors.
type KernelError struct {
	Code  Code
	What  string
	cause error
}

func New(code Code, what string) *KernelError {
	return &KernelError{Code: code, What: what}
}

func Wrap(code Code, cause error, what string) *KernelError {
	return &KernelError{Code: code, What: what, cause: cause}
}

func (e *KernelError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.What, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.What)
}

func (e *KernelError) Unwrap() error { return e.cause }

// CodeOf extracts the Code carried by err, walking the cause chain, and
// returns OTHER_ERROR for anything not produced through this package.
func CodeOf(err error) Code {
	var ke *KernelError
	if cockroacherrors.As(err, &ke) {
		return ke.Code
	}
	return OTHER_ERROR
}
