package errors

import (
	"fmt"
)

// DuplicateKeyError reports an insert that would violate a unique index.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key violation: key %q already exists in unique index", e.Key)
}

// IndexNotFoundError reports a lookup against an index name the table
// does not carry.
type IndexNotFoundError struct {
	Name string
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("index %q not found", e.Name)
}
