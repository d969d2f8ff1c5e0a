package errors

import (
	"fmt"
	"testing"
)

func TestSentinelErrorsRenderNonEmpty(t *testing.T) {
	errs := []error{
		&DuplicateKeyError{Key: "k1"},
		&IndexNotFoundError{Name: "i1"},
	}
	for _, e := range errs {
		if e.Error() == "" {
			t.Errorf("Error() returned empty string for %T", e)
		}
	}
}

func TestCodeOfWalksWrapChain(t *testing.T) {
	inner := New(WRITE_CONFLICT, "row already deleted")
	outer := Wrap(OTHER_ERROR, inner, "while applying delete")
	if got := CodeOf(outer); got != OTHER_ERROR {
		t.Errorf("CodeOf(outer) = %v, want OTHER_ERROR", got)
	}
	if got := CodeOf(inner); got != WRITE_CONFLICT {
		t.Errorf("CodeOf(inner) = %v, want WRITE_CONFLICT", got)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != OTHER_ERROR {
		t.Errorf("CodeOf(plain) = %v, want OTHER_ERROR", got)
	}
}
