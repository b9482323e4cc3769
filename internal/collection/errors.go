package collection

import "fmt"

// SelectionError rejects a structural mutation whose selection is unusable.
// The collection is left untouched.
type SelectionError struct {
	Reason string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("invalid selection: %s", e.Reason)
}

func errEmptySelection() error {
	return &SelectionError{Reason: "no pages selected"}
}

func errFullSelection() error {
	return &SelectionError{Reason: "cannot delete all pages, at least one must remain"}
}
