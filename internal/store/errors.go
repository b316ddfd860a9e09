package store

import "fmt"

// StateError reports a conditional transition rejected because the row is
// in a different status.
type StateError struct {
	Entity string
	ID     string
	Status string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %s is %s", e.Entity, e.ID, e.Status)
}
