package notify

import "fmt"

// PanicError records a sender that panicked during delivery.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("notify: sender panicked: %v", e.Value)
}
