package metadata

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the index and the storage engine. Callers classify
// with errors.Is; the HTTP layer maps each class to a status code.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("invalid input")

	// ErrTooLarge is a Validation subclass so generic handling still works.
	ErrTooLarge = fmt.Errorf("%w: payload too large", ErrValidation)
)
