package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateEvent(e Event) error {
	if e.ID == "" {
		return &ValidationError{
			Field:   "id",
			Message: "event ID is required",
		}
	}

	if e.TimestampMs < 0 {
		return &ValidationError{
			Field:   "timestampMs",
			Message: "event timestamp cannot be negative",
		}
	}

	return nil
}
