package domain

import "github.com/google/uuid"

// NewID returns prefix-<uuidv7>. v7 keeps IDs roughly time-ordered.
func NewID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "-" + id.String()
}
