package utils

import "github.com/google/uuid"

// IsUUID reports whether s parses as a UUID. Path params are checked before
// hitting the database so garbage ids turn into 400s, not scans.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
