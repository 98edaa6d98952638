package util

import (
	"github.com/google/uuid"
)

const MinPasswordLength = 8

func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	return uuid.Validate(s) == nil
}
