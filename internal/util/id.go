package util

import (
	"strings"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	value := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return value
	}
	return prefix + "_" + value
}

func NewUUID() string {
	return uuid.NewString()
}
