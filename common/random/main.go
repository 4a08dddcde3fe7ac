// Package random collects the identifier and key generation helpers.
package random

import (
	"strings"

	gutils "github.com/Laisky/go-utils/v6"
	"github.com/google/uuid"
)

// KeyCharLength is the number of random characters after the "sk-" prefix.
const KeyCharLength = 48

// GetUUID returns a dashless uuid string.
func GetUUID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// GenerateAPIKey returns a fresh inbound key in the sk- format.
func GenerateAPIKey() string {
	return "sk-" + gutils.RandomStringWithLength(KeyCharLength)
}

// GetRandomString returns length random alphanumeric characters.
func GetRandomString(length int) string {
	return gutils.RandomStringWithLength(length)
}
