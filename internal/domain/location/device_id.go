package location

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// DeviceID is the sanitized identity of a tracked device.
type DeviceID string

var invalidIDChars = regexp.MustCompile(`[^A-Za-z0-9_\-]`)

// SanitizeDeviceID replaces every character outside [A-Za-z0-9_-] with '_'.
func SanitizeDeviceID(raw string) DeviceID {
	return DeviceID(invalidIDChars.ReplaceAllString(raw, "_"))
}

// NewAnonymousID returns an id for devices that did not identify themselves.
func NewAnonymousID() DeviceID {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return DeviceID("anon_" + hex[len(hex)-8:])
}

// ResolveDeviceID sanitizes raw, generating an anonymous id when it is empty.
func ResolveDeviceID(raw string) DeviceID {
	if raw == "" {
		return NewAnonymousID()
	}
	return SanitizeDeviceID(raw)
}

func (id DeviceID) String() string {
	return string(id)
}
