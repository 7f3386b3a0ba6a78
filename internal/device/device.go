package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// IDSource yields a machine identifier
type IDSource interface {
	GetDeviceID() (string, error)
}

// ResolveDeviceID returns the configured id, else a stable hash of the machine id,
// else a fresh UUID.
func ResolveDeviceID(existingID string, source IDSource) string {
	if id := strings.TrimSpace(existingID); id != "" {
		return id
	}

	if source != nil {
		if machineID, err := source.GetDeviceID(); err == nil && machineID != "" {
			// the raw machine id is not sent over the wire
			sum := sha256.Sum256([]byte(machineID))
			return "dev-" + hex.EncodeToString(sum[:8])
		}
	}

	return uuid.New().String()
}

// NewSessionID identifies one agent run; used as the relay client id
func NewSessionID(deviceID string) string {
	short := strings.SplitN(uuid.New().String(), "-", 2)[0]
	if deviceID == "" {
		return "escort-" + short
	}
	return "escort-" + deviceID + "-" + short
}
