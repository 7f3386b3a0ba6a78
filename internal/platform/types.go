package platform

import "time"

// Platform defines the interface for platform-specific operations
type Platform interface {
	// Beep plays a tone at freqHz for d and returns when the tone ends
	Beep(freqHz int, d time.Duration) error

	// GetDeviceID returns a stable identifier for this machine
	GetDeviceID() (string, error)

	// GetSystemInfo returns system information
	GetSystemInfo() (*SystemInfo, error)

	// OpenBrowser opens the default browser with the given URL
	OpenBrowser(url string) error
}

// SystemInfo contains system information
type SystemInfo struct {
	OS        string
	OSVersion string
	Arch      string
	Hostname  string
}
