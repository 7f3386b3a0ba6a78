package platform

// NewPlatform creates the implementation compiled for the current OS
func NewPlatform() (Platform, error) {
	return newPlatform()
}

// UnsupportedPlatformError is returned on an OS without an implementation
type UnsupportedPlatformError struct {
	OS string
}

func (e *UnsupportedPlatformError) Error() string {
	return "unsupported platform: " + e.OS
}
