//go:build !windows && !darwin && !linux

package platform

import "runtime"

func newPlatform() (Platform, error) {
	return nil, &UnsupportedPlatformError{OS: runtime.GOOS}
}
