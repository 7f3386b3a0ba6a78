package platform

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlatform_CurrentOS(t *testing.T) {
	p, err := NewPlatform()

	switch runtime.GOOS {
	case "linux", "darwin", "windows":
		require.NoError(t, err)
		require.NotNil(t, p)

		info, err := p.GetSystemInfo()
		require.NoError(t, err)
		assert.Equal(t, runtime.GOOS, info.OS)
	default:
		var unsupported *UnsupportedPlatformError
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, runtime.GOOS, unsupported.OS)
	}
}

func TestUnsupportedPlatformError(t *testing.T) {
	err := &UnsupportedPlatformError{OS: "plan9"}
	assert.Equal(t, "unsupported platform: plan9", err.Error())
}
