//go:build darwin
// +build darwin

package platform

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"
)

type darwinImpl struct{}

func newPlatform() (Platform, error) {
	return &darwinImpl{}, nil
}

func (p *darwinImpl) Beep(freqHz int, d time.Duration) error {
	start := time.Now()
	if err := exec.Command("osascript", "-e", "beep").Run(); err != nil {
		return fmt.Errorf("beep failed: %w", err)
	}
	if rest := d - time.Since(start); rest > 0 {
		time.Sleep(rest)
	}
	return nil
}

func (p *darwinImpl) GetDeviceID() (string, error) {
	hostname, _ := os.Hostname()
	if hostname != "" {
		return hostname, nil
	}
	return "", fmt.Errorf("no machine identifier available")
}

func (p *darwinImpl) GetSystemInfo() (*SystemInfo, error) {
	hostname, _ := os.Hostname()
	return &SystemInfo{
		OS:        "darwin",
		OSVersion: runtime.GOOS,
		Arch:      runtime.GOARCH,
		Hostname:  hostname,
	}, nil
}

func (p *darwinImpl) OpenBrowser(url string) error {
	cmd := exec.Command("open", url)
	return cmd.Run()
}
