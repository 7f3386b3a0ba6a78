//go:build windows
// +build windows

package platform

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sys/windows"
)

type windowsImpl struct{}

var (
	kernel32 = windows.NewLazyDLL("kernel32.dll")
	procBeep = kernel32.NewProc("Beep")
)

func newPlatform() (Platform, error) {
	if err := procBeep.Find(); err != nil {
		return nil, fmt.Errorf("kernel32 Beep unavailable: %w", err)
	}
	return &windowsImpl{}, nil
}

// Beep blocks for the duration of the tone
func (p *windowsImpl) Beep(freqHz int, d time.Duration) error {
	// kernel32 accepts 37..32767 Hz
	if freqHz < 37 || freqHz > 32767 {
		return fmt.Errorf("frequency %d out of range", freqHz)
	}
	ret, _, err := procBeep.Call(uintptr(freqHz), uintptr(d.Milliseconds()))
	if ret == 0 {
		return fmt.Errorf("beep failed: %w", err)
	}
	return nil
}

func (p *windowsImpl) GetDeviceID() (string, error) {
	// Try to get machine GUID from Windows
	cmd := exec.Command("wmic", "csproduct", "get", "uuid")
	output, err := cmd.Output()
	if err == nil {
		lines := strings.Split(string(output), "\n")
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if line != "" && line != "UUID" && len(line) > 10 {
				return line, nil
			}
		}
	}

	hostname, _ := os.Hostname()
	if hostname != "" {
		return hostname, nil
	}
	return "", fmt.Errorf("no machine identifier available")
}

func (p *windowsImpl) GetSystemInfo() (*SystemInfo, error) {
	hostname, _ := os.Hostname()
	return &SystemInfo{
		OS:        "windows",
		OSVersion: runtime.GOOS,
		Arch:      runtime.GOARCH,
		Hostname:  hostname,
	}, nil
}

func (p *windowsImpl) OpenBrowser(url string) error {
	cmd := exec.Command("cmd", "/c", "start", url)
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Start()
}
