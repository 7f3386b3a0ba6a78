//go:build linux
// +build linux

package platform

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

type linuxImpl struct {
	tty *os.File
}

func newPlatform() (Platform, error) {
	p := &linuxImpl{}
	// headless hosts have no controlling terminal; Beep then only waits
	if tty, err := os.OpenFile("/dev/tty", os.O_WRONLY, 0); err == nil {
		p.tty = tty
	}
	return p, nil
}

// Beep rings the terminal bell. The frequency cannot be controlled here.
func (p *linuxImpl) Beep(freqHz int, d time.Duration) error {
	if p.tty != nil {
		if _, err := p.tty.Write([]byte("\a")); err != nil {
			return fmt.Errorf("bell failed: %w", err)
		}
	}
	time.Sleep(d)
	return nil
}

func (p *linuxImpl) GetDeviceID() (string, error) {
	if data, err := os.ReadFile("/etc/machine-id"); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	hostname, _ := os.Hostname()
	if hostname != "" {
		return hostname, nil
	}
	return "", fmt.Errorf("no machine identifier available")
}

func (p *linuxImpl) GetSystemInfo() (*SystemInfo, error) {
	hostname, _ := os.Hostname()
	return &SystemInfo{
		OS:        "linux",
		OSVersion: runtime.GOOS,
		Arch:      runtime.GOARCH,
		Hostname:  hostname,
	}, nil
}

func (p *linuxImpl) OpenBrowser(url string) error {
	// Try common Linux browser commands
	browsers := []string{"xdg-open", "x-www-browser", "firefox", "google-chrome", "chromium"}
	for _, browser := range browsers {
		cmd := exec.Command(browser, url)
		if err := cmd.Run(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no browser found")
}
