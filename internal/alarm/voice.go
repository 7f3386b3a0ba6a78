package alarm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrRecognizerUnavailable means speech capture cannot run on this host
	ErrRecognizerUnavailable = errors.New("speech recognition unavailable")
	// ErrNoSpeech means the engine timed out without hearing anything
	ErrNoSpeech = errors.New("no speech detected")
)

// Recognizer captures one utterance
type Recognizer interface {
	Listen(ctx context.Context) (string, error)
}

// CommandRecognizer runs an external speech-to-text command per utterance. The
// command must print the transcript on stdout and exit.
type CommandRecognizer struct {
	args    []string
	timeout time.Duration
}

// NewCommandRecognizer creates a recognizer. Empty args yields one that always
// reports ErrRecognizerUnavailable.
func NewCommandRecognizer(args []string, timeout time.Duration) *CommandRecognizer {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &CommandRecognizer{args: args, timeout: timeout}
}

func (r *CommandRecognizer) Listen(ctx context.Context) (string, error) {
	if len(r.args) == 0 {
		return "", ErrRecognizerUnavailable
	}

	listenCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(listenCtx, r.args[0], r.args[1:]...)
	cmd.Stdout = &stdout

	err := cmd.Run()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if errors.Is(listenCtx.Err(), context.DeadlineExceeded) {
		return "", ErrNoSpeech
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %v", ErrRecognizerUnavailable, err)
		}
		return "", fmt.Errorf("speech command failed: %w", err)
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
