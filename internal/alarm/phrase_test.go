package alarm

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "ciencia confirmada", normalize("  Ciência,   CONFIRMADA! "))
	assert.Equal(t, "", normalize("  ...  "))
}

func TestCommandRecognizer_Transcript(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses echo")
	}

	text, err := NewCommandRecognizer([]string{"echo", " confirmo "}, time.Second).Listen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "confirmo", text)

	_, err = NewCommandRecognizer([]string{"true"}, time.Second).Listen(context.Background())
	assert.ErrorIs(t, err, ErrNoSpeech)
}
