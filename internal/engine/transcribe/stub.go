package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StubEngine produces deterministic transcripts without running inference.
type StubEngine struct {
	model string
}

// NewStubEngine returns an Engine that derives placeholder text from the file.
func NewStubEngine(model string) *StubEngine {
	if model == "" {
		model = "stub"
	}
	return &StubEngine{model: model}
}

// Transcribe implements Engine.
func (e *StubEngine) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	info, err := os.Stat(audioPath)
	if err != nil {
		return "", fmt.Errorf("stub: %w", err)
	}
	return fmt.Sprintf("[stub:%s] %s: %d bytes of audio", e.model, filepath.Base(audioPath), info.Size()), nil
}

// Close implements Engine.
func (e *StubEngine) Close() error { return nil }
