// Package transcribe runs the speech-to-text capability on a bounded pool of
// workers, each owning its own engine instance.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"

	"github.com/anatolykoptev/go_transcribe/internal/engine"
)

// Engine turns a local audio file into transcript text. Implementations are
// not required to be safe for concurrent use: the Executor gives every
// worker its own instance.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
	Close() error
}

// Factory builds one Engine instance. It is called once per worker at startup.
type Factory func() (Engine, error)

// Options selects and configures an engine implementation.
type Options struct {
	Kind       string // engine.EngineWhisper, engine.EngineRemote or engine.EngineStub
	WhisperBin string
	Model      string
	Language   string
	RemoteURL  string
	APIKey     string
	Runner     engine.CommandRunner
	HTTPClient *http.Client
}

// ErrEngineUnavailable indicates the configured backend cannot run on this host.
var ErrEngineUnavailable = errors.New("transcribe: engine unavailable")

// NewFactory validates opts once and returns a Factory for the selected kind.
func NewFactory(opts Options, logger *slog.Logger) (Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch opts.Kind {
	case engine.EngineStub:
		logger.Warn("stub engine selected by configuration")
		return func() (Engine, error) { return NewStubEngine(opts.Model), nil }, nil

	case engine.EngineRemote:
		if opts.RemoteURL == "" {
			return nil, fmt.Errorf("%w: remote url is empty", ErrEngineUnavailable)
		}
		return func() (Engine, error) {
			return NewRemoteEngine(opts.RemoteURL, opts.APIKey, opts.Model, opts.HTTPClient), nil
		}, nil

	case engine.EngineWhisper, "":
		bin := opts.WhisperBin
		if bin == "" {
			bin = "whisper"
		}
		if opts.Runner == nil {
			resolved, err := exec.LookPath(bin)
			if err != nil {
				return nil, fmt.Errorf("%w: %s not found: %v", ErrEngineUnavailable, bin, err)
			}
			bin = resolved
		}
		logger.Info("whisper engine ready", slog.String("bin", bin), slog.String("model", opts.Model))
		return func() (Engine, error) {
			return NewWhisperEngine(bin, opts.Model, opts.Language, opts.Runner), nil
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrEngineUnavailable, opts.Kind)
	}
}
