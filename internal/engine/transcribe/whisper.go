package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anatolykoptev/go_transcribe/internal/engine"
)

// WhisperEngine runs the openai-whisper CLI and reads back its .txt output.
type WhisperEngine struct {
	bin       string
	model     string
	language  string
	runner    engine.CommandRunner
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	readFile  func(name string) ([]byte, error)
}

// NewWhisperEngine returns an engine invoking bin. runner may be nil for os/exec.
func NewWhisperEngine(bin, model, language string, runner engine.CommandRunner) *WhisperEngine {
	if runner == nil {
		runner = engine.ExecRunner{}
	}
	if model == "" {
		model = "small"
	}
	return &WhisperEngine{
		bin:       bin,
		model:     model,
		language:  language,
		runner:    runner,
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		readFile:  os.ReadFile,
	}
}

// Transcribe implements Engine.
func (e *WhisperEngine) Transcribe(ctx context.Context, audioPath string) (string, error) {
	outDir, err := e.mkdirTemp("", "go-transcribe-*")
	if err != nil {
		return "", fmt.Errorf("whisper: temp dir: %w", err)
	}
	defer e.removeAll(outDir)

	args := buildWhisperArgs(audioPath, e.model, e.language, outDir)
	res, err := e.runner.Run(ctx, e.bin, args...)
	if err != nil {
		if line := engine.LastLine(res.Stderr); line != "" {
			return "", fmt.Errorf("whisper: exit %d: %s: %w", res.ExitCode, line, err)
		}
		return "", fmt.Errorf("whisper: %w", err)
	}

	txtPath := filepath.Join(outDir, transcriptBase(audioPath)+".txt")
	data, err := e.readFile(txtPath)
	if err != nil {
		return "", fmt.Errorf("whisper: completed but transcript is missing: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Close implements Engine.
func (e *WhisperEngine) Close() error { return nil }

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// buildWhisperArgs builds CLI args for a plain-text transcript in outDir.
func buildWhisperArgs(audioPath, model, language, outDir string) []string {
	args := []string{
		audioPath,
		"--model", model,
		"--output_format", "txt",
		"--output_dir", outDir,
		"--verbose", "False",
		"--fp16", "False",
	}
	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "--language", lang)
	}
	return args
}

// transcriptBase is the name whisper gives its output: the input base without extension.
func transcriptBase(audioPath string) string {
	base := filepath.Base(audioPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
