package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// RemoteEngine calls an OpenAI-compatible /v1/audio/transcriptions endpoint.
type RemoteEngine struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewRemoteEngine returns an engine posting to baseURL. The request deadline
// comes from the context, so client should not carry its own timeout.
func NewRemoteEngine(baseURL, apiKey, model string, client *http.Client) *RemoteEngine {
	if client == nil {
		client = &http.Client{}
	}
	if model == "" {
		model = "whisper-1"
	}
	return &RemoteEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  client,
	}
}

type remoteResponse struct {
	Text string `json:"text"`
}

// Transcribe implements Engine. The audio is streamed into the multipart body
// rather than buffered, so memory use does not grow with the file.
func (e *RemoteEngine) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("remote: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(e.writeForm(mw, f, filepath.Base(audioPath)))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/audio/transcriptions", pr)
	if err != nil {
		return "", fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("remote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("remote: http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("remote: decode response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

func (e *RemoteEngine) writeForm(mw *multipart.Writer, audio io.Reader, name string) error {
	if err := mw.WriteField("model", e.model); err != nil {
		return err
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return err
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return fmt.Errorf("remote: read audio: %w", err)
	}
	return mw.Close()
}

// Close implements Engine.
func (e *RemoteEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
