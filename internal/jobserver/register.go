// Package jobserver exposes the transcription pipeline over HTTP and as MCP
// tools on the same mux.
package jobserver

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_transcribe/internal/engine"
	"github.com/anatolykoptev/go_transcribe/internal/engine/pipeline"
	"github.com/anatolykoptev/go_transcribe/internal/engine/store"
)

// TranscribeURLInput is the input of the transcribe_url tool.
type TranscribeURLInput struct {
	FileURL string `json:"file_url" jsonschema:"Direct media URL (.mp3, .wav, .m4a, .mp4, .aac, .ogg, .flac) or a video page URL such as YouTube"`
	UserID  int64  `json:"user_id,omitempty" jsonschema:"Owner of the stored record (default: 0)"`
}

// GetTranscriptInput is the input of the get_transcript tool.
type GetTranscriptInput struct {
	Filename string `json:"filename" jsonschema:"Transcript filename returned by transcribe_url, e.g. transcription_2024-01-02_03-04-05_ab12cd34.txt"`
}

// GetTranscriptOutput is the output of the get_transcript tool.
type GetTranscriptOutput struct {
	Filename   string `json:"filename"`
	Transcript string `json:"transcript"`
}

// ListTranscriptionsInput is the input of the list_transcriptions tool.
type ListTranscriptionsInput struct {
	UserID int64 `json:"user_id" jsonschema:"Owner whose records to list"`
	Limit  int   `json:"limit,omitempty" jsonschema:"Maximum records to return (default 20, max 200)"`
}

// ListTranscriptionsOutput is the output of the list_transcriptions tool.
type ListTranscriptionsOutput struct {
	UserID int64           `json:"user_id"`
	Items  []store.Summary `json:"items"`
}

// ListJobsOutput is the output of the transcription_jobs tool.
type ListJobsOutput struct {
	Jobs []pipeline.JobInfo `json:"jobs"`
}

// RegisterTools registers the transcription tools on the given MCP server:
// transcribe_url, get_transcript, list_transcriptions, transcription_jobs.
func RegisterTools(server *mcp.Server, p Pipeline) {
	registerTranscribeURL(server, p)
	registerGetTranscript(server, p)
	registerListTranscriptions(server, p)
	registerListJobs(server, p)
}

// toolError converts a pipeline error into the client-safe message.
func toolError(err error) error {
	return errors.New(engine.PublicMessage(err))
}

func registerTranscribeURL(server *mcp.Server, p Pipeline) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "transcribe_url",
		Description: "Download audio from a URL (direct media file or a video page handled by yt-dlp), transcribe it with Whisper and store the result. Returns the transcript text and the transcript filename for later retrieval.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input TranscribeURLInput) (*mcp.CallToolResult, pipeline.Result, error) {
		if input.FileURL == "" {
			return nil, pipeline.Result{}, errors.New("file_url is required")
		}
		res, err := p.TranscribeURL(ctx, input.FileURL, input.UserID)
		if err != nil {
			return nil, pipeline.Result{}, toolError(err)
		}
		return nil, res, nil
	})
}

func registerGetTranscript(server *mcp.Server, p Pipeline) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_transcript",
		Description: "Fetch a previously produced transcript by its filename.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input GetTranscriptInput) (*mcp.CallToolResult, GetTranscriptOutput, error) {
		data, err := p.Transcript(ctx, input.Filename)
		if err != nil {
			return nil, GetTranscriptOutput{}, toolError(err)
		}
		return nil, GetTranscriptOutput{Filename: input.Filename, Transcript: string(data)}, nil
	})
}

func registerListTranscriptions(server *mcp.Server, p Pipeline) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_transcriptions",
		Description: "List stored transcription records for a user, newest first. Returns metadata only (id, file name, sizes, created_at).",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input ListTranscriptionsInput) (*mcp.CallToolResult, ListTranscriptionsOutput, error) {
		items, err := p.History(ctx, input.UserID, input.Limit)
		if err != nil {
			return nil, ListTranscriptionsOutput{}, toolError(err)
		}
		return nil, ListTranscriptionsOutput{UserID: input.UserID, Items: items}, nil
	})
}

func registerListJobs(server *mcp.Server, p Pipeline) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "transcription_jobs",
		Description: "List active and recently finished transcription jobs with their stage (queued, fetching, transcribing, storing, done, failed, cancelled).",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, ListJobsOutput, error) {
		return nil, ListJobsOutput{Jobs: p.Jobs()}, nil
	})
}
