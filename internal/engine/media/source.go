package media

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/anatolykoptev/go_transcribe/internal/engine"
)

// Kind tells the fetcher which strategy populates the local file.
type Kind string

const (
	KindDirect   Kind = "direct"   // plain HTTP GET of a media file
	KindPlatform Kind = "platform" // video page handed to the extraction tool
	KindUpload   Kind = "upload"   // bytes supplied by the client
)

// DirectExtensions are the URL suffixes fetched with a plain GET.
var DirectExtensions = []string{".mp3", ".wav", ".m4a", ".mp4", ".aac", ".ogg", ".flac"}

// Source is a resolved input: where the bytes come from and the absolute
// local path they must land at.
type Source struct {
	URL      string
	Kind     Kind
	Path     string
	FileName string
}

// Resolver classifies URLs and assigns local paths under dir.
type Resolver struct {
	dir   string
	codec string
}

// NewResolver returns a Resolver writing under uploadDir. codec is the
// audio format the extraction tool produces (e.g. "mp3").
func NewResolver(uploadDir, codec string) *Resolver {
	if codec == "" {
		codec = "mp3"
	}
	return &Resolver{dir: uploadDir, codec: strings.TrimPrefix(codec, ".")}
}

// Resolve canonicalizes rawURL, classifies it and computes the absolute
// target path for job. No file is created.
func (r *Resolver) Resolve(rawURL string, job Job) (Source, error) {
	canonical, err := CanonicalURL(rawURL)
	if err != nil {
		return Source{}, err
	}

	kind := Classify(canonical)
	ext := "." + r.codec
	if kind == KindDirect {
		ext = strings.ToLower(path.Ext(urlPath(canonical)))
	}

	abs, err := filepath.Abs(filepath.Join(r.dir, job.DownloadName(ext)))
	if err != nil {
		return Source{}, engine.NewError(engine.KindInternal, "resolve", "cannot resolve local path", err)
	}
	return Source{
		URL:      canonical,
		Kind:     kind,
		Path:     abs,
		FileName: filepath.Base(abs),
	}, nil
}

// CanonicalURL validates rawURL and rewrites short-form platform links
// (youtube.com/shorts/<id>) to the standard watch URL.
func CanonicalURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", engine.NewError(engine.KindInvalidInput, "resolve", "file_url is required", nil)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", engine.NewError(engine.KindInvalidInput, "resolve", "Invalid URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", engine.NewError(engine.KindInvalidInput, "resolve", "Invalid URL: scheme must be http or https", nil)
	}
	if u.Host == "" {
		return "", engine.NewError(engine.KindInvalidInput, "resolve", "Invalid URL: missing host", nil)
	}

	if id, ok := shortsVideoID(trimmed); ok {
		return "https://www.youtube.com/watch?v=" + id, nil
	}
	return trimmed, nil
}

// shortsVideoID extracts the identifier following "youtube.com/shorts/",
// up to the first query, fragment or path separator.
func shortsVideoID(rawURL string) (string, bool) {
	const marker = "youtube.com/shorts/"
	i := strings.Index(rawURL, marker)
	if i < 0 {
		return "", false
	}
	id := rawURL[i+len(marker):]
	if end := strings.IndexAny(id, "?#/"); end >= 0 {
		id = id[:end]
	}
	if id == "" {
		return "", false
	}
	return id, true
}

// Classify reports KindDirect when the URL path ends in a known media
// extension (case-insensitive), KindPlatform otherwise.
func Classify(rawURL string) Kind {
	p := strings.ToLower(urlPath(rawURL))
	for _, ext := range DirectExtensions {
		if strings.HasSuffix(p, ext) {
			return KindDirect
		}
	}
	return KindPlatform
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}
