// ABOUTME: Transforms uploaded files into model-ingestible content parts
// ABOUTME: OCR degrades softly, transcription failures are fatal, temp files always go

package attach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/2389/skyhammer/internal/model"
)

// defaultWaitTimeout bounds the transcription wait when the processor is
// built without an explicit one.
const defaultWaitTimeout = 5 * time.Minute

// ProcessingError is a hard attachment transform failure. It carries the
// original upload path so callers can account for cleanup.
type ProcessingError struct {
	Path  string
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing attachment %s (%s): %v", e.Path, e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Upload is the file-intake contract: a temporary file the processor owns
// for the duration of the transform.
type Upload struct {
	Path         string
	OriginalName string
	MediaType    string
}

// OCR extracts text from an image file.
type OCR interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// AudioExtractor strips a media file down to an audio-only stream.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, src, dst string) error
}

// Transcripts produces a transcript for an audio file, blocking until the
// underlying job finishes.
type Transcripts interface {
	Transcribe(ctx context.Context, audioPath, mediaType string) (string, error)
}

// Processor converts uploads into content parts.
type Processor struct {
	ocr         OCR
	extractor   AudioExtractor
	transcripts Transcripts
	waitTimeout time.Duration
	logger      *slog.Logger
}

// NewProcessor creates a processor. waitTimeout bounds the transcription
// wait; zero means the default.
func NewProcessor(ocr OCR, extractor AudioExtractor, transcripts Transcripts, waitTimeout time.Duration, logger *slog.Logger) *Processor {
	if waitTimeout <= 0 {
		waitTimeout = defaultWaitTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		ocr:         ocr,
		extractor:   extractor,
		transcripts: transcripts,
		waitTimeout: waitTimeout,
		logger:      logger.With("component", "attach"),
	}
}

// Process transforms one upload into content parts. The temporary upload
// file is removed on every exit path, success or failure. Audio and video
// are handed off by path and never read into memory here.
func (p *Processor) Process(ctx context.Context, up Upload) (parts []model.Part, err error) {
	defer p.remove(up.Path)

	switch {
	case strings.HasPrefix(up.MediaType, "image/"):
		data, err := os.ReadFile(up.Path)
		if err != nil {
			return nil, &ProcessingError{Path: up.Path, Stage: "read", Err: err}
		}
		return p.processImage(ctx, up, data), nil

	case strings.HasPrefix(up.MediaType, "audio/"), strings.HasPrefix(up.MediaType, "video/"):
		return p.processMedia(ctx, up)

	default:
		data, err := os.ReadFile(up.Path)
		if err != nil {
			return nil, &ProcessingError{Path: up.Path, Stage: "read", Err: err}
		}
		if isTextual(up.MediaType, data) {
			return []model.Part{model.TextPart(string(data))}, nil
		}
		return []model.Part{model.BinaryPart(data, up.MediaType)}, nil
	}
}

// processImage always yields the raw image bytes; extracted text rides along
// as an auxiliary part when OCR succeeds. OCR failure is non-fatal.
func (p *Processor) processImage(ctx context.Context, up Upload, data []byte) []model.Part {
	parts := []model.Part{model.BinaryPart(data, up.MediaType)}

	text, err := p.ocr.ExtractText(ctx, up.Path)
	if err != nil {
		p.logger.Warn("OCR failed, continuing without extracted text",
			"path", up.Path, "error", err)
		return parts
	}
	if text = strings.TrimSpace(text); text != "" {
		parts = append(parts, model.TextPart(text))
	}
	return parts
}

// processMedia strips the upload to an audio-only sidecar, queues a
// transcription job, and blocks on its completion. Any failure here is fatal
// to the exchange. The sidecar is removed alongside the upload.
func (p *Processor) processMedia(ctx context.Context, up Upload) ([]model.Part, error) {
	audioPath := up.Path + ".mp3"
	if err := p.extractor.ExtractAudio(ctx, up.Path, audioPath); err != nil {
		return nil, &ProcessingError{Path: up.Path, Stage: "audio extraction", Err: err}
	}
	defer p.remove(audioPath)

	waitCtx, cancel := context.WithTimeout(ctx, p.waitTimeout)
	defer cancel()
	transcript, err := p.transcripts.Transcribe(waitCtx, audioPath, up.MediaType)
	if err != nil {
		return nil, &ProcessingError{Path: up.Path, Stage: "transcription", Err: err}
	}

	return []model.Part{model.TextPart(transcript)}, nil
}

func (p *Processor) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Error("removing temporary file failed", "path", path, "error", err)
	}
}

// isTextual reports whether the upload can be passed through as plain text.
func isTextual(mediaType string, data []byte) bool {
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	switch mediaType {
	case "application/json", "application/xml", "application/yaml":
		return utf8.Valid(data)
	}
	return false
}
