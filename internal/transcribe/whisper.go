// ABOUTME: Whisper-backed Transcriber implementation
// ABOUTME: Sends the extracted audio file to the remote transcription API

package transcribe

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// WhisperTranscriber implements Transcriber via the OpenAI audio API.
type WhisperTranscriber struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewWhisperTranscriber creates a transcriber. Empty model defaults to
// whisper-1; empty baseURL uses the public endpoint.
func NewWhisperTranscriber(apiKey, baseURL, model string, logger *slog.Logger) *WhisperTranscriber {
	if model == "" {
		model = openai.Whisper1
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &WhisperTranscriber{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger.With("component", "whisper"),
	}
}

// Transcribe sends the audio file and returns the transcript text.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: audioPath,
	})
	if err != nil {
		return "", fmt.Errorf("transcribing %s: %w", audioPath, err)
	}

	w.logger.Debug("transcription complete", "audio_path", audioPath, "chars", len(resp.Text))
	return resp.Text, nil
}
