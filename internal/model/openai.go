// ABOUTME: OpenAI-backed implementation of the Gateway interface
// ABOUTME: Maps turns to chat messages, streams chunks, and classifies remote errors

package model

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/2389/skyhammer/internal/store"
)

// chunkBufferSize is the channel buffer for streamed chunks.
const chunkBufferSize = 16

// OpenAIGateway implements Gateway against the OpenAI chat completion API.
type OpenAIGateway struct {
	client    *openai.Client
	model     string
	onceModel string
	logger    *slog.Logger
}

// NewOpenAIGateway creates a gateway for the given API key and chat model.
// baseURL overrides the API endpoint when non-empty (for compatible servers).
// onceModel is used for single-shot completions; empty falls back to the
// chat model.
func NewOpenAIGateway(apiKey, baseURL, chatModel, onceModel string, logger *slog.Logger) *OpenAIGateway {
	if logger == nil {
		logger = slog.Default()
	}
	if onceModel == "" {
		onceModel = chatModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIGateway{
		client:    openai.NewClientWithConfig(cfg),
		model:     chatModel,
		onceModel: onceModel,
		logger:    logger.With("component", "model"),
	}
}

// GenerateStream starts a streaming chat completion. Each received delta is
// forwarded as a Chunk; the terminal chunk has Done=true and carries any
// mid-stream error.
func (g *OpenAIGateway) GenerateStream(ctx context.Context, turns []Turn) (<-chan Chunk, error) {
	messages, err := toMessages(turns)
	if err != nil {
		return nil, err
	}

	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, classify(err)
	}

	out := make(chan Chunk, chunkBufferSize)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- Chunk{Done: true}
				return
			}
			if err != nil {
				g.logger.Error("stream receive failed", "error", err)
				out <- Chunk{Err: classify(err), Done: true}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				out <- Chunk{Text: delta}
			}
		}
	}()

	return out, nil
}

// GenerateOnce runs a single-shot chat completion and returns the full text.
func (g *OpenAIGateway) GenerateOnce(ctx context.Context, turns []Turn) (string, error) {
	messages, err := toMessages(turns)
	if err != nil {
		return "", err
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.onceModel,
		Messages: messages,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &RemoteError{Message: "empty completion response"}
	}
	return resp.Choices[0].Message.Content, nil
}

// toMessages converts role-tagged turns to chat messages. Turns carrying
// only text collapse into a plain content string; image parts become
// image-URL parts with inline data URIs. Binary parts with unsupported media
// types are rejected with ErrInvalidContent.
func toMessages(turns []Turn) ([]openai.ChatCompletionMessage, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		msg := openai.ChatCompletionMessage{Role: toRole(turn.Role)}

		if textOnly(turn.Parts) {
			texts := make([]string, 0, len(turn.Parts))
			for _, p := range turn.Parts {
				texts = append(texts, p.Text)
			}
			msg.Content = strings.Join(texts, "\n")
			messages = append(messages, msg)
			continue
		}

		for _, p := range turn.Parts {
			part, err := toContentPart(p)
			if err != nil {
				return nil, err
			}
			msg.MultiContent = append(msg.MultiContent, part)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func toContentPart(p Part) (openai.ChatMessagePart, error) {
	switch {
	case p.IsText():
		return openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: p.Text,
		}, nil
	case p.Data != nil && strings.HasPrefix(p.MediaType, "image/"):
		uri := fmt.Sprintf("data:%s;base64,%s", p.MediaType, base64.StdEncoding.EncodeToString(p.Data))
		return openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: uri},
		}, nil
	case p.FileHandle != "" && strings.HasPrefix(p.MediaType, "image/"):
		return openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: p.FileHandle},
		}, nil
	default:
		return openai.ChatMessagePart{}, fmt.Errorf("%w: media type %q", ErrInvalidContent, p.MediaType)
	}
}

func textOnly(parts []Part) bool {
	for _, p := range parts {
		if !p.IsText() {
			return false
		}
	}
	return true
}

func toRole(r store.Role) string {
	if r == store.RoleModel {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}

// classify maps a remote API error onto the gateway failure taxonomy.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
		case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
			return fmt.Errorf("%w: %s", ErrInvalidContent, apiErr.Message)
		default:
			return &RemoteError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
		}
	}
	return &RemoteError{Message: err.Error()}
}
