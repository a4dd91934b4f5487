// ABOUTME: Abstract capability wrapping the remote generative model
// ABOUTME: Defines content parts, turns, streaming chunks, and the failure taxonomy

package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/skyhammer/internal/store"
)

// ErrRateLimited means the remote quota was exceeded. It is user-facing and
// not retried at this layer.
var ErrRateLimited = errors.New("model rate limited")

// ErrInvalidContent means the gateway rejected a content part, for example
// an unsupported media type.
var ErrInvalidContent = errors.New("invalid content part")

// RemoteError covers any other remote model failure.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("model error (status %d): %s", e.Status, e.Message)
}

// Part is a unit of model input: plain text, binary data tagged with a media
// type, or a remote-file handle. Parts are constructed per request and never
// persisted.
type Part struct {
	Text       string
	Data       []byte
	FileHandle string
	MediaType  string
}

// TextPart builds a plain-text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// BinaryPart builds a binary part tagged with its media type.
func BinaryPart(data []byte, mediaType string) Part {
	return Part{Data: data, MediaType: mediaType}
}

// FilePart builds a remote-file reference part for media the gateway uploads
// out of band.
func FilePart(handle, mediaType string) Part {
	return Part{FileHandle: handle, MediaType: mediaType}
}

// IsText reports whether the part carries plain text only.
func (p Part) IsText() bool {
	return p.Data == nil && p.FileHandle == ""
}

// Turn is one role-tagged entry of the model call payload.
type Turn struct {
	Role  store.Role
	Parts []Part
}

// Chunk is one incremental fragment of streamed model output. The terminal
// chunk always has Done set; a failed generation sets Err on that terminal
// chunk so consumers never rely on channel closure alone.
type Chunk struct {
	Text string
	Err  error
	Done bool
}

// Gateway is the abstract generative model capability.
type Gateway interface {
	// GenerateStream starts a streaming generation. The returned channel is
	// finite and not restartable; its last element has Done=true.
	GenerateStream(ctx context.Context, turns []Turn) (<-chan Chunk, error)

	// GenerateOnce runs a single-shot generation, used for short derived
	// outputs such as conversation titles.
	GenerateOnce(ctx context.Context, turns []Turn) (string, error)
}
