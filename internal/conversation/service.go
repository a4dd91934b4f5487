// ABOUTME: Conversation orchestrator driving each exchange through its stages
// ABOUTME: Context assembly, attachment transform, streamed generation, then persistence

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/skyhammer/internal/attach"
	"github.com/2389/skyhammer/internal/model"
	"github.com/2389/skyhammer/internal/prompt"
	"github.com/2389/skyhammer/internal/store"
)

// titlePromptFmt asks the model for a short conversation title. Mirrors the
// title derivation used for brand-new conversations.
const titlePromptFmt = "Generate a short, catchy title (2-5 words) for a conversation " +
	"that starts with this message: %q. Respond with only the title, no additional text."

// maxTitleWords caps generated conversation titles.
const maxTitleWords = 5

// Store defines what the orchestrator needs from storage.
type Store interface {
	GetMessages(ctx context.Context, conversationID string) ([]store.Message, error)
	AppendMessage(ctx context.Context, conversationID string, msg store.Message) error
	ListConversations(ctx context.Context) ([]store.ConversationSummary, error)
	GetConversation(ctx context.Context, id string) (*store.ConversationSummary, error)
	CreateConversation(ctx context.Context, id, name string, first store.Message) error
	Instruction(ctx context.Context) (string, error)
}

// Attachments defines what the orchestrator needs from the transform service.
type Attachments interface {
	Process(ctx context.Context, up attach.Upload) ([]model.Part, error)
}

// Service coordinates one exchange: resolve context, transform the
// attachment, stream the generation, and persist the completed turn pair.
type Service struct {
	store       Store
	gateway     model.Gateway
	attachments Attachments
	broadcaster *Broadcaster
	logger      *slog.Logger
}

// New creates the orchestrator service.
func New(st Store, gateway model.Gateway, attachments Attachments, broadcaster *Broadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       st,
		gateway:     gateway,
		attachments: attachments,
		broadcaster: broadcaster,
		logger:      logger.With("component", "conversation"),
	}
}

// SendRequest carries one incoming user message.
type SendRequest struct {
	// ConversationID is empty for a new conversation.
	ConversationID string
	// ExchangeID may be pre-assigned by the transport so clients can
	// subscribe to the live stream before submitting. Assigned when empty.
	ExchangeID string
	Text       string
	Upload     *attach.Upload
}

// SendResponse is the completed exchange.
type SendResponse struct {
	ConversationID   string
	ConversationName string
	ExchangeID       string
	Response         string
	Conversations    []store.ConversationSummary
}

// SendMessage runs one full exchange. Any failure before generation aborts
// without persisting or broadcasting anything; once generation has started,
// exactly one terminal stream event is published, success or failure, and
// only a successful exchange is persisted.
func (s *Service) SendMessage(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	if strings.TrimSpace(req.Text) == "" && req.Upload == nil {
		return nil, fmt.Errorf("empty message")
	}

	// The staged upload is ours until the transform service takes it over;
	// every earlier exit must remove it.
	uploadOwned := req.Upload != nil
	defer func() {
		if uploadOwned {
			s.removeUpload(req.Upload.Path)
		}
	}()

	// A client disconnect after submission must not abort the exchange:
	// everything from context resolution through persistence runs detached
	// from the request context. Attachment jobs are only awaited or failed,
	// never cancelled by the caller; the transform service applies its own
	// wait timeout.
	ctx = context.WithoutCancel(ctx)

	exchangeID := req.ExchangeID
	if exchangeID == "" {
		exchangeID = uuid.New().String()
	}

	conversationID := req.ConversationID
	isNew := conversationID == ""
	if isNew {
		conversationID = uuid.New().String()
	}

	var conversationName string
	if !isNew {
		conv, err := s.store.GetConversation(ctx, conversationID)
		switch {
		case err == store.ErrNotFound:
			// Caller-supplied id for a conversation we have never seen:
			// treat it as new so it still gets a name
			isNew = true
		case err != nil:
			return nil, fmt.Errorf("resolving conversation: %w", err)
		default:
			conversationName = conv.Name
		}
	}

	logger := s.logger.With("exchange_id", exchangeID, "conversation_id", conversationID)
	logger.Debug("exchange received", "new_conversation", isNew, "has_upload", req.Upload != nil)

	instruction, err := s.store.Instruction(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading instruction: %w", err)
	}
	history, err := s.store.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	var attachmentParts []model.Part
	var fileRef *store.FileRef
	if req.Upload != nil {
		fileRef = &store.FileRef{
			OriginalName: req.Upload.OriginalName,
			StoredName:   storedName(req.Upload.Path),
			MediaType:    req.Upload.MediaType,
			Path:         req.Upload.Path,
		}
		uploadOwned = false // Process removes the file on every path
		attachmentParts, err = s.attachments.Process(ctx, *req.Upload)
		if err != nil {
			logger.Error("attachment processing failed", "error", err)
			return nil, err
		}
	}

	turns := prompt.Assemble(instruction, history, req.Text, attachmentParts)

	response, err := s.generate(ctx, exchangeID, turns)
	if err != nil {
		logger.Error("generation failed", "error", err)
		return nil, err
	}

	userMsg := store.Message{Role: store.RoleUser, Content: req.Text, File: fileRef}
	modelMsg := store.Message{Role: store.RoleModel, Content: response}

	if isNew {
		conversationName = s.deriveTitle(ctx, req.Text)
		if err := s.store.CreateConversation(ctx, conversationID, conversationName, userMsg); err != nil {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}
	} else {
		if err := s.store.AppendMessage(ctx, conversationID, userMsg); err != nil {
			return nil, fmt.Errorf("recording user message: %w", err)
		}
	}
	if err := s.store.AppendMessage(ctx, conversationID, modelMsg); err != nil {
		return nil, fmt.Errorf("recording model message: %w", err)
	}

	conversations, err := s.store.ListConversations(ctx)
	if err != nil {
		// The exchange itself succeeded and is persisted; a stale sidebar
		// is better than reporting failure now
		logger.Warn("listing conversations failed", "error", err)
		conversations = nil
	}

	logger.Debug("exchange complete", "response_chars", len(response))
	return &SendResponse{
		ConversationID:   conversationID,
		ConversationName: conversationName,
		ExchangeID:       exchangeID,
		Response:         response,
		Conversations:    conversations,
	}, nil
}

// generate streams the model output, publishing every chunk and accumulating
// the full response. Exactly one terminal event is published per call, on
// both success and failure paths.
func (s *Service) generate(ctx context.Context, exchangeID string, turns []model.Turn) (string, error) {
	stream, err := s.gateway.GenerateStream(ctx, turns)
	if err != nil {
		s.broadcaster.Publish(exchangeID, StreamEvent{Err: safeMessage(err), Done: true})
		return "", err
	}

	var sb strings.Builder
	terminal := false
	for chunk := range stream {
		if chunk.Err != nil {
			s.broadcaster.Publish(exchangeID, StreamEvent{Err: safeMessage(chunk.Err), Done: true})
			return "", chunk.Err
		}
		if chunk.Text != "" {
			sb.WriteString(chunk.Text)
			s.broadcaster.Publish(exchangeID, StreamEvent{Text: chunk.Text})
		}
		if chunk.Done {
			s.broadcaster.Publish(exchangeID, StreamEvent{Done: true})
			terminal = true
		}
	}
	if !terminal {
		// The gateway contract promises a done sentinel; cover a closed
		// stream without one so listeners are never left hanging
		s.broadcaster.Publish(exchangeID, StreamEvent{Done: true})
	}

	return sb.String(), nil
}

// deriveTitle asks the model for a short title for a new conversation,
// falling back to the leading words of the message when that fails. A failed
// title must not discard an otherwise successful exchange.
func (s *Service) deriveTitle(ctx context.Context, message string) string {
	turns := []model.Turn{{
		Role:  store.RoleUser,
		Parts: []model.Part{model.TextPart(fmt.Sprintf(titlePromptFmt, message))},
	}}

	title, err := s.gateway.GenerateOnce(ctx, turns)
	if err != nil {
		s.logger.Warn("title generation failed", "error", err)
		title = ""
	}

	title = clampWords(strings.TrimSpace(title), maxTitleWords)
	if title == "" {
		title = clampWords(strings.TrimSpace(message), maxTitleWords)
	}
	if title == "" {
		title = "New Conversation"
	}
	return title
}

func clampWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

func storedName(path string) string {
	return filepath.Base(path)
}

// removeUpload deletes a staged upload that never reached the transform
// service, which otherwise owns the file's lifetime.
func (s *Service) removeUpload(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("removing staged upload failed", "path", path, "error", err)
	}
}

// safeMessage maps an internal error to the user-facing text published on
// the live stream. Raw error detail stays in the logs.
func safeMessage(err error) string {
	switch {
	case errors.Is(err, model.ErrRateLimited):
		return "The model is handling too many requests right now. Please try again in a moment."
	case errors.Is(err, model.ErrInvalidContent):
		return "The attached content could not be understood by the model."
	default:
		return "An error occurred while processing your request."
	}
}
