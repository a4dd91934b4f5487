// ABOUTME: HTTP API handlers for chat exchanges and conversation management
// ABOUTME: Provides POST /api/chat plus conversation and instruction endpoints

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/skyhammer/internal/attach"
	"github.com/2389/skyhammer/internal/conversation"
	"github.com/2389/skyhammer/internal/model"
	"github.com/2389/skyhammer/internal/store"
)

// defaultMaxUploadBytes caps a single upload when the config does not.
const defaultMaxUploadBytes = 50 << 20

// Orchestrator runs one chat exchange end to end.
type Orchestrator interface {
	SendMessage(ctx context.Context, req *conversation.SendRequest) (*conversation.SendResponse, error)
}

// ConversationStore is the storage surface the API needs.
type ConversationStore interface {
	GetMessages(ctx context.Context, conversationID string) ([]store.Message, error)
	ListConversations(ctx context.Context) ([]store.ConversationSummary, error)
	GetConversation(ctx context.Context, id string) (*store.ConversationSummary, error)
	RenameConversation(ctx context.Context, id, name string) error
	DeleteConversation(ctx context.Context, id string) error
	ClearMessages(ctx context.Context, conversationID string) error
	Instruction(ctx context.Context) (string, error)
	SetInstruction(ctx context.Context, text string) error
}

// Server exposes the chat API over HTTP.
type Server struct {
	orchestrator Orchestrator
	store        ConversationStore
	broadcaster  *conversation.Broadcaster
	uploadsDir   string
	maxUpload    int64
	logger       *slog.Logger
}

// NewServer creates the API server. maxUpload of 0 uses the default cap.
func NewServer(orch Orchestrator, st ConversationStore, b *conversation.Broadcaster, uploadsDir string, maxUpload int64, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &Server{
		orchestrator: orch,
		store:        st,
		broadcaster:  b,
		uploadsDir:   uploadsDir,
		maxUpload:    maxUpload,
		logger:       logger.With("component", "api"),
	}
}

// Handler returns the route table for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/conversations", s.handleConversations)
	mux.HandleFunc("/api/conversations/", s.handleConversationByID)
	mux.HandleFunc("/api/instruction", s.handleInstruction)
	mux.HandleFunc("/ws", s.handleStream)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// ChatResponse is the JSON response for POST /api/chat.
type ChatResponse struct {
	Response         string             `json:"response"`
	ConversationID   string             `json:"conversationId"`
	ConversationName string             `json:"conversationName"`
	ExchangeID       string             `json:"exchangeId"`
	Conversations    []ConversationInfo `json:"conversations"`
}

// ConversationInfo is the JSON shape of one conversation summary.
type ConversationInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Created     string `json:"created"`
	LastUpdated string `json:"lastUpdated"`
}

// MessageInfo is the JSON shape of one stored message.
type MessageInfo struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	File    *FileInfo `json:"file,omitempty"`
	Created string    `json:"created"`
}

// FileInfo describes an attachment recorded with a message.
type FileInfo struct {
	OriginalName string `json:"originalName"`
	MediaType    string `json:"mediaType"`
}

// handleChat handles POST /api/chat requests.
// Accepts a multipart form with a message, optional conversationId and
// exchangeId fields, and an optional file. The reply is the completed
// exchange; live chunks stream over the /ws endpoint.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	req := &conversation.SendRequest{
		ConversationID: r.FormValue("conversationId"),
		ExchangeID:     r.FormValue("exchangeId"),
		Text:           r.FormValue("message"),
	}

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		upload, saveErr := s.stageUpload(file, header)
		file.Close()
		if saveErr != nil {
			s.logger.Error("failed to stage upload", "error", saveErr)
			s.sendJSONError(w, http.StatusInternalServerError, "failed to store upload")
			return
		}
		req.Upload = upload
	case errors.Is(err, http.ErrMissingFile):
		// Text-only message
	default:
		s.sendJSONError(w, http.StatusBadRequest, "invalid file field")
		return
	}

	if strings.TrimSpace(req.Text) == "" && req.Upload == nil {
		s.sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := s.orchestrator.SendMessage(r.Context(), req)
	if err != nil {
		s.logger.Error("exchange failed", "error", err)
		var perr *attach.ProcessingError
		switch {
		case errors.Is(err, model.ErrRateLimited):
			s.sendJSONError(w, http.StatusTooManyRequests,
				"the model is handling too many requests, try again shortly")
		case errors.As(err, &perr):
			s.sendJSONError(w, http.StatusUnprocessableEntity, "failed to process message")
		default:
			s.sendJSONError(w, http.StatusInternalServerError, "failed to process message")
		}
		return
	}

	out := ChatResponse{
		Response:         resp.Response,
		ConversationID:   resp.ConversationID,
		ConversationName: resp.ConversationName,
		ExchangeID:       resp.ExchangeID,
		Conversations:    toConversationInfos(resp.Conversations),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// stageUpload copies the multipart file into the uploads directory under a
// unique name so processing can outlive the request body.
func (s *Server) stageUpload(file multipart.File, header *multipart.FileHeader) (*attach.Upload, error) {
	if err := os.MkdirAll(s.uploadsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating uploads dir: %w", err)
	}

	name := uuid.New().String() + filepath.Ext(header.Filename)
	path := filepath.Join(s.uploadsDir, name)

	dst, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating upload file: %w", err)
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing upload file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("closing upload file: %w", err)
	}

	mediaType := header.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	return &attach.Upload{
		Path:         path,
		OriginalName: header.Filename,
		MediaType:    mediaType,
	}, nil
}

// handleConversations handles GET /api/conversations.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conversations, err := s.store.ListConversations(r.Context())
	if err != nil {
		s.logger.Error("failed to list conversations", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toConversationInfos(conversations))
}

// handleConversationByID routes /api/conversations/{id} and
// /api/conversations/{id}/messages by method and suffix.
func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	if rest == "" {
		s.sendJSONError(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/messages"); ok {
		switch r.Method {
		case http.MethodGet:
			s.handleGetMessages(w, r, id)
		case http.MethodDelete:
			s.handleClearMessages(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if strings.Contains(rest, "/") {
		s.sendJSONError(w, http.StatusBadRequest, "invalid path")
		return
	}

	switch r.Method {
	case http.MethodPut:
		s.handleRenameConversation(w, r, rest)
	case http.MethodDelete:
		s.handleDeleteConversation(w, r, rest)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleGetMessages handles GET /api/conversations/{id}/messages.
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := s.store.GetConversation(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error("failed to get conversation", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	messages, err := s.store.GetMessages(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get messages", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]MessageInfo, len(messages))
	for i, msg := range messages {
		info := MessageInfo{
			Role:    string(msg.Role),
			Content: msg.Content,
			Created: msg.CreatedAt.Format(time.RFC3339),
		}
		if msg.File != nil {
			info.File = &FileInfo{
				OriginalName: msg.File.OriginalName,
				MediaType:    msg.File.MediaType,
			}
		}
		out[i] = info
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// RenameRequest is the JSON request body for PUT /api/conversations/{id}.
type RenameRequest struct {
	Name string `json:"name"`
}

// handleRenameConversation handles PUT /api/conversations/{id}.
func (s *Server) handleRenameConversation(w http.ResponseWriter, r *http.Request, id string) {
	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	err := s.store.RenameConversation(r.Context(), id, strings.TrimSpace(req.Name))
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to rename conversation", "error", err, "conversation_id", id)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteConversation handles DELETE /api/conversations/{id}.
// Deleting an unknown conversation succeeds; the end state is the same.
func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.store.DeleteConversation(r.Context(), id); err != nil {
		s.logger.Error("failed to delete conversation", "error", err, "conversation_id", id)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearMessages handles DELETE /api/conversations/{id}/messages.
func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request, id string) {
	err := s.store.ClearMessages(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to clear messages", "error", err, "conversation_id", id)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InstructionResponse is the JSON shape of the system instruction.
type InstructionResponse struct {
	Instruction string `json:"instruction"`
}

// handleInstruction handles GET and PUT /api/instruction.
func (s *Server) handleInstruction(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		text, err := s.store.Instruction(r.Context())
		if err != nil {
			s.logger.Error("failed to load instruction", "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(InstructionResponse{Instruction: text})

	case http.MethodPut:
		var req InstructionResponse
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.store.SetInstruction(r.Context(), req.Instruction); err != nil {
			s.logger.Error("failed to set instruction", "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func toConversationInfos(in []store.ConversationSummary) []ConversationInfo {
	out := make([]ConversationInfo, len(in))
	for i, c := range in {
		out[i] = ConversationInfo{
			ID:          c.ID,
			Name:        c.Name,
			Created:     c.Created.Format(time.RFC3339),
			LastUpdated: c.LastUpdated.Format(time.RFC3339),
		}
	}
	return out
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
