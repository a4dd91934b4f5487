// ABOUTME: Tests for the exchange orchestrator state machine
// ABOUTME: Covers persistence ordering, terminal events, failures, and title derivation

package conversation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/skyhammer/internal/attach"
	"github.com/2389/skyhammer/internal/model"
	"github.com/2389/skyhammer/internal/store"
)

// memStore is an in-memory Store for orchestrator tests.
type memStore struct {
	mu             sync.Mutex
	conversations  map[string]*store.ConversationSummary
	messages       map[string][]store.Message
	instruction    string
	instructionErr error
}

func newMemStore() *memStore {
	return &memStore{
		conversations: make(map[string]*store.ConversationSummary),
		messages:      make(map[string][]store.Message),
		instruction:   "be helpful",
	}
}

func (m *memStore) GetMessages(_ context.Context, id string) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Message{}, m.messages[id]...), nil
}

func (m *memStore) AppendMessage(_ context.Context, id string, msg store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[id] = append(m.messages[id], msg)
	if _, ok := m.conversations[id]; !ok {
		m.conversations[id] = &store.ConversationSummary{ID: id}
	}
	m.conversations[id].LastUpdated = time.Now()
	return nil
}

func (m *memStore) ListConversations(_ context.Context) ([]store.ConversationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.ConversationSummary{}
	for _, c := range m.conversations {
		out = append(out, *c)
	}
	return out, nil
}

func (m *memStore) GetConversation(_ context.Context, id string) (*store.ConversationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (m *memStore) CreateConversation(_ context.Context, id, name string, first store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.conversations[id] = &store.ConversationSummary{ID: id, Name: name, Created: now, LastUpdated: now}
	m.messages[id] = append(m.messages[id], first)
	return nil
}

func (m *memStore) Instruction(_ context.Context) (string, error) {
	if m.instructionErr != nil {
		return "", m.instructionErr
	}
	return m.instruction, nil
}

// fakeGateway replays scripted chunks and records the turns it was given.
type fakeGateway struct {
	mu        sync.Mutex
	chunks    []model.Chunk
	streamErr error
	onceText  string
	onceErr   error
	lastTurns []model.Turn
}

func (g *fakeGateway) GenerateStream(_ context.Context, turns []model.Turn) (<-chan model.Chunk, error) {
	g.mu.Lock()
	g.lastTurns = turns
	g.mu.Unlock()
	if g.streamErr != nil {
		return nil, g.streamErr
	}
	out := make(chan model.Chunk, len(g.chunks))
	for _, c := range g.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func (g *fakeGateway) GenerateOnce(_ context.Context, turns []model.Turn) (string, error) {
	return g.onceText, g.onceErr
}

func (g *fakeGateway) turns() []model.Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastTurns
}

type fakeAttachments struct {
	parts []model.Part
	err   error
}

func (f *fakeAttachments) Process(context.Context, attach.Upload) ([]model.Part, error) {
	return f.parts, f.err
}

// blockingAttachments holds Process open until released, failing early if the
// context it was handed gets cancelled.
type blockingAttachments struct {
	release chan struct{}
	parts   []model.Part
}

func (f *blockingAttachments) Process(ctx context.Context, up attach.Upload) ([]model.Part, error) {
	select {
	case <-f.release:
		return f.parts, nil
	case <-ctx.Done():
		return nil, &attach.ProcessingError{Path: up.Path, Stage: "transcription", Err: ctx.Err()}
	}
}

func newTestService(st Store, gw model.Gateway, at Attachments) (*Service, *Broadcaster) {
	b := NewBroadcaster(nil)
	return New(st, gw, at, b, nil), b
}

// drainEvents collects every published event until the channel goes quiet.
func drainEvents(ch <-chan StreamEvent) []StreamEvent {
	var events []StreamEvent
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		case <-time.After(200 * time.Millisecond):
			return events
		}
	}
}

func countDone(events []StreamEvent) int {
	n := 0
	for _, ev := range events {
		if ev.Done {
			n++
		}
	}
	return n
}

func TestSendMessage_NewConversation(t *testing.T) {
	st := newMemStore()
	gw := &fakeGateway{
		chunks:   []model.Chunk{{Text: "Hel"}, {Text: "lo!"}, {Done: true}},
		onceText: "A Very Long Title With Too Many Words",
	}
	svc, b := newTestService(st, gw, &fakeAttachments{})
	defer b.Close()

	resp, err := svc.SendMessage(context.Background(), &SendRequest{Text: "hello"})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, "Hello!", resp.Response)
	assert.LessOrEqual(t, len(strings.Fields(resp.ConversationName)), 5,
		"generated title must be at most five words")

	msgs, _ := st.GetMessages(context.Background(), resp.ConversationID)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, store.RoleModel, msgs[1].Role)
	assert.Equal(t, "Hello!", msgs[1].Content)

	found := false
	for _, c := range resp.Conversations {
		if c.ID == resp.ConversationID {
			found = true
		}
	}
	assert.True(t, found, "conversation list must include the new id")
}

func TestSendMessage_ExistingConversationAppends(t *testing.T) {
	st := newMemStore()
	require.NoError(t, st.CreateConversation(context.Background(), "conv-1", "Old Name",
		store.Message{Role: store.RoleUser, Content: "first"}))
	require.NoError(t, st.AppendMessage(context.Background(), "conv-1",
		store.Message{Role: store.RoleModel, Content: "second"}))
	require.NoError(t, st.AppendMessage(context.Background(), "conv-1",
		store.Message{Role: store.RoleUser, Content: "third"}))

	gw := &fakeGateway{chunks: []model.Chunk{{Text: "fourth"}, {Done: true}}}
	svc, b := newTestService(st, gw, &fakeAttachments{})
	defer b.Close()

	resp, err := svc.SendMessage(context.Background(), &SendRequest{
		ConversationID: "conv-1",
		Text:           "and now?",
	})
	require.NoError(t, err)

	assert.Equal(t, "conv-1", resp.ConversationID)
	assert.Equal(t, "Old Name", resp.ConversationName, "existing conversations keep their name")

	msgs, _ := st.GetMessages(context.Background(), "conv-1")
	require.Len(t, msgs, 5)
	assert.Equal(t, "and now?", msgs[3].Content)
	assert.Equal(t, "fourth", msgs[4].Content)

	// instruction + 3 history turns + new user turn
	assert.Len(t, gw.turns(), 5)
}

func TestSendMessage_AttachmentFailureAbortsBeforeGenerating(t *testing.T) {
	st := newMemStore()
	gw := &fakeGateway{chunks: []model.Chunk{{Done: true}}}
	procErr := &attach.ProcessingError{Path: "/tmp/u.mp3", Stage: "transcription", Err: errors.New("job failed")}
	svc, b := newTestService(st, gw, &fakeAttachments{err: procErr})
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), "ex-1")

	_, err := svc.SendMessage(context.Background(), &SendRequest{
		ExchangeID: "ex-1",
		Text:       "transcribe this",
		Upload:     &attach.Upload{Path: "/tmp/u.mp3", OriginalName: "u.mp3", MediaType: "audio/mpeg"},
	})
	require.Error(t, err)
	var perr *attach.ProcessingError
	assert.True(t, errors.As(err, &perr))

	assert.Empty(t, drainEvents(ch), "nothing reached Generating, nothing may be broadcast")

	list, _ := st.ListConversations(context.Background())
	assert.Empty(t, list, "a failed exchange persists nothing")
}

func TestSendMessage_ClientDisconnectDoesNotAbortAttachmentWait(t *testing.T) {
	st := newMemStore()
	gw := &fakeGateway{chunks: []model.Chunk{{Text: "noted"}, {Done: true}}, onceText: "Voice Memo"}
	at := &blockingAttachments{
		release: make(chan struct{}),
		parts:   []model.Part{model.TextPart("transcript text")},
	}
	svc, b := newTestService(st, gw, at)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var resp *SendResponse
	var sendErr error
	done := make(chan struct{})
	go func() {
		resp, sendErr = svc.SendMessage(ctx, &SendRequest{
			Text:   "transcribe this",
			Upload: &attach.Upload{Path: "/uploads/memo.mp3", OriginalName: "memo.mp3", MediaType: "audio/mpeg"},
		})
		close(done)
	}()

	// Disconnect while the transcription wait is still in flight. The
	// exchange must keep going rather than fail with a cancelled context.
	cancel()
	time.Sleep(50 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("exchange aborted on client disconnect")
	default:
	}

	close(at.release)
	<-done

	require.NoError(t, sendErr)
	msgs, _ := st.GetMessages(context.Background(), resp.ConversationID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "noted", msgs[1].Content)
}

func TestSendMessage_FailedExchangeRemovesStagedUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staged.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o600))

	st := newMemStore()
	st.instructionErr = errors.New("settings table corrupt")
	svc, b := newTestService(st, &fakeGateway{}, &fakeAttachments{})
	defer b.Close()

	_, err := svc.SendMessage(context.Background(), &SendRequest{
		Text:   "what is this?",
		Upload: &attach.Upload{Path: path, OriginalName: "cat.png", MediaType: "image/png"},
	})
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "staged upload must not outlive a failed exchange")
}

func TestSendMessage_GenerationFailurePublishesTerminalEvent(t *testing.T) {
	st := newMemStore()
	gw := &fakeGateway{chunks: []model.Chunk{
		{Text: "partial"},
		{Err: &model.RemoteError{Status: 500, Message: "upstream died"}, Done: true},
	}}
	svc, b := newTestService(st, gw, &fakeAttachments{})
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), "ex-1")

	_, err := svc.SendMessage(context.Background(), &SendRequest{ExchangeID: "ex-1", Text: "hi"})
	require.Error(t, err)

	events := drainEvents(ch)
	require.Equal(t, 1, countDone(events), "exactly one terminal event")
	last := events[len(events)-1]
	assert.True(t, last.Done)
	assert.NotEmpty(t, last.Err)
	assert.NotContains(t, last.Err, "upstream died", "raw error detail must not leak to listeners")

	list, _ := st.ListConversations(context.Background())
	assert.Empty(t, list, "a failed exchange persists nothing")
}

func TestSendMessage_ExactlyOneDoneOnSuccess(t *testing.T) {
	st := newMemStore()
	gw := &fakeGateway{chunks: []model.Chunk{{Text: "a"}, {Text: "b"}, {Done: true}}, onceText: "Title"}
	svc, b := newTestService(st, gw, &fakeAttachments{})
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), "ex-1")

	_, err := svc.SendMessage(context.Background(), &SendRequest{ExchangeID: "ex-1", Text: "hi"})
	require.NoError(t, err)

	events := drainEvents(ch)
	assert.Equal(t, 1, countDone(events))
	assert.Equal(t, "a", events[0].Text)
	assert.Equal(t, "b", events[1].Text)
}

func TestSendMessage_RateLimitedSurfacedDistinctly(t *testing.T) {
	st := newMemStore()
	gw := &fakeGateway{streamErr: fmt.Errorf("%w: quota exhausted", model.ErrRateLimited)}
	svc, b := newTestService(st, gw, &fakeAttachments{})
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), "ex-1")

	_, err := svc.SendMessage(context.Background(), &SendRequest{ExchangeID: "ex-1", Text: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrRateLimited, "callers must be able to distinguish rate limiting")

	events := drainEvents(ch)
	require.Equal(t, 1, countDone(events))
	assert.Contains(t, events[0].Err, "try again")
}

func TestSendMessage_TitleFallbackWhenGenerationFails(t *testing.T) {
	st := newMemStore()
	gw := &fakeGateway{
		chunks:  []model.Chunk{{Text: "reply"}, {Done: true}},
		onceErr: errors.New("title model down"),
	}
	svc, b := newTestService(st, gw, &fakeAttachments{})
	defer b.Close()

	resp, err := svc.SendMessage(context.Background(), &SendRequest{
		Text: "please help me plan a long trip to Norway",
	})
	require.NoError(t, err)
	assert.Equal(t, "please help me plan a", resp.ConversationName)
}

func TestSendMessage_EmptyMessageRejected(t *testing.T) {
	svc, b := newTestService(newMemStore(), &fakeGateway{}, &fakeAttachments{})
	defer b.Close()

	_, err := svc.SendMessage(context.Background(), &SendRequest{Text: "   "})
	assert.Error(t, err)
}

func TestSendMessage_AttachmentMetadataPersistedNotContent(t *testing.T) {
	st := newMemStore()
	gw := &fakeGateway{chunks: []model.Chunk{{Text: "I see a cat"}, {Done: true}}, onceText: "Cat Picture"}
	at := &fakeAttachments{parts: []model.Part{
		model.BinaryPart([]byte{1, 2, 3}, "image/png"),
		model.TextPart("whiskers"),
	}}
	svc, b := newTestService(st, gw, at)
	defer b.Close()

	resp, err := svc.SendMessage(context.Background(), &SendRequest{
		Text: "what is this?",
		Upload: &attach.Upload{
			Path:         "/uploads/1717.png",
			OriginalName: "cat.png",
			MediaType:    "image/png",
		},
	})
	require.NoError(t, err)

	msgs, _ := st.GetMessages(context.Background(), resp.ConversationID)
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[0].File)
	assert.Equal(t, "cat.png", msgs[0].File.OriginalName)
	assert.Equal(t, "1717.png", msgs[0].File.StoredName)
	assert.Equal(t, "image/png", msgs[0].File.MediaType)
	assert.NotContains(t, msgs[0].Content, "whiskers",
		"transform output is ephemeral and never persisted")

	// The transformed parts still reached the model call
	turns := gw.turns()
	last := turns[len(turns)-1]
	require.Len(t, last.Parts, 3)
	assert.Equal(t, "image/png", last.Parts[1].MediaType)
}
