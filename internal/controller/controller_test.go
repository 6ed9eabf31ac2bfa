package controller

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/assistkit/chatcore/internal/client"
	"github.com/assistkit/chatcore/internal/conversation"
	"github.com/assistkit/chatcore/internal/model/chat"
	"github.com/assistkit/chatcore/internal/session"
	"github.com/assistkit/chatcore/internal/stream"
	"github.com/assistkit/chatcore/internal/stubserver"
	"github.com/assistkit/chatcore/internal/voice"
)

type widget struct {
	ctrl     *Controller
	state    *conversation.State
	sessions *session.Store
	done     chan error
}

func newWidget(t *testing.T, opts stubserver.Options, capture *voice.Capture, useWebsocket bool) (*widget, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(stubserver.New(opts).Router())
	t.Cleanup(server.Close)

	state := conversation.NewState()
	sessions := session.NewStore(nil)
	done := make(chan error, 4)
	hooks := Hooks{OnComplete: func(err error) { done <- err }}

	cfg := stream.Config{BaseURL: server.URL, HTTPClient: server.Client()}
	if useWebsocket {
		cfg = stream.Config{WebsocketURL: "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"}
	}
	asm := stream.New(cfg, Sink(state, hooks))

	ctrl := New(Config{
		Client:    client.New(server.URL, server.Client()),
		Assembler: asm,
		Sessions:  sessions,
		State:     state,
		Capture:   capture,
		Hooks:     hooks,
	})

	return &widget{ctrl: ctrl, state: state, sessions: sessions, done: done}, server
}

func (w *widget) waitDone(t *testing.T) error {
	t.Helper()
	select {
	case err := <-w.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reply completion")
		return nil
	}
}

func TestSubmitStreamsAssistantReply(t *testing.T) {
	w, _ := newWidget(t, stubserver.Options{
		Replies: []stubserver.Reply{{Chunks: []string{"Hi", " there", "!"}}},
	}, nil, false)

	if err := w.ctrl.Submit(context.Background(), "Hello"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !w.ctrl.Responding() {
		t.Fatal("expected responding flag while streaming")
	}
	if err := w.waitDone(t); err != nil {
		t.Fatalf("expected clean completion, got %v", err)
	}

	messages := w.ctrl.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(messages))
	}
	if messages[0].Role != chat.RoleUser || messages[0].Text != "Hello" {
		t.Fatalf("unexpected user message: %+v", messages[0])
	}
	if messages[1].Role != chat.RoleAssistant || messages[1].Text != "Hi there!" {
		t.Fatalf("unexpected assistant message: %+v", messages[1])
	}
	if w.ctrl.Responding() {
		t.Fatal("expected responding flag cleared after completion")
	}
}

func TestSubmitResolvesSchedulingLinkWithoutStream(t *testing.T) {
	w, _ := newWidget(t, stubserver.Options{
		Replies: []stubserver.Reply{{SchedulingLink: "https://cal.example/x"}},
	}, nil, false)

	if err := w.ctrl.Submit(context.Background(), "book a call"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	messages := w.ctrl.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected two messages, got %d", len(messages))
	}
	link := messages[1]
	if link.Kind != chat.KindSchedulingLink || link.Text != "https://cal.example/x" {
		t.Fatalf("unexpected scheduling message: %+v", link)
	}
	if w.ctrl.Responding() {
		t.Fatal("expected input re-enabled immediately")
	}
}

func TestStreamFailureKeepsPartialText(t *testing.T) {
	w, _ := newWidget(t, stubserver.Options{
		Replies: []stubserver.Reply{{Chunks: []string{"Hi", " there"}, Truncate: true}},
	}, nil, false)

	if err := w.ctrl.Submit(context.Background(), "Hello"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	err := w.waitDone(t)
	if !errors.Is(err, stream.ErrStreamFailed) {
		t.Fatalf("expected stream failure, got %v", err)
	}

	messages := w.ctrl.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected partial assistant message kept, got %d messages", len(messages))
	}
	if !strings.HasPrefix(messages[1].Text, "Hi there") {
		t.Fatalf("expected two-chunk partial text, got %q", messages[1].Text)
	}
	if w.ctrl.Responding() {
		t.Fatal("expected responding flag cleared after failure")
	}
}

func TestUploadRejectionBecomesErrorMessage(t *testing.T) {
	w, _ := newWidget(t, stubserver.Options{}, nil, false)

	files := []chat.File{{Name: "virus.exe", Data: []byte("x")}}
	if err := w.ctrl.SubmitFiles(context.Background(), files, "see attached"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	messages := w.ctrl.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected user + error messages, got %d", len(messages))
	}
	errMsg := messages[1]
	if errMsg.Kind != chat.KindError || errMsg.Text != "Unsupported file type" {
		t.Fatalf("unexpected error message: %+v", errMsg)
	}
	if w.ctrl.Responding() {
		t.Fatal("expected input re-enabled after rejection")
	}
}

func TestSubmitWhileRespondingIsRejected(t *testing.T) {
	w, _ := newWidget(t, stubserver.Options{
		Replies: []stubserver.Reply{{Chunks: []string{"thinking"}, Hold: true}},
	}, nil, false)

	if err := w.ctrl.Submit(context.Background(), "first"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := w.ctrl.Submit(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	w.ctrl.Clear()
	if err := w.waitDone(t); !errors.Is(err, stream.ErrCanceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	w, _ := newWidget(t, stubserver.Options{}, nil, false)

	if err := w.ctrl.Submit(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if w.state.Len() != 0 {
		t.Fatalf("expected no messages logged, got %d", w.state.Len())
	}
}

func TestClearRotatesSessionAndEmptiesLog(t *testing.T) {
	w, _ := newWidget(t, stubserver.Options{
		Replies: []stubserver.Reply{{Chunks: []string{"Zdravo!"}}},
	}, nil, false)

	oldID := w.sessions.GetOrCreate()
	if err := w.ctrl.Submit(context.Background(), "Hello"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := w.waitDone(t); err != nil {
		t.Fatalf("expected clean completion, got %v", err)
	}

	w.ctrl.Clear()

	if w.state.Len() != 0 {
		t.Fatalf("expected empty conversation, got %d messages", w.state.Len())
	}
	if newID := w.sessions.GetOrCreate(); newID == oldID {
		t.Fatal("expected a fresh session id after clear")
	}
	if w.ctrl.Responding() {
		t.Fatal("expected ready state after clear")
	}
}

func TestSuggestedQuestionsSurfaceAfterCompletion(t *testing.T) {
	w, _ := newWidget(t, stubserver.Options{
		Replies: []stubserver.Reply{{
			Chunks:             []string{"Nudimo konsalting."},
			SuggestedQuestions: []string{"Koje usluge?", "Cena?"},
		}},
	}, nil, false)

	if err := w.ctrl.Submit(context.Background(), "sta nudite"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := w.waitDone(t); err != nil {
		t.Fatalf("expected clean completion, got %v", err)
	}

	questions := w.ctrl.SuggestedQuestions()
	if len(questions) != 2 || questions[0] != "Koje usluge?" {
		t.Fatalf("unexpected suggestions: %v", questions)
	}
}

func TestWebsocketTransportEndToEnd(t *testing.T) {
	w, _ := newWidget(t, stubserver.Options{
		Replies: []stubserver.Reply{{Chunks: []string{"Hi", " there!"}}},
	}, nil, true)

	if err := w.ctrl.Submit(context.Background(), "Hello"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := w.waitDone(t); err != nil {
		t.Fatalf("expected clean completion, got %v", err)
	}

	messages := w.ctrl.Messages()
	if len(messages) != 2 || messages[1].Text != "Hi there!" {
		t.Fatalf("unexpected conversation: %+v", messages)
	}
}

// scriptedSource feeds a fixed clip then goes silent.
type scriptedSource struct {
	chunks chan voice.Chunk
	fail   error
}

func (s *scriptedSource) Start(context.Context) error {
	if s.fail != nil {
		return s.fail
	}
	return nil
}

func (s *scriptedSource) Chunks() <-chan voice.Chunk { return s.chunks }

func (s *scriptedSource) Stop() {}

func TestVoiceInputTranscribes(t *testing.T) {
	source := &scriptedSource{chunks: make(chan voice.Chunk, 4)}
	source.chunks <- voice.Chunk{Data: []byte("audio"), Amplitude: 0.9}

	capture := voice.NewCapture(source, voice.Options{SilenceWindow: 50 * time.Millisecond})
	w, _ := newWidget(t, stubserver.Options{Transcript: "dobar dan"}, capture, false)

	transcript, err := w.ctrl.VoiceInput(context.Background())
	if err != nil {
		t.Fatalf("voice input failed: %v", err)
	}
	if transcript != "dobar dan" {
		t.Fatalf("unexpected transcript: %q", transcript)
	}
}

func TestVoiceInputPermissionDenied(t *testing.T) {
	source := &scriptedSource{chunks: make(chan voice.Chunk), fail: voice.ErrPermissionDenied}
	capture := voice.NewCapture(source, voice.Options{})

	w, _ := newWidget(t, stubserver.Options{}, capture, false)

	if _, err := w.ctrl.VoiceInput(context.Background()); !errors.Is(err, voice.ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if w.ctrl.Responding() {
		t.Fatal("expected ready state after denied capture")
	}
}
