package controller

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/assistkit/chatcore/internal/client"
	"github.com/assistkit/chatcore/internal/conversation"
	"github.com/assistkit/chatcore/internal/model/chat"
	"github.com/assistkit/chatcore/internal/session"
	"github.com/assistkit/chatcore/internal/stream"
	"github.com/assistkit/chatcore/internal/voice"
)

var (
	// ErrBusy rejects a submit while a reply is still streaming; the
	// widget keeps its input disabled for the same window.
	ErrBusy = errors.New("assistant is still responding")
	// ErrEmptyMessage rejects blank submissions.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrVoiceUnavailable is returned when no audio source was wired.
	ErrVoiceUnavailable = errors.New("voice capture not configured")
)

// AudioSink plays a base64-encoded audio reply. A front end backs this
// with its audio element; it is optional.
type AudioSink interface {
	Play(base64 string)
}

// Hooks let an embedding front end observe progress. All optional.
type Hooks struct {
	// OnConversationChange fires after every conversation mutation,
	// including each streamed replacement.
	OnConversationChange func()
	// OnComplete fires when a streamed reply finishes: nil on clean
	// completion, stream.ErrCanceled after Clear/cancel, otherwise a
	// stream failure.
	OnComplete func(err error)
}

// Config wires the controller's collaborators.
type Config struct {
	Client    *client.Client
	Assembler *stream.Assembler
	Sessions  *session.Store
	State     *conversation.State
	Capture   *voice.Capture
	AudioSink AudioSink
	Hooks     Hooks
}

// Controller orchestrates one chat widget: submits, streamed replies,
// voice input, attachments and the clear action, keeping the
// conversation log and the responding flag coherent.
type Controller struct {
	client    *client.Client
	assembler *stream.Assembler
	sessions  *session.Store
	state     *conversation.State
	capture   *voice.Capture
	audioSink AudioSink
	hooks     Hooks

	mu         sync.Mutex
	responding bool
	flags      chat.Flags
	suggested  []string
}

// New assembles a controller from the configured collaborators. The
// assembler is constructed by the caller with a sink from Sink so both
// ends share the same conversation state.
func New(cfg Config) *Controller {
	return &Controller{
		client:    cfg.Client,
		assembler: cfg.Assembler,
		sessions:  cfg.Sessions,
		state:     cfg.State,
		capture:   cfg.Capture,
		audioSink: cfg.AudioSink,
		hooks:     cfg.Hooks,
	}
}

// Sink adapts a conversation log to the assembler's narrow interface,
// notifying the hooks on every streamed mutation.
func Sink(state *conversation.State, hooks Hooks) stream.Sink {
	return &convSink{state: state, hooks: hooks}
}

type convSink struct {
	state *conversation.State
	hooks Hooks
}

func (s *convSink) BeginAssistant() {
	s.state.AppendAssistant("", chat.KindText)
	s.notify()
}

func (s *convSink) ReplaceTrailingAssistant(text string) {
	s.state.ReplaceTrailingAssistant(text)
	s.notify()
}

func (s *convSink) notify() {
	if s.hooks.OnConversationChange != nil {
		s.hooks.OnConversationChange()
	}
}

// Responding mirrors the widget's input-disabled state.
func (c *Controller) Responding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responding
}

// SetFlags replaces the per-request option flags.
func (c *Controller) SetFlags(flags chat.Flags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags = flags
}

// Flags returns the current option flags.
func (c *Controller) Flags() chat.Flags {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags
}

// SuggestedQuestions returns the latest suggestions the backend
// delivered, already filtered of blanks.
func (c *Controller) SuggestedQuestions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := make([]string, len(c.suggested))
	copy(copied, c.suggested)
	return copied
}

// Messages exposes the conversation log for rendering.
func (c *Controller) Messages() []chat.Message {
	return c.state.Messages()
}

// Submit sends a user message. Empty input and submits while a reply
// is streaming are rejected; every other failure re-enables input.
func (c *Controller) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if err := c.begin(); err != nil {
		return err
	}

	c.state.AppendUser(text)
	c.changed()

	outcome, err := c.client.Send(ctx, text, c.Flags(), c.sessions.GetOrCreate())
	if err != nil {
		c.end()
		return err
	}
	return c.dispatch(ctx, outcome)
}

// SubmitFiles sends a message with attachments through the upload
// endpoint; the outcome contract matches Submit.
func (c *Controller) SubmitFiles(ctx context.Context, files []chat.File, text string) error {
	if err := c.begin(); err != nil {
		return err
	}

	c.state.AppendUser(text)
	c.changed()

	outcome, err := c.client.SendFiles(ctx, files, text, c.sessions.GetOrCreate())
	if err != nil {
		c.end()
		return err
	}
	return c.dispatch(ctx, outcome)
}

// VoiceInput records until silence or StopVoice, transcribes the clip
// and returns the transcript destined for the input field. Capture or
// transcription failures return the widget to a ready state with an
// empty transcript.
func (c *Controller) VoiceInput(ctx context.Context) (string, error) {
	if c.capture == nil {
		return "", ErrVoiceUnavailable
	}

	result, err := c.capture.Start(ctx)
	if err != nil {
		return "", err
	}

	clip, ok := <-result
	if !ok || len(clip.Data) == 0 {
		return "", nil
	}

	transcript, err := c.client.Transcribe(ctx, clip.Data, "audio"+extensionFor(clip.MIMEType), c.sessions.GetOrCreate())
	if err != nil {
		log.Printf("[voice] transcription failed: %v", err)
		return "", err
	}
	return transcript, nil
}

// StopVoice ends an in-progress recording early.
func (c *Controller) StopVoice() {
	if c.capture != nil {
		c.capture.Stop()
	}
}

// RecordingVoice reports whether a capture is in progress.
func (c *Controller) RecordingVoice() bool {
	return c.capture != nil && c.capture.Recording()
}

// Clear empties the conversation, cancels any open stream and rotates
// the session identifier so the old one is never reused.
func (c *Controller) Clear() {
	c.assembler.Cancel()
	c.state.Clear()
	c.sessions.Reset()

	c.mu.Lock()
	c.responding = false
	c.suggested = nil
	c.mu.Unlock()
	c.changed()
}

func (c *Controller) dispatch(ctx context.Context, outcome client.Outcome) error {
	c.storeSuggestions(outcome.SuggestedQuestions)

	switch outcome.Kind {
	case client.OutcomeImmediate:
		c.state.AppendAssistant(outcome.SchedulingLink, chat.KindSchedulingLink)
		c.end()
		c.changed()
		return nil

	case client.OutcomeError:
		c.state.AppendAssistant(outcome.Detail, chat.KindError)
		c.end()
		c.changed()
		return nil

	case client.OutcomeStreamReady:
		events := stream.Events{
			SuggestedQuestions: c.storeSuggestions,
			Audio:              c.playAudio,
			Done:               c.streamDone,
		}
		if err := c.assembler.Open(ctx, c.sessions.GetOrCreate(), events); err != nil {
			c.end()
			return err
		}
		return nil
	}

	c.end()
	return nil
}

func (c *Controller) streamDone(err error) {
	c.end()
	if err != nil && !errors.Is(err, stream.ErrCanceled) {
		log.Printf("[chat] stream ended with error: %v", err)
	}
	if c.hooks.OnComplete != nil {
		c.hooks.OnComplete(err)
	}
}

func (c *Controller) playAudio(base64 string) {
	if c.audioSink == nil || !c.Flags().WantAudio {
		return
	}
	c.audioSink.Play(base64)
}

func (c *Controller) storeSuggestions(questions []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suggested = questions
}

func (c *Controller) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.responding {
		return ErrBusy
	}
	c.responding = true
	return nil
}

func (c *Controller) end() {
	c.mu.Lock()
	c.responding = false
	c.mu.Unlock()
}

func (c *Controller) changed() {
	if c.hooks.OnConversationChange != nil {
		c.hooks.OnConversationChange()
	}
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/mp4":
		return ".mp4"
	case "audio/wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	default:
		return ".bin"
	}
}
