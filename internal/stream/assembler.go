package stream

import (
	"context"
	"errors"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync"
)

// CursorGlyph is the sentinel the backend appends to the visible text
// of an in-progress chunk. A chunk whose content does not end with it
// is the final one.
const CursorGlyph = "▌"

// DefaultTrailerPrefix marks the backend-injected suggested-questions
// trailer that is stripped from displayed text.
const DefaultTrailerPrefix = "Predložena pitanja:"

var (
	ErrAlreadyStreaming = errors.New("a stream is already open")
	ErrStreamFailed     = errors.New("stream transport failed")
	ErrCanceled         = errors.New("stream canceled")
)

// Sink receives the in-progress assistant message. It is the narrow
// slice of the conversation log the assembler is allowed to touch.
type Sink interface {
	// BeginAssistant appends an empty assistant message that the
	// following replacements grow.
	BeginAssistant()
	// ReplaceTrailingAssistant overwrites the trailing assistant
	// message with the full accumulated text.
	ReplaceTrailingAssistant(text string)
}

// Events carries the side channels of one streamed reply. Every field
// is optional. Done is invoked exactly once per Open: with nil on
// clean completion, ErrCanceled after Cancel, or an ErrStreamFailed
// wrap on transport failure.
type Events struct {
	SuggestedQuestions func([]string)
	Audio              func(base64 string)
	Done               func(err error)
}

// Config selects and parameterizes the stream transport.
type Config struct {
	// BaseURL is the http(s) root of the backend, used for the
	// event-stream endpoint.
	BaseURL string
	// WebsocketURL, when set, switches to the websocket delta
	// endpoint instead of the event stream.
	WebsocketURL string
	// HTTPClient defaults to a client without an overall timeout;
	// streams are long-lived.
	HTTPClient *http.Client
	// TrailerPrefix overrides DefaultTrailerPrefix.
	TrailerPrefix string
}

type state int

const (
	stateClosed state = iota
	stateOpening
	stateStreaming
)

// Assembler coalesces a streamed reply into one growing assistant
// message. At most one stream may be open at a time; Open while a
// stream is active is rejected with ErrAlreadyStreaming.
type Assembler struct {
	cfg     Config
	sink    Sink
	trailer *regexp.Regexp

	mu        sync.Mutex
	state     state
	canceled  bool
	transport transport
}

// New builds an assembler writing into sink.
func New(cfg Config, sink Sink) *Assembler {
	if cfg.HTTPClient == nil {
		// No overall timeout: the stream stays open for the whole
		// reply. Dial timeouts come from the default transport.
		cfg.HTTPClient = &http.Client{Timeout: 0}
	}
	prefix := cfg.TrailerPrefix
	if prefix == "" {
		prefix = DefaultTrailerPrefix
	}

	return &Assembler{
		cfg:     cfg,
		sink:    sink,
		trailer: regexp.MustCompile(regexp.QuoteMeta(prefix) + `.*(\n|$)`),
	}
}

// Streaming reports whether a reply is currently being assembled.
func (a *Assembler) Streaming() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state != stateClosed
}

// Open establishes the stream for sessionID and assembles it in the
// background. The first received chunk appends an empty assistant
// message; each subsequent chunk replaces the trailing assistant
// message with the full filtered accumulation.
func (a *Assembler) Open(ctx context.Context, sessionID string, events Events) error {
	a.mu.Lock()
	if a.state != stateClosed {
		a.mu.Unlock()
		return ErrAlreadyStreaming
	}
	a.state = stateOpening
	a.canceled = false
	a.mu.Unlock()

	once := &sync.Once{}

	tr, err := a.dial(ctx, sessionID)
	if err != nil {
		a.mu.Lock()
		a.state = stateClosed
		a.mu.Unlock()
		return err
	}

	a.mu.Lock()
	if a.canceled {
		// Cancel raced the dial; tear down and stay closed.
		a.mu.Unlock()
		tr.close()
		finish(once, events, ErrCanceled)
		return nil
	}
	a.transport = tr
	a.mu.Unlock()

	go a.consume(tr, events, once)
	return nil
}

// Cancel closes the transport immediately regardless of state and
// discards nothing already committed to the conversation. Idempotent.
func (a *Assembler) Cancel() {
	a.mu.Lock()
	if a.state == stateClosed && !a.canceled {
		a.mu.Unlock()
		return
	}
	a.canceled = true
	tr := a.transport
	a.transport = nil
	a.state = stateClosed
	a.mu.Unlock()

	if tr != nil {
		tr.close()
	}
}

func (a *Assembler) dial(ctx context.Context, sessionID string) (transport, error) {
	if a.cfg.WebsocketURL != "" {
		return dialWebsocket(ctx, a.cfg.WebsocketURL, sessionID)
	}
	return dialSSE(ctx, a.cfg.HTTPClient, a.cfg.BaseURL, sessionID)
}

func (a *Assembler) consume(tr transport, events Events, once *sync.Once) {
	started := false

	for {
		chunk, err := tr.recv()
		if err != nil {
			a.mu.Lock()
			canceled := a.canceled
			a.transport = nil
			a.state = stateClosed
			a.mu.Unlock()
			tr.close()

			switch {
			case canceled:
				finish(once, events, ErrCanceled)
			default:
				// Partial text stays committed; no rollback.
				log.Printf("[stream] transport ended abnormally: %v", err)
				finish(once, events, errors.Join(ErrStreamFailed, err))
			}
			return
		}

		if !started {
			started = true
			a.mu.Lock()
			if a.state == stateOpening {
				a.state = stateStreaming
			}
			a.mu.Unlock()
			a.sink.BeginAssistant()
		}

		if len(chunk.SuggestedQuestions) > 0 && events.SuggestedQuestions != nil {
			events.SuggestedQuestions(chunk.SuggestedQuestions)
		}
		if chunk.Audio != "" && events.Audio != nil {
			events.Audio(chunk.Audio)
		}

		if strings.HasSuffix(chunk.Content, CursorGlyph) {
			a.sink.ReplaceTrailingAssistant(a.filter(chunk.Content))
			continue
		}

		// Final chunk: strip any stray glyph, last replace, close.
		final := a.filter(strings.ReplaceAll(chunk.Content, CursorGlyph, ""))
		a.sink.ReplaceTrailingAssistant(final)

		a.mu.Lock()
		a.transport = nil
		a.state = stateClosed
		a.mu.Unlock()
		tr.close()
		finish(once, events, nil)
		return
	}
}

// filter removes the suggested-questions trailer from displayed text.
func (a *Assembler) filter(content string) string {
	return a.trailer.ReplaceAllString(content, "")
}

func finish(once *sync.Once, events Events, err error) {
	once.Do(func() {
		if events.Done != nil {
			events.Done(err)
		}
	})
}
