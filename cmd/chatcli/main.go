package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/assistkit/chatcore/internal/client"
	"github.com/assistkit/chatcore/internal/config"
	"github.com/assistkit/chatcore/internal/controller"
	"github.com/assistkit/chatcore/internal/conversation"
	"github.com/assistkit/chatcore/internal/model/chat"
	"github.com/assistkit/chatcore/internal/session"
	"github.com/assistkit/chatcore/internal/stream"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	app := newApp(cfg)
	log.Printf("chat client talking to %s", cfg.Backend.BaseURL)
	app.run(ctx)
}

// app renders the conversation to the terminal while the controller
// drives the flows.
type app struct {
	ctrl *controller.Controller

	mu      sync.Mutex
	printed int
	done    chan error
}

func newApp(cfg *config.Config) *app {
	a := &app{done: make(chan error, 1)}

	state := conversation.NewState()
	hooks := controller.Hooks{
		OnConversationChange: a.render,
		OnComplete: func(err error) {
			select {
			case a.done <- err:
			default:
			}
		},
	}

	assembler := stream.New(stream.Config{
		BaseURL:       cfg.Backend.BaseURL,
		WebsocketURL:  cfg.Backend.WebsocketURL,
		TrailerPrefix: cfg.Backend.TrailerPrefix,
	}, controller.Sink(state, hooks))

	a.ctrl = controller.New(controller.Config{
		Client:    client.New(cfg.Backend.BaseURL, &http.Client{Timeout: cfg.Backend.Timeout}),
		Assembler: assembler,
		Sessions:  session.NewStore(nil),
		State:     state,
		Hooks:     hooks,
	})
	a.ctrl.SetFlags(chat.Flags{Language: cfg.Backend.Language})

	return a
}

func (a *app) run(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("type a message, or /suggest, /audio, /files <path> <message>, /clear, /quit")

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/clear":
			a.ctrl.Clear()
			a.resetPrinted()
			fmt.Println("conversation cleared, new session started")
		case line == "/suggest":
			flags := a.ctrl.Flags()
			flags.SuggestQuestions = !flags.SuggestQuestions
			a.ctrl.SetFlags(flags)
			fmt.Printf("suggested questions: %v\n", flags.SuggestQuestions)
		case line == "/audio":
			flags := a.ctrl.Flags()
			flags.WantAudio = !flags.WantAudio
			a.ctrl.SetFlags(flags)
			fmt.Printf("audio replies: %v\n", flags.WantAudio)
		case strings.HasPrefix(line, "/files "):
			a.submitFiles(ctx, strings.TrimPrefix(line, "/files "))
		default:
			a.submit(ctx, line)
		}

		if err := ctx.Err(); err != nil {
			return
		}
	}
}

func (a *app) submit(ctx context.Context, text string) {
	if err := a.ctrl.Submit(ctx, text); err != nil {
		log.Printf("[chat] submit failed: %v", err)
		return
	}
	a.await()
}

func (a *app) submitFiles(ctx context.Context, rest string) {
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) != 2 {
		fmt.Println("usage: /files <path> <message>")
		return
	}

	data, err := os.ReadFile(parts[0])
	if err != nil {
		log.Printf("[chat] cannot read attachment: %v", err)
		return
	}

	files := []chat.File{{Name: parts[0], Data: data}}
	if err := a.ctrl.SubmitFiles(ctx, files, parts[1]); err != nil {
		log.Printf("[chat] upload failed: %v", err)
		return
	}
	a.await()
}

// await blocks until the streamed reply finishes, when one was opened.
func (a *app) await() {
	if !a.ctrl.Responding() {
		fmt.Println()
		a.showSuggestions()
		return
	}
	if err := <-a.done; err != nil {
		log.Printf("[chat] reply ended early: %v", err)
	}
	fmt.Println()
	a.showSuggestions()
}

func (a *app) showSuggestions() {
	for _, question := range a.ctrl.SuggestedQuestions() {
		fmt.Printf("  suggestion: %s\n", question)
	}
}

// render prints newly arrived text of the trailing assistant message.
func (a *app) render() {
	messages := a.ctrl.Messages()
	if len(messages) == 0 {
		return
	}
	last := messages[len(messages)-1]
	if last.Role != chat.RoleAssistant {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSuffix(last.Text, stream.CursorGlyph)
	if a.printed > len(text) {
		a.printed = 0
	}
	fmt.Print(text[a.printed:])
	a.printed = len(text)
}

func (a *app) resetPrinted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.printed = 0
}
