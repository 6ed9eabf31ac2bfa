package conversation

import (
	"testing"

	"github.com/assistkit/chatcore/internal/model/chat"
)

func TestAppendPreservesInsertionOrder(t *testing.T) {
	state := NewState()
	state.AppendUser("hello")
	state.AppendAssistant("hi there", chat.KindText)
	state.AppendUser("and you?")

	messages := state.Messages()
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i, msg := range messages {
		if msg.Seq != i {
			t.Fatalf("expected seq %d at position %d, got %d", i, i, msg.Seq)
		}
	}
	if messages[1].Role != chat.RoleAssistant {
		t.Fatalf("expected assistant role at position 1, got %q", messages[1].Role)
	}
}

func TestReplaceTrailingAssistantUpdatesInPlace(t *testing.T) {
	state := NewState()
	state.AppendUser("hello")
	state.AppendAssistant("", chat.KindText)

	state.ReplaceTrailingAssistant("Hi")
	state.ReplaceTrailingAssistant("Hi there!")

	messages := state.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected replacement in place, got %d messages", len(messages))
	}
	if messages[1].Text != "Hi there!" {
		t.Fatalf("expected full accumulated text, got %q", messages[1].Text)
	}
}

func TestReplaceTrailingAssistantAppendsWhenTrailingIsNotAssistantText(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*State)
	}{
		{"empty log", func(*State) {}},
		{"trailing user message", func(s *State) { s.AppendUser("hello") }},
		{"trailing error message", func(s *State) {
			s.AppendAssistant("Unsupported file type", chat.KindError)
		}},
		{"trailing scheduling link", func(s *State) {
			s.AppendAssistant("https://cal.example/x", chat.KindSchedulingLink)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := NewState()
			tc.setup(state)
			before := state.Len()

			state.ReplaceTrailingAssistant("streamed")

			messages := state.Messages()
			if len(messages) != before+1 {
				t.Fatalf("expected append, got %d messages (was %d)", len(messages), before)
			}
			last := messages[len(messages)-1]
			if last.Role != chat.RoleAssistant || last.Kind != chat.KindText || last.Text != "streamed" {
				t.Fatalf("unexpected trailing message: %+v", last)
			}
		})
	}
}

func TestClearRestartsSequencing(t *testing.T) {
	state := NewState()
	state.AppendUser("hello")
	state.AppendAssistant("hi", chat.KindText)

	state.Clear()
	if state.Len() != 0 {
		t.Fatalf("expected empty log after clear, got %d", state.Len())
	}

	state.AppendUser("again")
	if got := state.Messages()[0].Seq; got != 0 {
		t.Fatalf("expected sequence restart at 0, got %d", got)
	}
}
