package conversation

import (
	"sync"

	"github.com/assistkit/chatcore/internal/model/chat"
)

// State is the ordered log of exchanged messages, the single source of
// truth a front end renders from. Mutations are total: they never fail
// and always leave the log in a consistent order.
type State struct {
	mu       sync.RWMutex
	messages []chat.Message
	nextSeq  int
}

// NewState bootstraps an empty conversation log.
func NewState() *State {
	return &State{
		messages: make([]chat.Message, 0, 16),
	}
}

// AppendUser records a user-authored text message.
func (s *State) AppendUser(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(chat.Message{Role: chat.RoleUser, Kind: chat.KindText, Text: text})
}

// AppendAssistant records an assistant-channel message of the given kind.
func (s *State) AppendAssistant(text string, kind chat.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(chat.Message{Role: chat.RoleAssistant, Kind: kind, Text: text})
}

// ReplaceTrailingAssistant overwrites the trailing message when it is a
// plain assistant text message, otherwise appends a new one. This is
// the in-place update a streamed reply performs on every chunk.
func (s *State) ReplaceTrailingAssistant(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.messages); n > 0 {
		last := &s.messages[n-1]
		if last.Role == chat.RoleAssistant && last.Kind == chat.KindText {
			last.Text = text
			return
		}
	}

	s.append(chat.Message{Role: chat.RoleAssistant, Kind: chat.KindText, Text: text})
}

// Clear empties the log. Sequence numbering restarts from zero.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = s.messages[:0]
	s.nextSeq = 0
}

// Messages returns a copy of the log in insertion order.
func (s *State) Messages() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]chat.Message, len(s.messages))
	copy(copied, s.messages)
	return copied
}

// Len reports the number of logged messages.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *State) append(msg chat.Message) {
	msg.Seq = s.nextSeq
	s.nextSeq++
	s.messages = append(s.messages, msg)
}
