package chat

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind tags the payload shape of a message once, at ingestion, so that
// consumers never inspect the content at render time.
type Kind string

const (
	KindText           Kind = "text"
	KindSchedulingLink Kind = "scheduling-link"
	KindError          Kind = "error"
)

// Message is one entry in the conversation log.
type Message struct {
	Role Role   `json:"role"`
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
	Seq  int    `json:"seq"`
}

// Flags carries the per-request options the widget exposes.
type Flags struct {
	SuggestQuestions bool   `json:"suggest_questions"`
	WantAudio        bool   `json:"play_audio_response"`
	Language         string `json:"language,omitempty"`
}

// File is a pending attachment queued for upload.
type File struct {
	Name string
	Data []byte
}

// StreamChunk is one decoded event from the reply stream. Content
// carries the full text accumulated so far on the backend side, with a
// trailing cursor glyph while the reply is still in progress.
type StreamChunk struct {
	Content            string   `json:"content"`
	Audio              string   `json:"audio,omitempty"`
	SuggestedQuestions []string `json:"suggested_questions,omitempty"`
}
