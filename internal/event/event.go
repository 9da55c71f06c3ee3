// Package event defines the inbound chat events consumed by the dispatcher
// and the orchestrator. The shape is platform-neutral; the bot adapter is
// responsible for mapping wire updates onto it.
package event

// Kind discriminates the two inbound event variants.
type Kind int

const (
	// KindMessage is a plain chat message (slash commands live here).
	KindMessage Kind = iota
	// KindCallback is a button press carrying a structured payload.
	KindCallback
)

// Command is a closed set of button commands.
type Command string

// Button commands carried in callback payloads.
const (
	CmdStart    Command = "start"
	CmdJoin     Command = "join"
	CmdFinish   Command = "finish"
	CmdShowInfo Command = "show_info"
	CmdChoice   Command = "choice"
	CmdAnswer   Command = "answer"
)

// Payload is the structured data attached to a callback button. Every
// state-changing button carries the SessionID and MoveNumber it was issued
// under so the orchestrator can reject stale presses, including leftover
// buttons from an earlier session in the same chat.
type Payload struct {
	Command    Command `json:"command"`
	SessionID  int64   `json:"session_id,omitempty"`
	MoveNumber int     `json:"move_number,omitempty"`

	// Theme choice fields.
	ThemeID    int64  `json:"theme_id,omitempty"`
	ThemeTitle string `json:"theme_title,omitempty"`

	// Answer fields.
	IsCorrect     bool   `json:"is_correct,omitempty"`
	AnswerTitle   string `json:"answer_title,omitempty"`
	QuestionTitle string `json:"question_title,omitempty"`
}

// Event is one inbound unit of work for the orchestrator.
type Event struct {
	Kind   Kind
	ChatID int64
	UserID int64

	// Sender name parts, when the platform supplies them.
	FirstName string
	LastName  string

	// Message fields.
	Text string

	// Callback fields.
	CallbackID string
	MessageID  int
	Payload    Payload
}
