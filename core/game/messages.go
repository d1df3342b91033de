package game

// MessageKind selects how a Message is rendered by a platform client.
type MessageKind string

const (
	// KindText is a plain text bubble.
	KindText MessageKind = "text"
	// KindImage is an image attachment referenced by URL.
	KindImage MessageKind = "image"
	// KindQuickReplies is text with tappable options.
	KindQuickReplies MessageKind = "quick_replies"
)

// Fixed texts of the quiz.
const (
	TextCorrect  = "Correct!"
	TextWrong    = "Wrong!"
	TextGameOver = "Game Over"
	TextWelcome  = "Welcome to Good Clean Fun! What do you want to play today?"
)

// Quick-reply payloads understood by the engine.
const (
	PayloadStartPrefix = "start:"
	PayloadQuit        = "quit"
	// PayloadLegacyStart starts the default level.
	PayloadLegacyStart = "start:plq"
)

// QuickReply is one option of a quick-replies message.
type QuickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

// Message is one outbound message in platform-neutral form.
type Message struct {
	Kind         MessageKind
	Text         string
	ImageURL     string
	QuickReplies []QuickReply
}

// Text builds a plain text message.
func Text(s string) Message { return Message{Kind: KindText, Text: s} }

// Image builds an image message.
func Image(url string) Message { return Message{Kind: KindImage, ImageURL: url} }

// Choice builds a text message with quick replies.
func Choice(text string, options ...QuickReply) Message {
	return Message{Kind: KindQuickReplies, Text: text, QuickReplies: options}
}

// Summary renders a short description for logs.
func (m Message) Summary() string {
	switch m.Kind {
	case KindImage:
		return "image:" + m.ImageURL
	case KindQuickReplies:
		return "choice:" + m.Text
	default:
		return "text:" + m.Text
	}
}
