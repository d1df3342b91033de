// Package messenger is the Facebook Messenger boundary: the webhook that
// receives message events and the Send API client that answers them.
package messenger

// Callback is the body of a webhook POST.
type Callback struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the messaging events of one page.
type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Messaging []Messaging `json:"messaging"`
}

// Messaging is one event. Only Message events are played; deliveries,
// reads and postbacks are skipped.
type Messaging struct {
	Sender    Party    `json:"sender"`
	Recipient Party    `json:"recipient"`
	Timestamp int64    `json:"timestamp"`
	Message   *Message `json:"message,omitempty"`
}

// Party identifies a page-scoped user or the page.
type Party struct {
	ID string `json:"id"`
}

// Message is an inbound user message.
type Message struct {
	MID        string      `json:"mid"`
	Text       string      `json:"text"`
	IsEcho     bool        `json:"is_echo,omitempty"`
	QuickReply *QuickReply `json:"quick_reply,omitempty"`
}

// QuickReply carries the payload of a tapped quick reply.
type QuickReply struct {
	Payload string `json:"payload"`
}

// SendRequest is the Send API request body.
type SendRequest struct {
	Recipient Party       `json:"recipient"`
	Message   SendMessage `json:"message"`
}

// SendMessage is one outbound message.
type SendMessage struct {
	Text         string           `json:"text,omitempty"`
	Attachment   *Attachment      `json:"attachment,omitempty"`
	QuickReplies []SendQuickReply `json:"quick_replies,omitempty"`
}

// Attachment is a media attachment.
type Attachment struct {
	Type    string            `json:"type"`
	Payload AttachmentPayload `json:"payload"`
}

// AttachmentPayload points at the media URL.
type AttachmentPayload struct {
	URL string `json:"url"`
}

// SendQuickReply is an option offered under a message.
type SendQuickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}
