package telegram

import (
	"context"
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"github.com/goodcleanfun/plqbot/core/game"
)

// QuickReplyUnique is the button key carrying quick-reply payloads.
const QuickReplyUnique = "qr"

// messageSender is the part of *tele.Bot the client needs.
type messageSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Client renders game messages as Telegram messages.
type Client struct {
	bot messageSender
}

// NewClient wraps a bot.
func NewClient(bot messageSender) *Client {
	return &Client{bot: bot}
}

// Send delivers m to the chat identified by recipientID.
func (c *Client) Send(ctx context.Context, recipientID string, m game.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad recipient %q: %w", recipientID, err)
	}
	to := tele.ChatID(id)

	switch m.Kind {
	case game.KindImage:
		_, err = c.bot.Send(to, &tele.Photo{File: tele.FromURL(m.ImageURL)})
	case game.KindQuickReplies:
		_, err = c.bot.Send(to, m.Text, quickReplyMarkup(m.QuickReplies))
	default:
		_, err = c.bot.Send(to, m.Text)
	}
	return err
}

// quickReplyMarkup lays out one inline button per row.
func quickReplyMarkup(options []game.QuickReply) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(options))
	for _, o := range options {
		rows = append(rows, markup.Row(markup.Data(o.Title, QuickReplyUnique, o.Payload)))
	}
	markup.Inline(rows...)
	return markup
}
