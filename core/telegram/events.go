package telegram

import (
	"strconv"

	tele "gopkg.in/telebot.v4"

	"github.com/goodcleanfun/plqbot/core/dispatch"
	"github.com/goodcleanfun/plqbot/core/telegram/middleware"
)

// EventFromUpdate converts a text message or an inline-button callback into
// a game event. The chat id is the user id so replies reach the same chat.
func EventFromUpdate(upd tele.Update) (dispatch.Event, bool) {
	eventID := "tg:" + strconv.Itoa(upd.ID)
	switch {
	case upd.Callback != nil:
		cb := upd.Callback
		var chatID int64
		switch {
		case cb.Message != nil && cb.Message.Chat != nil:
			chatID = cb.Message.Chat.ID
		case cb.Sender != nil:
			chatID = cb.Sender.ID
		}
		_, payload := middleware.ParseCallback(cb)
		if chatID == 0 || payload == "" {
			return dispatch.Event{}, false
		}
		return dispatch.Event{
			UserID:            strconv.FormatInt(chatID, 10),
			EventID:           eventID,
			QuickReplyPayload: payload,
		}, true
	case upd.Message != nil && upd.Message.Chat != nil:
		return dispatch.Event{
			UserID:  strconv.FormatInt(upd.Message.Chat.ID, 10),
			EventID: eventID,
			Text:    upd.Message.Text,
		}, true
	}
	return dispatch.Event{}, false
}
