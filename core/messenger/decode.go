package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/goodcleanfun/plqbot/core/dispatch"
	"github.com/goodcleanfun/plqbot/core/logger"
)

// DecodeCallback parses a webhook body entry by entry. Only a body that is
// not a JSON object is an error; a malformed entry or messaging item is
// logged and skipped, and skipped reports how many were dropped.
func DecodeCallback(ctx context.Context, body []byte) (cb Callback, skipped int, err error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return cb, 0, fmt.Errorf("%w: %v", dispatch.ErrMalformedEvent, err)
	}
	if raw, ok := top["object"]; ok {
		if err := json.Unmarshal(raw, &cb.Object); err != nil {
			logMalformed(ctx, "object", -1, err)
		}
	}

	var entries []json.RawMessage
	if raw, ok := top["entry"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &entries); err != nil {
			logMalformed(ctx, "entry", -1, err)
			return cb, 1, nil
		}
	}

	for i, raw := range entries {
		var head struct {
			ID        string          `json:"id"`
			Time      int64           `json:"time"`
			Messaging json.RawMessage `json:"messaging"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			logMalformed(ctx, "entry", i, err)
			skipped++
			continue
		}
		var items []json.RawMessage
		if len(head.Messaging) > 0 && !isNull(head.Messaging) {
			if err := json.Unmarshal(head.Messaging, &items); err != nil {
				logMalformed(ctx, "entry", i, err)
				skipped++
				continue
			}
		}
		entry := Entry{ID: head.ID, Time: head.Time}
		for _, item := range items {
			var m Messaging
			if err := json.Unmarshal(item, &m); err != nil {
				logMalformed(ctx, "messaging", i, err)
				skipped++
				continue
			}
			entry.Messaging = append(entry.Messaging, m)
		}
		cb.Entry = append(cb.Entry, entry)
	}
	return cb, skipped, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func logMalformed(ctx context.Context, part string, index int, err error) {
	err = fmt.Errorf("%w: %s: %v", dispatch.ErrMalformedEvent, part, err)
	logger.Warn(ctx, "http", "webhook.decode",
		slog.String("status", "fail"),
		slog.String("part", part),
		slog.Int("entry", index),
		slog.String("err", err.Error()),
	)
}
