// Package telegram runs the quiz as a Telegram bot: updates become dispatch
// events and game messages are rendered as Telegram messages.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/goodcleanfun/plqbot/core/config"
	"github.com/goodcleanfun/plqbot/core/dispatch"
	"github.com/goodcleanfun/plqbot/core/logger"
	"github.com/goodcleanfun/plqbot/core/netutil"
	"github.com/goodcleanfun/plqbot/core/telegram/middleware"
)

// Dispatcher applies a batch of events.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch []dispatch.Event) dispatch.BatchResult
}

// NewBot builds a bot without starting it.
func NewBot(cfg *config.Config) (*tele.Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram: nil config provided")
	}
	poller := BuildPoller(PollerOptions{
		Poller:                 cfg.Telegram.Poller,
		LongPollTimeoutSeconds: cfg.Telegram.LongPollTimeoutSeconds,
		Webhook: WebhookOptions{
			Listen: cfg.Webhook.Listen,
			Port:   cfg.Webhook.Port,
			URL:    cfg.Webhook.URL,
		},
	})

	start := time.Now()
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: poller,
		Client: netutil.BuildHTTPClient(netutil.ClientOptions{}),
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}

	switch p := poller.(type) {
	case *tele.Webhook:
		logger.TG.Info("webhook mode",
			slog.String("event", "tg.mode"),
			slog.String("mode", "webhook"),
			slog.String("listen", p.Listen),
			slog.Duration("duration", logger.Took(start)),
		)
	case *tele.LongPoller:
		logger.TG.Info("polling mode",
			slog.String("event", "tg.mode"),
			slog.String("mode", "polling"),
			slog.Duration("timeout", p.Timeout),
			slog.Duration("duration", logger.Took(start)),
		)
		if err := deleteWebhook(cfg.Telegram.Token); err != nil {
			logger.TG.Warn("failed to delete webhook",
				slog.String("event", "tg.delete_webhook"),
				slog.String("err", err.Error()),
			)
		}
	}
	return bot, nil
}

// Handler turns one update into one dispatched event.
func Handler(d Dispatcher) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := middleware.ContextFrom(c)
		upd := c.Update()
		if upd.Callback != nil {
			// Stop the client-side spinner regardless of the outcome.
			_ = c.Respond()
		}
		ev, ok := EventFromUpdate(upd)
		if !ok {
			return nil
		}
		res := d.Dispatch(ctx, []dispatch.Event{ev})
		if res.Redeliver() {
			// Telegram does not redeliver an acknowledged update.
			logger.Warn(ctx, "tg", "update.lost",
				slog.String("status", "fail"),
				slog.Int("update_id", upd.ID),
			)
		}
		return nil
	}
}

// Register wires middlewares and game handlers into bot.
func Register(bot *tele.Bot, d Dispatcher) {
	bot.Use(middleware.RecoverMiddleware, middleware.LoggerMiddleware)
	h := Handler(d)
	bot.Handle(tele.OnText, h)
	bot.Handle(&tele.Btn{Unique: QuickReplyUnique}, h)
	bot.Handle(tele.OnCallback, h)
}

// Run starts bot and blocks until ctx is done.
func Run(ctx context.Context, bot *tele.Bot) error {
	runDone := make(chan struct{})
	go func() {
		bot.Start()
		close(runDone)
	}()

	select {
	case <-ctx.Done():
		bot.Stop()
		<-runDone
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	case <-runDone:
		return nil
	}
}

func deleteWebhook(token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("empty token")
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/deleteWebhook", token)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader("drop_pending_updates=false"))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deleteWebhook status: %s", resp.Status)
	}
	return nil
}
