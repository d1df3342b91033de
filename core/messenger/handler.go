package messenger

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/goodcleanfun/plqbot/core/dispatch"
	"github.com/goodcleanfun/plqbot/core/logger"
)

const maxBodyBytes = 1 << 20

// Dispatcher applies a batch of events.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch []dispatch.Event) dispatch.BatchResult
}

// Server serves the webhook and the health endpoint.
type Server struct {
	router      *mux.Router
	dispatcher  Dispatcher
	verifyToken string
}

// NewServer mounts the webhook at path.
func NewServer(d Dispatcher, verifyToken, path string) *Server {
	if path == "" {
		path = "/"
	}
	s := &Server{router: mux.NewRouter(), dispatcher: d, verifyToken: verifyToken}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc(path, s.handleVerify).Methods(http.MethodGet)
	s.router.HandleFunc(path, s.handleCallback).Methods(http.MethodPost)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

// handleVerify answers the subscription handshake. A wrong token still gets
// 200 with a fixed body, as the platform only checks the echoed challenge.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.verifyToken != "" && q.Get("hub.verify_token") == s.verifyToken {
		logger.Info(r.Context(), "http", "webhook.verify", slog.String("status", "ok"))
		_, _ = io.WriteString(w, q.Get("hub.challenge"))
		return
	}
	logger.Warn(r.Context(), "http", "webhook.verify", slog.String("status", "fail"))
	_, _ = io.WriteString(w, "invalid_verify_token")
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := logger.WithRID(r.Context(), uuid.NewString())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err == nil {
		cb, skipped, derr := DecodeCallback(ctx, body)
		if derr == nil {
			s.dispatch(ctx, w, cb, skipped, start)
			return
		}
		err = derr
	}
	logger.Warn(ctx, "http", "webhook.decode",
		slog.String("status", "fail"),
		slog.String("err", err.Error()),
	)
	http.Error(w, "malformed body", http.StatusBadRequest)
}

func (s *Server) dispatch(ctx context.Context, w http.ResponseWriter, cb Callback, skipped int, start time.Time) {
	events := Events(ctx, cb)
	res := s.dispatcher.Dispatch(ctx, events)

	code := http.StatusOK
	if res.Redeliver() {
		code = http.StatusInternalServerError
	}
	logger.Info(ctx, "http", "webhook.batch",
		slog.String("status", logger.Status(res.Err())),
		slog.Int("events", len(events)),
		slog.Int("skipped", skipped),
		slog.Int("http_code", code),
		slog.Duration("duration", logger.Took(start)),
	)
	if code != http.StatusOK {
		http.Error(w, "store unavailable", code)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Events extracts playable events from a callback. Entries without
// messaging, echoes and events without a sender or a message are skipped.
func Events(ctx context.Context, cb Callback) []dispatch.Event {
	var out []dispatch.Event
	skipped := 0
	for _, entry := range cb.Entry {
		for _, m := range entry.Messaging {
			if m.Sender.ID == "" || m.Message == nil || m.Message.IsEcho {
				skipped++
				continue
			}
			ev := dispatch.Event{
				UserID:  m.Sender.ID,
				EventID: m.Message.MID,
				Text:    m.Message.Text,
			}
			if m.Message.QuickReply != nil {
				ev.QuickReplyPayload = m.Message.QuickReply.Payload
			}
			out = append(out, ev)
		}
	}
	if skipped > 0 {
		logger.Debug(ctx, "http", "webhook.skip",
			slog.String("object", cb.Object),
			slog.Int("events", skipped),
		)
	}
	return out
}
