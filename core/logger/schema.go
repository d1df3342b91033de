package logger

import "strings"

var levelNames = map[string]string{
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

// statuses outside this set are kept verbatim; outcomes outside it are dropped.
var (
	knownStatus  = map[string]bool{"ok": true, "fail": true, "skip": true, "retry": true, "duplicate": true, "aborted": true}
	knownOutcome = map[string]bool{"started": true, "correct": true, "wrong": true, "finished": true, "quit": true, "ignored": true}
)

func normalizeLevel(level string) string {
	if level == "" {
		return "INFO"
	}
	if mapped, ok := levelNames[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"user_id",
	"event_id",
	"handler",
	"ts_unix_nano",
	"outcome",
	"level_id",
	"position",
	"lives",
	"messages",
	"events",
	"users",
	"duration_ms",
	"kind",
	"attempt",
	"attempts",
	"mode",
	"listen",
	"host",
	"port",
	"db",
	"http_code",
	"err",
	"error_kind",
	"cause",
}
