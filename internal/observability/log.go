package observability

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"
)

var logger = log.New(os.Stdout, "", 0)

// LogEvent writes one structured JSON line carrying the trace identifiers
// found in ctx plus the supplied fields. It never returns an error: a
// marshal failure degrades to a minimal error line rather than panicking a
// request path.
func LogEvent(ctx context.Context, level string, event string, fields map[string]any) {
	payload := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"level": level,
		"event": event,
	}

	info := RunInfoFromContext(ctx)
	if info.FlowID != "" {
		payload["flow_id"] = info.FlowID
	}
	if info.UserID != "" {
		payload["user_id"] = info.UserID
	}
	if info.SessionID != "" {
		payload["session_id"] = info.SessionID
	}

	for key, value := range normalizeFields(fields) {
		payload[key] = value
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("{\"level\":\"error\",\"event\":\"log_marshal_failed\",\"error\":%q}", err.Error())
		return
	}
	logger.Print(string(raw))
}

func Info(ctx context.Context, event string, fields map[string]any) {
	LogEvent(ctx, "info", event, fields)
}

func Warn(ctx context.Context, event string, fields map[string]any) {
	LogEvent(ctx, "warn", event, fields)
}

func Error(ctx context.Context, event string, fields map[string]any) {
	LogEvent(ctx, "error", event, fields)
}

// LogStepStart/LogStepEnd bracket a suspension point (§5) with consistent
// latency and outcome fields, the way every component in this core reports
// its external calls.
func LogStepStart(ctx context.Context, component, step string, input any) {
	LogEvent(ctx, "info", "step_start", map[string]any{
		"component": component,
		"step":      step,
		"input":     input,
	})
}

func LogStepEnd(ctx context.Context, component, step string, duration time.Duration, err error) {
	fields := map[string]any{
		"component":  component,
		"step":       step,
		"latency_ms": duration.Milliseconds(),
		"success":    err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogEvent(ctx, "info", "step_end", fields)
}

func normalizeFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		switch key {
		case "input", "payload":
			out[key] = RedactValue(value)
			continue
		}
		if err, ok := value.(error); ok {
			out[key] = err.Error()
			continue
		}
		out[key] = value
	}
	return out
}
