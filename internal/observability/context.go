package observability

import "context"

type contextKey string

const (
	flowIDKey    contextKey = "flow_id"
	userIDKey    contextKey = "user_id"
	sessionIDKey contextKey = "session_id"
)

// RunInfo carries trace identifiers through a request context. FlowID spans
// an entire client turn (route → compliance → execution); SessionID and
// UserID identify the chat session and client the turn belongs to.
type RunInfo struct {
	FlowID    string
	UserID    string
	SessionID string
}

func WithRunInfo(ctx context.Context, info RunInfo) context.Context {
	if info.FlowID != "" {
		ctx = context.WithValue(ctx, flowIDKey, info.FlowID)
	}
	if info.UserID != "" {
		ctx = context.WithValue(ctx, userIDKey, info.UserID)
	}
	if info.SessionID != "" {
		ctx = context.WithValue(ctx, sessionIDKey, info.SessionID)
	}
	return ctx
}

func RunInfoFromContext(ctx context.Context) RunInfo {
	info := RunInfo{}
	if v := ctx.Value(flowIDKey); v != nil {
		if s, ok := v.(string); ok {
			info.FlowID = s
		}
	}
	if v := ctx.Value(userIDKey); v != nil {
		if s, ok := v.(string); ok {
			info.UserID = s
		}
	}
	if v := ctx.Value(sessionIDKey); v != nil {
		if s, ok := v.(string); ok {
			info.SessionID = s
		}
	}
	return info
}

// WithFlowID attaches a flow_id to the context.
func WithFlowID(ctx context.Context, flowID string) context.Context {
	if flowID == "" {
		return ctx
	}
	return context.WithValue(ctx, flowIDKey, flowID)
}

// FlowIDFromContext retrieves the flow_id set by WithFlowID.
func FlowIDFromContext(ctx context.Context) string {
	if v := ctx.Value(flowIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithUserID attaches the acting user id to the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}
