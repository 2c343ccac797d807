package logger

import "context"

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for fields automatically promoted onto every log record
// written while the given context.Context is in scope.
const (
	ContextKeyRequestID     contextKey = "request_id"
	ContextKeyCorrelationID contextKey = "correlation_id"
	ContextKeyConnectionID  contextKey = "connection_id"
	ContextKeyProcedure     contextKey = "procedure"
	ContextKeyTransport     contextKey = "transport"
	ContextKeyChannel       contextKey = "channel"
	ContextKeyEnvironment   contextKey = "environment"
)

// allContextKeys lists all context keys the handler extracts for logging.
var allContextKeys = []contextKey{
	ContextKeyRequestID,
	ContextKeyCorrelationID,
	ContextKeyConnectionID,
	ContextKeyProcedure,
	ContextKeyTransport,
	ContextKeyChannel,
	ContextKeyEnvironment,
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyCorrelationID, id)
}

func WithConnectionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyConnectionID, id)
}

func WithProcedure(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ContextKeyProcedure, name)
}

func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, ContextKeyTransport, transport)
}

func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ContextKeyChannel, channel)
}

func WithEnvironment(ctx context.Context, env string) context.Context {
	return context.WithValue(ctx, ContextKeyEnvironment, env)
}

// Fields holds the standard logging fields carried on a context.
type Fields struct {
	RequestID     string
	CorrelationID string
	ConnectionID  string
	Procedure     string
	Transport     string
	Channel       string
	Environment   string
}

// WithFields sets every non-empty field on ctx in one call.
func WithFields(ctx context.Context, f Fields) context.Context {
	if f.RequestID != "" {
		ctx = WithRequestID(ctx, f.RequestID)
	}
	if f.CorrelationID != "" {
		ctx = WithCorrelationID(ctx, f.CorrelationID)
	}
	if f.ConnectionID != "" {
		ctx = WithConnectionID(ctx, f.ConnectionID)
	}
	if f.Procedure != "" {
		ctx = WithProcedure(ctx, f.Procedure)
	}
	if f.Transport != "" {
		ctx = WithTransport(ctx, f.Transport)
	}
	if f.Channel != "" {
		ctx = WithChannel(ctx, f.Channel)
	}
	if f.Environment != "" {
		ctx = WithEnvironment(ctx, f.Environment)
	}
	return ctx
}

// ExtractFields reads back every field WithFields may have set.
func ExtractFields(ctx context.Context) Fields {
	var f Fields
	if v, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		f.RequestID = v
	}
	if v, ok := ctx.Value(ContextKeyCorrelationID).(string); ok {
		f.CorrelationID = v
	}
	if v, ok := ctx.Value(ContextKeyConnectionID).(string); ok {
		f.ConnectionID = v
	}
	if v, ok := ctx.Value(ContextKeyProcedure).(string); ok {
		f.Procedure = v
	}
	if v, ok := ctx.Value(ContextKeyTransport).(string); ok {
		f.Transport = v
	}
	if v, ok := ctx.Value(ContextKeyChannel).(string); ok {
		f.Channel = v
	}
	if v, ok := ctx.Value(ContextKeyEnvironment).(string); ok {
		f.Environment = v
	}
	return f
}
