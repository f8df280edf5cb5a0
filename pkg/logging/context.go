package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey     contextKey = "trace_id"
	EventIDKey     contextKey = "event_id"
	ChannelKey     contextKey = "channel"
	RequestIDKey   contextKey = "request_id"
	ServiceNameKey contextKey = "service_name"
)

// fieldOrder fixes the order context fields are emitted in log lines.
var fieldOrder = []contextKey{ServiceNameKey, RequestIDKey, TraceIDKey, ChannelKey, EventIDKey}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, EventIDKey, eventID)
}

func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ChannelKey, channel)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func get(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetTraceID(ctx context.Context) string     { return get(ctx, TraceIDKey) }
func GetEventID(ctx context.Context) string     { return get(ctx, EventIDKey) }
func GetChannel(ctx context.Context) string     { return get(ctx, ChannelKey) }
func GetRequestID(ctx context.Context) string   { return get(ctx, RequestIDKey) }
func GetServiceName(ctx context.Context) string { return get(ctx, ServiceNameKey) }

// GetLogFields returns the non-empty context values as zap key/value pairs.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 2*len(fieldOrder))
	for _, key := range fieldOrder {
		if v := get(ctx, key); v != "" {
			fields = append(fields, string(key), v)
		}
	}
	return fields
}
