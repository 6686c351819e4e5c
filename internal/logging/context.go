package logging

import (
	"context"
)

// Context keys for logging values. Using private types to avoid key collisions.
type contextKey int

const (
	sessionIDKey contextKey = iota
	toolCallIDKey
	componentKey
	agentKey
)

// WithSession adds a session ID to the context.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithToolCall adds a tool call ID to the context.
func WithToolCall(ctx context.Context, toolCallID string) context.Context {
	return context.WithValue(ctx, toolCallIDKey, toolCallID)
}

// WithComponent adds a component name to the context (e.g. "finalizer", "checkpoint").
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// WithAgent adds an agent name to the context (e.g. "claude-code").
func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, agentKey, agent)
}

// SessionIDFromContext extracts the session ID from the context, or "".
func SessionIDFromContext(ctx context.Context) string {
	if v := ctx.Value(sessionIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ToolCallIDFromContext extracts the tool call ID from the context, or "".
func ToolCallIDFromContext(ctx context.Context) string {
	if v := ctx.Value(toolCallIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ComponentFromContext extracts the component name from the context, or "".
func ComponentFromContext(ctx context.Context) string {
	if v := ctx.Value(componentKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// AgentFromContext extracts the agent name from the context, or "".
func AgentFromContext(ctx context.Context) string {
	if v := ctx.Value(agentKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
