package logging

import "context"

// contextKey is a private type for context keys to avoid collisions.
type contextKey int

const (
	sessionIDKey contextKey = iota
	executionIDKey
	worktreeKey
	componentKey
)

// WithSession returns a context carrying the session ID.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithExecution returns a context carrying the execution ID.
func WithExecution(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, executionIDKey, executionID)
}

// WithWorktree returns a context carrying the worktree path.
func WithWorktree(ctx context.Context, worktreePath string) context.Context {
	return context.WithValue(ctx, worktreeKey, worktreePath)
}

// WithComponent returns a context carrying the component name.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// SessionFromContext extracts the session ID from a context, if present.
func SessionFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(sessionIDKey).(string); ok {
		return s
	}
	return ""
}

// ExecutionFromContext extracts the execution ID from a context, if present.
func ExecutionFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(executionIDKey).(string); ok {
		return s
	}
	return ""
}
