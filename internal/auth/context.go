package auth

import (
	"context"
	"errors"
)

var (
	ErrNoUser      = errors.New("auth: user_id not in context")
	ErrNoWorkspace = errors.New("auth: workspace_id not in context")
	ErrNoRole      = errors.New("auth: role not in context")
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxWorkspaceID
	ctxRole
)

func WithIdentity(ctx context.Context, userID, workspaceID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxWorkspaceID, workspaceID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxUserID).(string); ok && s != "" {
		return s, nil
	}
	return "", ErrNoUser
}

func WorkspaceID(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxWorkspaceID).(string); ok && s != "" {
		return s, nil
	}
	return "", ErrNoWorkspace
}

func Role(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxRole).(string); ok && s != "" {
		return s, nil
	}
	return "", ErrNoRole
}
