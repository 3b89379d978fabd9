package logging

import (
	"context"

	"go.viam.com/utils"
)

type debugKeyCtxKey struct{}

// EnableDebugMode returns a context under which the C* logging methods emit regardless of the
// logger's level. key labels the reason; an empty key is replaced with a random one.
func EnableDebugMode(ctx context.Context, key string) context.Context {
	if key == "" {
		key = utils.RandomAlphaString(6)
	}
	return context.WithValue(ctx, debugKeyCtxKey{}, key)
}

// IsDebugMode reports whether ctx was returned by EnableDebugMode.
func IsDebugMode(ctx context.Context) bool {
	return DebugKey(ctx) != ""
}

// DebugKey returns the key ctx was passed to EnableDebugMode with, or "".
func DebugKey(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	key, _ := ctx.Value(debugKeyCtxKey{}).(string)
	return key
}
