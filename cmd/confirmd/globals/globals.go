package globals

import (
	"context"
	"steamcommunity/internal/community"
	"steamcommunity/internal/components/telemetry"
	"steamcommunity/internal/confirmations"
	"steamcommunity/internal/totp"
)

type keyType int

var key keyType

// Value is everything the commands share, it is built once by the root
// command before any subcommand runs.
type Value struct {
	Tel           telemetry.API
	Community     *community.Client
	Offsets       *totp.OffsetSource
	Confirmations *confirmations.Client
	// Secret is nil if no identity secret is configured.
	Secret []byte
	// Expired receives the first session expiry the community client reports.
	Expired chan error
	// Shutdown flushes telemetry.
	Shutdown func(ctx context.Context) error
}

func Set(ctx context.Context, value *Value) context.Context {
	return context.WithValue(ctx, key, value)
}

func Get(ctx context.Context) *Value {
	return ctx.Value(key).(*Value)
}
