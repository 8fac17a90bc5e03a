package challenge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

type idempotencyKeyCtx struct{}

// WithIdempotencyKey attaches a caller supplied idempotency key to ctx
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

// IdempotencyKey returns the caller supplied key carried by ctx, if any
func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyCtx{}).(string)
	return key
}

// callerKey scopes the caller's key to one operation on one account
func callerKey(ctx context.Context, op string, addr solana.PublicKey) string {
	key := IdempotencyKey(ctx)
	if key == "" {
		return ""
	}
	return fmt.Sprintf("caller:%s:%s:%s", op, addr, key)
}

// counterKey identifies an operation by the account's op counter as
// observed before submission. Any landed mutation advances the counter, so
// the key only matches repeats of a request against unchanged state.
func counterKey(op string, addr solana.PublicKey, opCounter uint64, participants []solana.PublicKey) string {
	if len(participants) == 0 {
		return fmt.Sprintf("%s:%s:%d", op, addr, opCounter)
	}
	h := sha256.New()
	for _, p := range participants {
		h.Write(p[:])
	}
	return fmt.Sprintf("%s:%s:%d:%s", op, addr, opCounter, hex.EncodeToString(h.Sum(nil)[:8]))
}
