// Package guard implements the cheap-first admission checks of the send
// pipeline: timestamp freshness, nonce shape, and the optimistic replay
// pre-check. The durable store's uniqueness constraints stay the
// authoritative replay guard; the pre-check only saves the crypto and
// insert work for the common duplicate.
package guard

import (
	"context"
	"encoding/base64"
	"time"

	apperrors "sigchat/pkg/errors"
)

// NonceSize is the required decoded nonce length in bytes.
const NonceSize = 16

// ReplayChecker is the store-side pre-check collaborator.
type ReplayChecker interface {
	ExistsByHashOrNonce(ctx context.Context, hash, nonce []byte) (bool, error)
}

type Guard struct {
	window  time.Duration
	store   ReplayChecker
	nowFunc func() time.Time
}

func New(window time.Duration, store ReplayChecker) *Guard {
	return &Guard{
		window:  window,
		store:   store,
		nowFunc: time.Now,
	}
}

// CheckFreshness accepts timestamps within ±window of now, boundary
// inclusive. Evaluated once, before any signature or store work.
func (g *Guard) CheckFreshness(clientTimestamp time.Time) error {
	drift := g.nowFunc().Sub(clientTimestamp)
	if drift < 0 {
		drift = -drift
	}
	if drift > g.window {
		return apperrors.Freshness("timestamp invalid or expired")
	}
	return nil
}

// DecodeNonce enforces the 16-bytes-when-decoded rule.
func DecodeNonce(nonceBase64 string) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(nonceBase64)
	if err != nil {
		return nil, apperrors.InvalidArg("invalid payload")
	}
	if len(nonce) != NonceSize {
		return nil, apperrors.InvalidArg("invalid payload")
	}
	return nonce, nil
}

// CheckReplay is the optimistic early exit. A miss here proves nothing
// under concurrency; the insert's constraint violation is what finally
// rejects a racing duplicate.
func (g *Guard) CheckReplay(ctx context.Context, hash, nonce []byte) error {
	seen, err := g.store.ExistsByHashOrNonce(ctx, hash, nonce)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "server error", err)
	}
	if seen {
		return apperrors.Replay("replay detected")
	}
	return nil
}
