package app

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/lanlink/internal/core"
)

// GatherMode selects how a relay negotiation waits before shipping its
// description across the overlay.
type GatherMode string

const (
	// GatherComplete waits for ICE gathering to finish, bounded by the grace.
	GatherComplete GatherMode = "gathering"
	// GatherFixed always sleeps for the whole grace period.
	GatherFixed GatherMode = "fixed"
)

const DefaultRelayGrace = 5 * time.Second

// GatherPolicy decides when a relayed offer or answer is ready to send.
type GatherPolicy interface {
	Wait(ctx context.Context, pc core.PeerConnection) error
}

// NewGatherPolicy maps a config mode onto a policy. Unknown modes fall back
// to GatherComplete.
func NewGatherPolicy(mode GatherMode, grace time.Duration) GatherPolicy {
	if grace <= 0 {
		grace = DefaultRelayGrace
	}
	if mode == GatherFixed {
		return FixedGrace{Grace: grace}
	}
	return GatheringComplete{Grace: grace}
}

type FixedGrace struct {
	Grace time.Duration
}

func (p FixedGrace) Wait(ctx context.Context, _ core.PeerConnection) error {
	t := time.NewTimer(p.Grace)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type GatheringComplete struct {
	Grace time.Duration
}

// Wait returns nil once gathering completes or the grace expires; whatever
// candidates exist by then go out with the description.
func (p GatheringComplete) Wait(ctx context.Context, pc core.PeerConnection) error {
	waitCtx, cancel := context.WithTimeout(ctx, p.Grace)
	defer cancel()
	err := pc.WaitGathering(waitCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil
	}
	return err
}
