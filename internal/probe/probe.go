// Package probe answers "is this channel live right now" with one outbound
// request per call. Probes never retry: the scheduler's polling interval is
// the retry cadence, and a failed probe only means "unknown this cycle".
package probe

import (
	"context"
	"fmt"

	"github.com/govdl/govdl/internal/model"
)

// Kind classifies probe failures for logging and metrics.
type Kind string

const (
	KindNetwork     Kind = "network"
	KindRateLimited Kind = "rate_limited"
	KindBadResponse Kind = "bad_response"
	KindAuth        Kind = "auth"
)

// Error is a per-channel, per-cycle failure. It is never fatal to the
// scheduler loop.
type Error struct {
	Kind     Kind
	Platform model.Platform
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s probe %s: %v", e.Platform, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Liveness is the answer of a single probe. TargetURL is what the capture
// tool gets pointed at when Live is true: for YouTube the concrete live
// video URL discovered by the probe, for Twitch the channel URL.
type Liveness struct {
	Live      bool
	TargetURL string
	Title     string
}

// Prober checks liveness of a single watch. Implementations are safe for
// concurrent use; one call performs one network request and has no other
// side effects.
type Prober interface {
	Platform() model.Platform
	IsLive(ctx context.Context, w model.Watch) (Liveness, error)
}
