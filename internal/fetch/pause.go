package fetch

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/JakeFAU/article2md/internal/article"
)

// stopPollInterval bounds how long a pause can ignore a stop request.
const stopPollInterval = 200 * time.Millisecond

// Pauser sleeps between attempts. Pause returns early with an error when ctx
// ends or stop reports true.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration, stop article.StopFunc) error
}

type timerPauser struct{}

// Pause sleeps in short slices so a stop request is noticed promptly.
func (timerPauser) Pause(ctx context.Context, delay time.Duration, stop article.StopFunc) error {
	deadline := time.Now().Add(delay)
	for {
		if stop.Stopped() {
			return article.ErrStopRequested
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		step := min(remaining, stopPollInterval)
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("pause canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// Jitter returns a uniformly random duration in [lo, hi].
func Jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(hi-lo)+1))
	if err != nil {
		return lo + (hi-lo)/2
	}
	return lo + time.Duration(n.Int64())
}
