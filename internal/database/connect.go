package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	pingTimeout     = 5 * time.Second
	connectAttempts = 5
)

// connectBackoff is the pause before the first retry. It doubles on every
// further attempt.
var connectBackoff = time.Second

// dial runs ping until it succeeds, ctx ends or connectAttempts are spent.
// Postgres and Redis often come up after the proctor in a fresh deployment.
func dial(ctx context.Context, log zerolog.Logger, target string, ping func(context.Context) error) error {
	wait := connectBackoff
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == connectAttempts {
			break
		}

		log.Warn().Err(err).
			Str("target", target).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("Connection not ready, retrying")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s: %w", target, ctx.Err())
		case <-t.C:
		}
		wait *= 2
	}
	return fmt.Errorf("%s unreachable after %d attempts: %w", target, connectAttempts, err)
}
