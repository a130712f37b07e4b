// Package ledger implements the append-only audit ledgers: agent memory,
// compliance determinations, and payment requests, plus the agent profile
// registry. Every write authorizes through the immutability guard and
// carries a pre-generated id so a retried write after a lost acknowledgment
// has at-most-once visible effect.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/finpilot/orchestrator/internal/domain"
	"github.com/finpilot/orchestrator/internal/store"
)

// appendWithRetry runs a write a bounded number of times with exponential
// backoff. A unique-constraint conflict means an earlier attempt already
// landed, which counts as success. Exhausted retries surface as
// StorageUnavailable.
func appendWithRetry(ctx context.Context, attempts int, write func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := write()
		if err == nil || store.IsConflict(err) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(attempts)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}
