// README: Classifies backing-store failures so transports can answer 503.
package infra

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var ErrStoreUnavailable = errors.New("store unavailable")

// StoreError marks err as a store outage. Errors reported by Postgres itself
// and context cancellation pass through unchanged.
func StoreError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || errors.Is(err, context.Canceled) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
