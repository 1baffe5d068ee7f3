package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"arbflow/internal/domain"
	"arbflow/internal/scheduler"
	"arbflow/internal/store"
)

// Release hands escrow to the counterparty once a receipt has been held
// for HoldDelay, and completes the transaction.
func (c *Coordinator) Release(ctx context.Context, sh *scheduler.Shared) (any, error) {
	countRun(sh, TaskReleaser)
	sum := Summary{Task: TaskReleaser}

	txs, err := c.deps.Store.ListTransactions(ctx, store.TxFilter{Statuses: []domain.TxStatus{domain.StatusCheckReceived}})
	if err != nil {
		return sum, fmt.Errorf("list transactions: %w", err)
	}

	now := c.deps.Now()
	var errs []error
	for _, tx := range txs {
		if tx.CheckReceivedAt == nil || now.Sub(*tx.CheckReceivedAt) < c.settings.HoldDelay {
			sum.Skipped++
			continue
		}
		if tx.OrderID == nil {
			log.Warn().Str("tx_id", tx.ID).Msg("receipt received for a transaction without an order")
			sum.Skipped++
			continue
		}

		ok, err := c.approved(ctx, sh, fmt.Sprintf("release escrow for order %s (%s %s)?", *tx.OrderID, tx.Amount, tx.Currency))
		if err != nil {
			return sum, err
		}
		if !ok {
			sum.Skipped++
			continue
		}
		if err := c.deps.P2P.ReleaseEscrow(ctx, *tx.OrderID); err != nil {
			errs = append(errs, fmt.Errorf("release escrow for %s: %w", tx.ID, err))
			continue
		}
		if err := c.transition(ctx, tx, domain.StatusCompleted, ""); err != nil {
			errs = append(errs, err)
			continue
		}
		sum.Handled++
	}
	return sum, errors.Join(errs...)
}
