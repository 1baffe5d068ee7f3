package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"arbflow/internal/domain"
	"arbflow/internal/gateway"
	"arbflow/internal/scheduler"
	"arbflow/internal/store"
)

// Accept records newly claimable payouts and claims them on the platform.
// Payouts recorded on an earlier run whose claim failed are claimed again.
func (c *Coordinator) Accept(ctx context.Context, sh *scheduler.Shared) (any, error) {
	countRun(sh, TaskAcceptor)
	sum := Summary{Task: TaskAcceptor}
	var errs []error

	pending, err := c.deps.Store.UnclaimedPayouts(ctx)
	if err != nil {
		return sum, fmt.Errorf("unclaimed payouts: %w", err)
	}
	for _, p := range pending {
		if err := c.claim(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}

	payouts, err := c.deps.Payouts.FetchClaimablePayouts(ctx)
	if err != nil {
		return sum, errors.Join(append(errs, fmt.Errorf("fetch payouts: %w", err))...)
	}
	for _, p := range payouts {
		existing, err := c.deps.Store.GetPayout(ctx, p.ID)
		if err == nil {
			if existing.Status != p.Status {
				if err := c.deps.Store.RefreshPayoutStatus(ctx, p.ID, p.Status); err != nil {
					errs = append(errs, err)
				}
			}
			sum.Skipped++
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			errs = append(errs, err)
			continue
		}

		ok, err := c.approved(ctx, sh, fmt.Sprintf("accept payout %s (%s %s)?", p.ID, p.Amount, p.Currency))
		if err != nil {
			return sum, err
		}
		if !ok {
			sum.Skipped++
			continue
		}

		p.Claimed = false
		inserted, err := c.deps.Store.RecordPayout(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("record payout %s: %w", p.ID, err))
			continue
		}
		if !inserted {
			sum.Skipped++
			continue
		}
		log.Info().Str("payout_id", p.ID).Str("amount", p.Amount.String()).Msg("payout recorded")
		if err := c.claim(ctx, p); err != nil {
			errs = append(errs, err)
			continue
		}
		sum.Handled++
	}
	return sum, errors.Join(errs...)
}

func (c *Coordinator) claim(ctx context.Context, p domain.Payout) error {
	err := c.deps.Payouts.ClaimPayout(ctx, p.ID)
	switch {
	case errors.Is(err, gateway.ErrAlreadyClaimed):
		log.Debug().Str("payout_id", p.ID).Msg("payout already claimed")
	case err != nil:
		return fmt.Errorf("claim payout %s: %w", p.ID, err)
	}
	if err := c.deps.Store.MarkPayoutClaimed(ctx, p.ID); err != nil {
		return fmt.Errorf("mark payout %s claimed: %w", p.ID, err)
	}
	return nil
}
