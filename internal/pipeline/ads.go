package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"arbflow/internal/domain"
	"arbflow/internal/scheduler"
)

// CreateAds opens a pending transaction for every claimed payout that has
// none yet, then posts one advertisement per pending transaction without
// one. The transaction row is written before the advertisement is requested
// and the request is reserved on the row, so a failed write never leads to
// a second advertisement for the same payout.
func (c *Coordinator) CreateAds(ctx context.Context, sh *scheduler.Shared) (any, error) {
	countRun(sh, TaskAdCreator)
	sum := Summary{Task: TaskAdCreator}

	var errs []error
	if err := c.reserveTransactions(ctx, &sum); err != nil {
		errs = append(errs, err)
	}

	txs, err := c.deps.Store.UnadvertisedTransactions(ctx)
	if err != nil {
		return sum, errors.Join(append(errs, fmt.Errorf("unadvertised transactions: %w", err))...)
	}
	if len(txs) == 0 {
		return sum, errors.Join(errs...)
	}

	balance, err := c.deps.P2P.ReadBalance(ctx, c.settings.Asset)
	if err != nil {
		return sum, errors.Join(append(errs, fmt.Errorf("read balance: %w", err))...)
	}
	sh.Set(KeyBalance, balance.String())

	for _, tx := range txs {
		need := c.assetFor(tx.Amount)
		if need.GreaterThan(balance) {
			if !c.settings.AutoFund {
				log.Warn().Str("tx_id", tx.ID).Str("need", need.String()).Str("balance", balance.String()).Msg("insufficient p2p balance")
				sum.Skipped++
				continue
			}
			ok, err := c.approved(ctx, sh, fmt.Sprintf("fund p2p balance to %s %s?", need, c.settings.Asset))
			if err != nil {
				return sum, err
			}
			if !ok {
				sum.Skipped++
				continue
			}
			if err := c.deps.P2P.SetBalance(ctx, c.settings.Asset, need); err != nil {
				errs = append(errs, fmt.Errorf("fund balance for %s: %w", tx.ID, err))
				continue
			}
			balance = need
		}

		payoutID := ""
		if tx.PayoutID != nil {
			payoutID = *tx.PayoutID
		}
		ok, err := c.approved(ctx, sh, fmt.Sprintf("create advertisement for payout %s (%s %s)?", payoutID, tx.Amount, tx.Currency))
		if err != nil {
			return sum, err
		}
		if !ok {
			sum.Skipped++
			continue
		}

		reserved, err := c.deps.Store.ReserveAdvertisement(ctx, tx.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("reserve advertisement for %s: %w", tx.ID, err))
			continue
		}
		if !reserved {
			sum.Skipped++
			continue
		}

		adID, err := c.deps.P2P.CreateAdvertisement(ctx, domain.AdSpec{
			PayoutID: payoutID,
			Asset:    c.settings.Asset,
			Amount:   tx.Amount,
			Currency: tx.Currency,
			Price:    c.settings.Price,
			Bank:     tx.Bank,
		})
		if err != nil {
			if rerr := c.deps.Store.ReleaseAdvertisement(ctx, tx.ID); rerr != nil {
				errs = append(errs, fmt.Errorf("release advertisement for %s: %w", tx.ID, rerr))
			}
			errs = append(errs, fmt.Errorf("create advertisement for %s: %w", tx.ID, err))
			continue
		}
		if err := c.deps.Store.SetAdvertisement(ctx, tx.ID, adID); err != nil {
			// The reservation stays so the payout is not advertised twice.
			log.Error().Err(err).Str("tx_id", tx.ID).Str("ad_id", adID).Msg("advertisement posted but not recorded")
			errs = append(errs, fmt.Errorf("record advertisement %s for %s: %w", adID, tx.ID, err))
			continue
		}

		balance = balance.Sub(need)
		sh.Set(KeyBalance, balance.String())
		log.Info().Str("tx_id", tx.ID).Str("payout_id", payoutID).Str("ad_id", adID).Msg("advertisement created")
		sum.Handled++
	}
	return sum, errors.Join(errs...)
}

// reserveTransactions writes a pending transaction for each claimed payout
// that qualifies for an advertisement.
func (c *Coordinator) reserveTransactions(ctx context.Context, sum *Summary) error {
	payouts, err := c.deps.Store.UnlinkedPayouts(ctx)
	if err != nil {
		return fmt.Errorf("unlinked payouts: %w", err)
	}

	var errs []error
	for _, p := range payouts {
		if !p.Amount.IsPositive() {
			log.Warn().Str("payout_id", p.ID).Str("amount", p.Amount.String()).Msg("skipping payout with non-positive amount")
			sum.Skipped++
			continue
		}
		blocked, err := c.deps.Store.IsBlacklisted(ctx, p.Wallet)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if blocked {
			log.Warn().Str("payout_id", p.ID).Msg("skipping payout to blacklisted wallet")
			sum.Skipped++
			continue
		}

		payoutID := p.ID
		txID, created, err := c.deps.Store.CreateTransaction(ctx, domain.Transaction{
			PayoutID: &payoutID,
			Status:   domain.StatusPending,
			Amount:   p.Amount,
			Currency: p.Currency,
			Wallet:   p.Wallet,
			Bank:     p.BankHint,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("create transaction for %s: %w", p.ID, err))
			continue
		}
		if created {
			c.observe(domain.StatusPending)
			log.Info().Str("tx_id", txID).Str("payout_id", p.ID).Msg("transaction opened")
		}
	}
	return errors.Join(errs...)
}

// assetFor converts a fiat amount into units of the traded asset. Without
// a configured price no balance is reserved.
func (c *Coordinator) assetFor(fiat decimal.Decimal) decimal.Decimal {
	if !c.settings.Price.IsPositive() {
		return decimal.Zero
	}
	return fiat.DivRound(c.settings.Price, 8)
}
