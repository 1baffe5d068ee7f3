package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"arbflow/internal/domain"
	"arbflow/internal/gateway"
	"arbflow/internal/scheduler"
	"arbflow/internal/store"
)

// ListenReceipts matches mailbox receipts to transactions awaiting payment,
// approves the matched payout and marks the receipt received.
//
// The watermark only advances past documents that are settled, so an
// unmatched receipt is offered again until it ages out of ReceiptRetention.
func (c *Coordinator) ListenReceipts(ctx context.Context, sh *scheduler.Shared) (any, error) {
	countRun(sh, TaskReceiptListener)
	sum := Summary{Task: TaskReceiptListener}
	if c.deps.Mailbox == nil {
		return sum, nil
	}

	now := c.deps.Now()
	floor := now.Add(-c.settings.ReceiptRetention)
	since := sh.Time(KeyReceiptCheck)
	if since.IsZero() || (c.settings.ReceiptRetention > 0 && since.Before(floor)) {
		since = floor
	}

	docs, err := c.deps.Mailbox.ListDocuments(ctx, since)
	if err != nil {
		return sum, fmt.Errorf("list documents: %w", err)
	}
	candidates, err := c.deps.Store.ListTransactions(ctx, store.TxFilter{
		Statuses: []domain.TxStatus{domain.StatusWaitingPayment, domain.StatusPaymentReceived},
	})
	if err != nil {
		return sum, fmt.Errorf("list candidates: %w", err)
	}

	watermark := now
	hold := func(d domain.Document) {
		if d.ReceivedAt.Before(watermark) {
			watermark = d.ReceivedAt
		}
	}

	var errs []error
	for _, d := range docs {
		done, err := c.deps.Store.IsDocumentProcessed(ctx, d.MessageID)
		if err != nil {
			errs = append(errs, err)
			hold(d)
			continue
		}
		if done {
			continue
		}

		r, err := c.deps.Parser.Parse(ctx, d)
		if err != nil {
			if errors.Is(err, gateway.ErrUnparseable) {
				log.Warn().Str("message_id", d.MessageID).Err(err).Msg("receipt unparseable")
				if err := c.deps.Store.MarkDocumentProcessed(ctx, d.MessageID, "", "unparseable: "+err.Error()); err != nil {
					errs = append(errs, err)
					hold(d)
				}
				sum.Skipped++
				continue
			}
			errs = append(errs, fmt.Errorf("parse %s: %w", d.MessageID, err))
			hold(d)
			continue
		}

		tx, ok := c.matcher.Match(r, candidates)
		if !ok {
			log.Debug().Str("message_id", d.MessageID).Str("amount", r.Amount.String()).Msg("receipt matched no transaction")
			hold(d)
			continue
		}
		ok, err = c.approved(ctx, sh, fmt.Sprintf("approve payout for %s with receipt %s?", tx.ID, d.Filename))
		if err != nil {
			return sum, err
		}
		if !ok {
			hold(d)
			sum.Skipped++
			continue
		}
		if err := c.settle(ctx, tx, d); err != nil {
			errs = append(errs, err)
			hold(d)
			continue
		}
		candidates = without(candidates, tx.ID)
		sum.Handled++
	}

	sh.Set(KeyReceiptCheck, watermark.UTC().Format(time.RFC3339Nano))
	return sum, errors.Join(errs...)
}

func (c *Coordinator) settle(ctx context.Context, tx domain.Transaction, d domain.Document) error {
	if tx.PayoutID == nil {
		return fmt.Errorf("transaction %s has no payout", tx.ID)
	}
	if err := c.deps.Payouts.ApprovePayout(ctx, *tx.PayoutID, d.Content); err != nil {
		return fmt.Errorf("approve payout %s: %w", *tx.PayoutID, err)
	}
	if tx.Status == domain.StatusWaitingPayment {
		if err := c.transition(ctx, tx, domain.StatusPaymentReceived, ""); err != nil {
			return err
		}
		tx.Status = domain.StatusPaymentReceived
	}
	if err := c.transition(ctx, tx, domain.StatusCheckReceived, ""); err != nil {
		return err
	}
	return c.deps.Store.MarkDocumentProcessed(ctx, d.MessageID, tx.ID, "matched")
}

func without(txs []domain.Transaction, id string) []domain.Transaction {
	out := txs[:0:0]
	for _, tx := range txs {
		if tx.ID != id {
			out = append(out, tx)
		}
	}
	return out
}
