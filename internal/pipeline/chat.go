package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"arbflow/internal/chatmatch"
	"arbflow/internal/domain"
	"arbflow/internal/scheduler"
	"arbflow/internal/store"
)

var chatStatuses = []domain.TxStatus{
	domain.StatusChatStarted,
	domain.StatusWaitingPayment,
	domain.StatusPaymentReceived,
}

// ListenChats syncs orders with transactions, sends payment details to new
// orders and answers counterparty messages from the template set.
func (c *Coordinator) ListenChats(ctx context.Context, sh *scheduler.Shared) (any, error) {
	countRun(sh, TaskChatListener)
	sum := Summary{Task: TaskChatListener}

	var errs []error
	if err := c.syncOrders(ctx); err != nil {
		errs = append(errs, err)
	}

	txs, err := c.deps.Store.ListTransactions(ctx, store.TxFilter{Statuses: chatStatuses})
	if err != nil {
		return sum, errors.Join(append(errs, fmt.Errorf("list transactions: %w", err))...)
	}
	templates, err := c.deps.Store.ActiveTemplates(ctx)
	if err != nil {
		return sum, errors.Join(append(errs, fmt.Errorf("templates: %w", err))...)
	}

	for _, tx := range txs {
		if tx.OrderID == nil {
			continue
		}
		if tx.Status == domain.StatusChatStarted {
			sent, err := c.sendPaymentDetails(ctx, sh, tx)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if sent {
				sum.Handled++
			}
		}
		n, err := c.answer(ctx, sh, tx, templates)
		if err != nil {
			errs = append(errs, err)
		}
		sum.Handled += n
	}
	return sum, errors.Join(errs...)
}

// syncOrders links open orders to the pending transaction of their ad and
// follows order status changes made by the counterparty.
func (c *Coordinator) syncOrders(ctx context.Context) error {
	orders, err := c.deps.P2P.ListOrders(ctx)
	if err != nil {
		return fmt.Errorf("list orders: %w", err)
	}
	pending, err := c.deps.Store.ListTransactions(ctx, store.TxFilter{Statuses: []domain.TxStatus{domain.StatusPending}})
	if err != nil {
		return fmt.Errorf("pending transactions: %w", err)
	}
	byAd := make(map[string]domain.Transaction, len(pending))
	for _, tx := range pending {
		if tx.AdvertisementID != "" {
			byAd[tx.AdvertisementID] = tx
		}
	}

	var errs []error
	for _, o := range orders {
		active, err := c.deps.Store.ActiveTransactionByOrder(ctx, o.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		linked := err == nil

		switch o.Status {
		case domain.OrderOpen:
			if linked {
				continue
			}
			tx, ok := byAd[o.AdvertisementID]
			if !ok {
				continue
			}
			if err := c.deps.Store.LinkOrder(ctx, tx.ID, o.ID); err != nil {
				if errors.Is(err, store.ErrOrderActive) {
					continue
				}
				errs = append(errs, fmt.Errorf("link order %s: %w", o.ID, err))
				continue
			}
			delete(byAd, o.AdvertisementID)
			c.observe(domain.StatusChatStarted)
			log.Info().Str("tx_id", tx.ID).Str("order_id", o.ID).Msg("order opened")
		case domain.OrderPaid:
			if linked && active.Status == domain.StatusWaitingPayment {
				if err := c.transition(ctx, active, domain.StatusPaymentReceived, ""); err != nil {
					errs = append(errs, err)
				}
			}
		case domain.OrderCancelled:
			if linked {
				if err := c.transition(ctx, active, domain.StatusCancelled, "order cancelled by counterparty"); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) sendPaymentDetails(ctx context.Context, sh *scheduler.Shared, tx domain.Transaction) (bool, error) {
	ok, err := c.approved(ctx, sh, fmt.Sprintf("send payment details for %s to order %s?", tx.ID, *tx.OrderID))
	if err != nil || !ok {
		return false, err
	}
	if err := c.deps.P2P.SendMessage(ctx, *tx.OrderID, c.paymentMessage(tx)); err != nil {
		return false, fmt.Errorf("send payment details for %s: %w", tx.ID, err)
	}
	if err := c.transition(ctx, tx, domain.StatusWaitingPayment, ""); err != nil {
		return false, err
	}
	if _, err := c.deps.Store.IncrementChatStep(ctx, tx.ID); err != nil {
		return true, err
	}
	return true, nil
}

// answer records new inbound messages and replies to unanswered ones.
// Messages no template matches are marked answered without a reply.
func (c *Coordinator) answer(ctx context.Context, sh *scheduler.Shared, tx domain.Transaction, templates []domain.ChatTemplate) (int, error) {
	orderID := *tx.OrderID
	msgs, err := c.deps.P2P.ListInboundMessages(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("messages for order %s: %w", orderID, err)
	}
	for _, m := range msgs {
		if !m.Inbound {
			continue
		}
		m.OrderID = orderID
		if _, err := c.deps.Store.RecordMessage(ctx, m); err != nil {
			return 0, fmt.Errorf("record message %s: %w", m.ID, err)
		}
	}

	unanswered, err := c.deps.Store.UnansweredMessages(ctx, orderID)
	if err != nil {
		return 0, err
	}
	replied := 0
	for _, m := range unanswered {
		res, ok := chatmatch.Match(m.Text, templates)
		if !ok {
			log.Debug().Str("order_id", orderID).Str("message_id", m.ID).Msg("no template matched")
			if err := c.deps.Store.MarkAnswered(ctx, m.ID, ""); err != nil {
				return replied, err
			}
			continue
		}

		ok, err := c.approved(ctx, sh, fmt.Sprintf("reply to order %s with template %s?", orderID, res.Template.ID))
		if err != nil {
			return replied, err
		}
		if !ok {
			continue
		}
		if err := c.deps.P2P.SendMessage(ctx, orderID, res.Template.Body); err != nil {
			return replied, fmt.Errorf("reply to order %s: %w", orderID, err)
		}
		if err := c.deps.Store.MarkAnswered(ctx, m.ID, res.Template.ID); err != nil {
			return replied, err
		}
		if err := c.deps.Store.RecordTemplateUse(ctx, res.Template.ID); err != nil {
			return replied, err
		}
		if _, err := c.deps.Store.IncrementChatStep(ctx, tx.ID); err != nil {
			return replied, err
		}
		log.Info().Str("order_id", orderID).Str("template", res.Template.ID).Strs("keywords", res.Matched).Msg("replied to counterparty")
		replied++
	}
	return replied, nil
}
