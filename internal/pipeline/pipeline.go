// Package pipeline moves payouts through the P2P exchange: accept a payout,
// advertise it, talk to the counterparty, match the bank receipt and release
// escrow. Each stage is an interval task on the scheduler and reads its work
// from the transaction table, so stages never wait on each other.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"arbflow/internal/domain"
	"arbflow/internal/gateway"
	"arbflow/internal/receipt"
	"arbflow/internal/scheduler"
	"arbflow/internal/store"
)

const (
	TaskAcceptor        = "acceptor"
	TaskAdCreator       = "ad-creator"
	TaskChatListener    = "chat-listener"
	TaskReceiptListener = "receipt-listener"
	TaskReleaser        = "releaser"
)

// Shared context keys.
const (
	KeyManualMode   = "manual_mode"
	KeyBalance      = "p2p.balance"
	KeyReceiptCheck = "receipts.last_check"
	keyRunsPrefix   = "runs."
)

type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

type TransitionObserver interface {
	ObserveTransition(status domain.TxStatus)
}

type Deps struct {
	Store    store.Repository
	Payouts  gateway.PayoutGateway
	P2P      gateway.P2PGateway
	Mailbox  gateway.Mailbox // nil when no mailbox is configured
	Parser   gateway.ReceiptParser
	Confirm  Confirmer
	Observer TransitionObserver
	Now      func() time.Time
}

type Settings struct {
	Asset string
	// Price is the fiat price of one unit of Asset quoted on advertisements.
	Price decimal.Decimal
	// AutoFund tops the P2P balance up when it cannot cover a new ad.
	AutoFund bool
	// PaymentMessage is sent when an order opens. {amount}, {currency},
	// {bank} and {wallet} are substituted.
	PaymentMessage   string
	HoldDelay        time.Duration
	ReceiptTolerance decimal.Decimal
	ReceiptRetention time.Duration
	RunOnStart       bool

	AcceptorEvery  time.Duration
	AdCreatorEvery time.Duration
	ChatEvery      time.Duration
	ReceiptEvery   time.Duration
	ReleaserEvery  time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Asset:            "USDT",
		PaymentMessage:   "Переведите {amount} {currency} на {bank} {wallet} и пришлите чек после оплаты.",
		HoldDelay:        2 * time.Minute,
		ReceiptTolerance: receipt.DefaultTolerance,
		ReceiptRetention: 24 * time.Hour,
		AcceptorEvery:    10 * time.Second,
		AdCreatorEvery:   15 * time.Second,
		ChatEvery:        5 * time.Second,
		ReceiptEvery:     30 * time.Second,
		ReleaserEvery:    10 * time.Second,
	}
}

// Summary is the result of one task run.
type Summary struct {
	Task    string `json:"task"`
	Handled int    `json:"handled"`
	Skipped int    `json:"skipped"`
}

type Coordinator struct {
	deps     Deps
	settings Settings
	matcher  receipt.Matcher
}

func New(deps Deps, settings Settings) (*Coordinator, error) {
	if deps.Store == nil || deps.Payouts == nil || deps.P2P == nil {
		return nil, fmt.Errorf("pipeline: store, payout and p2p gateways are required")
	}
	if deps.Mailbox != nil && deps.Parser == nil {
		return nil, fmt.Errorf("pipeline: a mailbox needs a receipt parser")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if settings.ReceiptTolerance.IsZero() {
		settings.ReceiptTolerance = receipt.DefaultTolerance
	}
	return &Coordinator{
		deps:     deps,
		settings: settings,
		matcher:  receipt.Matcher{Tolerance: settings.ReceiptTolerance},
	}, nil
}

// Register adds the pipeline tasks to the engine. The receipt listener is
// only registered when a mailbox is configured.
func (c *Coordinator) Register(e *scheduler.Engine) error {
	opts := scheduler.IntervalOptions{RunOnStart: c.settings.RunOnStart}
	tasks := []struct {
		id    string
		fn    scheduler.IntervalFunc
		every time.Duration
	}{
		{TaskAcceptor, c.Accept, c.settings.AcceptorEvery},
		{TaskAdCreator, c.CreateAds, c.settings.AdCreatorEvery},
		{TaskChatListener, c.ListenChats, c.settings.ChatEvery},
		{TaskReceiptListener, c.ListenReceipts, c.settings.ReceiptEvery},
		{TaskReleaser, c.Release, c.settings.ReleaserEvery},
	}
	for _, t := range tasks {
		if t.id == TaskReceiptListener && c.deps.Mailbox == nil {
			log.Info().Msg("no mailbox configured, receipt listener disabled")
			continue
		}
		if err := e.RegisterInterval(t.id, t.fn, t.every, opts); err != nil {
			return fmt.Errorf("register %s: %w", t.id, err)
		}
	}
	return nil
}

// SeedTemplates upserts the configured reply templates.
func (c *Coordinator) SeedTemplates(ctx context.Context, templates []domain.ChatTemplate) error {
	for _, t := range templates {
		if err := c.deps.Store.UpsertTemplate(ctx, t); err != nil {
			return fmt.Errorf("seed template %s: %w", t.ID, err)
		}
	}
	return nil
}

// approved runs the manual gate. Outside manual mode every action is approved.
func (c *Coordinator) approved(ctx context.Context, sh *scheduler.Shared, prompt string) (bool, error) {
	if !sh.Bool(KeyManualMode) || c.deps.Confirm == nil {
		return true, nil
	}
	ok, err := c.deps.Confirm.Confirm(ctx, prompt)
	if err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}
	if !ok {
		log.Info().Str("action", prompt).Msg("declined by operator")
	}
	return ok, nil
}

func (c *Coordinator) transition(ctx context.Context, tx domain.Transaction, to domain.TxStatus, reason string) error {
	if err := c.deps.Store.UpdateStatus(ctx, tx.ID, to, c.deps.Now(), reason); err != nil {
		return fmt.Errorf("%s -> %s: %w", tx.ID, to, err)
	}
	c.observe(to)
	log.Info().Str("tx_id", tx.ID).Str("from", string(tx.Status)).Str("to", string(to)).Msg("transaction status changed")
	return nil
}

func (c *Coordinator) observe(s domain.TxStatus) {
	if c.deps.Observer != nil {
		c.deps.Observer.ObserveTransition(s)
	}
}

func countRun(sh *scheduler.Shared, task string) {
	sh.Incr(keyRunsPrefix+task, 1)
}

func (c *Coordinator) paymentMessage(tx domain.Transaction) string {
	return strings.NewReplacer(
		"{amount}", tx.Amount.String(),
		"{currency}", tx.Currency,
		"{bank}", tx.Bank,
		"{wallet}", tx.Wallet,
	).Replace(c.settings.PaymentMessage)
}
