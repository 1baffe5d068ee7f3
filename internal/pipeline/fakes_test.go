package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"arbflow/internal/domain"
	"arbflow/internal/gateway"
	"arbflow/internal/scheduler"
	"arbflow/internal/store"
)

type fakePayouts struct {
	claimable []domain.Payout
	claimErr  error
	claims    map[string]int
	approved  map[string][]byte
}

func (f *fakePayouts) FetchClaimablePayouts(context.Context) ([]domain.Payout, error) {
	return f.claimable, nil
}

func (f *fakePayouts) ClaimPayout(_ context.Context, id string) error {
	f.claims[id]++
	return f.claimErr
}

func (f *fakePayouts) ApprovePayout(_ context.Context, id string, receipt []byte) error {
	f.approved[id] = receipt
	return nil
}

type sent struct {
	order string
	text  string
}

type fakeP2P struct {
	balance  decimal.Decimal
	funded   []decimal.Decimal
	ads      []domain.AdSpec
	orders   []domain.Order
	inbound  map[string][]domain.Message
	sent     []sent
	released []string
}

func (f *fakeP2P) ReadBalance(context.Context, string) (decimal.Decimal, error) { return f.balance, nil }

func (f *fakeP2P) SetBalance(_ context.Context, _ string, amount decimal.Decimal) error {
	f.funded = append(f.funded, amount)
	f.balance = amount
	return nil
}

func (f *fakeP2P) CreateAdvertisement(_ context.Context, spec domain.AdSpec) (string, error) {
	f.ads = append(f.ads, spec)
	return fmt.Sprintf("ad-%d", len(f.ads)), nil
}

func (f *fakeP2P) ListOrders(context.Context) ([]domain.Order, error) { return f.orders, nil }

func (f *fakeP2P) ListInboundMessages(_ context.Context, orderID string) ([]domain.Message, error) {
	return f.inbound[orderID], nil
}

func (f *fakeP2P) SendMessage(_ context.Context, orderID, text string) error {
	f.sent = append(f.sent, sent{orderID, text})
	return nil
}

func (f *fakeP2P) ReleaseEscrow(_ context.Context, orderID string) error {
	f.released = append(f.released, orderID)
	return nil
}

type fakeMailbox struct {
	docs  []domain.Document
	since []time.Time
}

func (f *fakeMailbox) ListDocuments(_ context.Context, since time.Time) ([]domain.Document, error) {
	f.since = append(f.since, since)
	var out []domain.Document
	for _, d := range f.docs {
		if !d.ReceivedAt.Before(since) {
			out = append(out, d)
		}
	}
	return out, nil
}

// fakeParser resolves a document by message id.
type fakeParser map[string]domain.Receipt

func (f fakeParser) Parse(_ context.Context, d domain.Document) (domain.Receipt, error) {
	r, ok := f[d.MessageID]
	if !ok {
		return domain.Receipt{}, fmt.Errorf("%w: %s", gateway.ErrUnparseable, d.Filename)
	}
	return r, nil
}

type recordingConfirmer struct {
	answer  bool
	prompts []string
}

func (r *recordingConfirmer) Confirm(_ context.Context, prompt string) (bool, error) {
	r.prompts = append(r.prompts, prompt)
	return r.answer, nil
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

type harness struct {
	c       *Coordinator
	repo    store.Repository
	payouts *fakePayouts
	p2p     *fakeP2P
	mail    *fakeMailbox
	parser  fakeParser
	confirm *recordingConfirmer
	clock   *clock
	sh      *scheduler.Shared
}

var t0 = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, mutate func(*Settings)) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "arbflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		repo:    store.NewSQLiteRepo(db),
		payouts: &fakePayouts{claims: map[string]int{}, approved: map[string][]byte{}},
		p2p:     &fakeP2P{balance: decimal.NewFromInt(1000), inbound: map[string][]domain.Message{}},
		mail:    &fakeMailbox{},
		parser:  fakeParser{},
		confirm: &recordingConfirmer{answer: true},
		clock:   &clock{t: t0},
		sh:      scheduler.NewShared(nil),
	}
	settings := DefaultSettings()
	if mutate != nil {
		mutate(&settings)
	}
	h.c, err = New(Deps{
		Store:   h.repo,
		Payouts: h.payouts,
		P2P:     h.p2p,
		Mailbox: h.mail,
		Parser:  h.parser,
		Confirm: h.confirm,
		Now:     h.clock.Now,
	}, settings)
	require.NoError(t, err)
	return h
}

func (h *harness) run(t *testing.T, fn scheduler.IntervalFunc) Summary {
	t.Helper()
	res, err := fn(context.Background(), h.sh)
	require.NoError(t, err)
	return res.(Summary)
}

func (h *harness) tx(t *testing.T, payoutID string) domain.Transaction {
	t.Helper()
	tx, err := h.repo.TransactionByPayout(context.Background(), payoutID)
	require.NoError(t, err)
	return tx
}

var errBoom = errors.New("boom")

func payout(id string, amount int64, wallet string) domain.Payout {
	return domain.Payout{ID: id, Amount: decimal.NewFromInt(amount), Currency: "RUB", Wallet: wallet, BankHint: "Тинькофф"}
}

// flakyStore fails the first failCreate CreateTransaction calls and the first
// failSetAd SetAdvertisement calls.
type flakyStore struct {
	store.Repository
	failCreate int
	failSetAd  int
}

func (f *flakyStore) CreateTransaction(ctx context.Context, t domain.Transaction) (string, bool, error) {
	if f.failCreate > 0 {
		f.failCreate--
		return "", false, errBoom
	}
	return f.Repository.CreateTransaction(ctx, t)
}

func (f *flakyStore) SetAdvertisement(ctx context.Context, txID, adID string) error {
	if f.failSetAd > 0 {
		f.failSetAd--
		return errBoom
	}
	return f.Repository.SetAdvertisement(ctx, txID, adID)
}
