package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"arbflow/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOrderActive       = errors.New("order already has an active transaction")
)

// Open opens the SQLite database at path and applies the schema.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := EnsureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS payouts (
  id TEXT PRIMARY KEY,
  amount TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT '',
  wallet TEXT NOT NULL DEFAULT '',
  bank_hint TEXT NOT NULL DEFAULT '',
  status INTEGER NOT NULL DEFAULT 0,
  claimed INTEGER NOT NULL DEFAULT 0,
  recorded_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY,
  payout_id TEXT,
  advertisement_id TEXT NOT NULL DEFAULT '',
  ad_requested_at DATETIME,
  order_id TEXT,
  status TEXT NOT NULL CHECK(status IN ('pending','chat_started','waiting_payment','payment_received','check_received','completed','failed','cancelled')) DEFAULT 'pending',
  chat_step INTEGER NOT NULL DEFAULT 0,
  amount TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT '',
  wallet TEXT NOT NULL DEFAULT '',
  bank TEXT NOT NULL DEFAULT '',
  payment_sent_at DATETIME,
  check_received_at DATETIME,
  completed_at DATETIME,
  failure_reason TEXT NOT NULL DEFAULT '',
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tx_payout ON transactions(payout_id) WHERE payout_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_tx_active_order ON transactions(order_id)
  WHERE order_id IS NOT NULL AND status NOT IN ('completed','failed','cancelled');
CREATE INDEX IF NOT EXISTS idx_tx_status ON transactions(status, created_at);
CREATE INDEX IF NOT EXISTS idx_tx_ad ON transactions(advertisement_id);
CREATE TABLE IF NOT EXISTS chat_messages (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  text TEXT NOT NULL,
  inbound INTEGER NOT NULL DEFAULT 1,
  sent_at DATETIME NOT NULL,
  answered INTEGER NOT NULL DEFAULT 0,
  template_id TEXT,
  recorded_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_unanswered ON chat_messages(order_id, inbound, answered);
CREATE TABLE IF NOT EXISTS chat_templates (
  id TEXT PRIMARY KEY,
  keywords TEXT NOT NULL,
  body TEXT NOT NULL,
  priority INTEGER NOT NULL DEFAULT 0,
  active INTEGER NOT NULL DEFAULT 1,
  uses INTEGER NOT NULL DEFAULT 0,
  updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS processed_documents (
  message_id TEXT PRIMARY KEY,
  transaction_id TEXT,
  note TEXT NOT NULL DEFAULT '',
  processed_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS wallet_blacklist (
  wallet TEXT PRIMARY KEY,
  reason TEXT NOT NULL DEFAULT '',
  created_at DATETIME NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

type TxFilter struct {
	Statuses []domain.TxStatus
	Limit    int
}

type Repository interface {
	// Payouts
	RecordPayout(ctx context.Context, p domain.Payout) (bool, error)
	GetPayout(ctx context.Context, id string) (domain.Payout, error)
	RefreshPayoutStatus(ctx context.Context, id string, status int) error
	MarkPayoutClaimed(ctx context.Context, id string) error
	UnclaimedPayouts(ctx context.Context) ([]domain.Payout, error)
	UnlinkedPayouts(ctx context.Context) ([]domain.Payout, error)

	// Transactions
	CreateTransaction(ctx context.Context, t domain.Transaction) (string, bool, error)
	GetTransaction(ctx context.Context, id string) (domain.Transaction, error)
	TransactionByPayout(ctx context.Context, payoutID string) (domain.Transaction, error)
	ActiveTransactionByOrder(ctx context.Context, orderID string) (domain.Transaction, error)
	ListTransactions(ctx context.Context, f TxFilter) ([]domain.Transaction, error)
	LinkOrder(ctx context.Context, txID, orderID string) error
	UpdateStatus(ctx context.Context, txID string, to domain.TxStatus, at time.Time, reason string) error
	IncrementChatStep(ctx context.Context, txID string) (int, error)

	// Advertisements
	UnadvertisedTransactions(ctx context.Context) ([]domain.Transaction, error)
	ReserveAdvertisement(ctx context.Context, txID string) (bool, error)
	ReleaseAdvertisement(ctx context.Context, txID string) error
	SetAdvertisement(ctx context.Context, txID, adID string) error

	// Chat
	RecordMessage(ctx context.Context, m domain.Message) (bool, error)
	UnansweredMessages(ctx context.Context, orderID string) ([]domain.Message, error)
	MarkAnswered(ctx context.Context, messageID, templateID string) error
	UpsertTemplate(ctx context.Context, t domain.ChatTemplate) error
	ActiveTemplates(ctx context.Context) ([]domain.ChatTemplate, error)
	RecordTemplateUse(ctx context.Context, id string) error

	// Receipts
	IsDocumentProcessed(ctx context.Context, messageID string) (bool, error)
	MarkDocumentProcessed(ctx context.Context, messageID, txID, note string) error

	// Blacklist
	AddToBlacklist(ctx context.Context, wallet, reason string) error
	IsBlacklisted(ctx context.Context, wallet string) (bool, error)
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func now() time.Time { return time.Now().UTC() }

func (r *sqliteRepo) RecordPayout(ctx context.Context, p domain.Payout) (bool, error) {
	ts := now()
	res, err := r.db.ExecContext(ctx, `
INSERT OR IGNORE INTO payouts (id,amount,currency,wallet,bank_hint,status,claimed,recorded_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`, p.ID, p.Amount, p.Currency, p.Wallet, p.BankHint, p.Status, p.Claimed, ts, ts)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

const payoutCols = `id,amount,currency,wallet,bank_hint,status,claimed,recorded_at`

func scanPayout(row interface{ Scan(...any) error }) (domain.Payout, error) {
	var p domain.Payout
	err := row.Scan(&p.ID, &p.Amount, &p.Currency, &p.Wallet, &p.BankHint, &p.Status, &p.Claimed, &p.RecordedAt)
	return p, err
}

func (r *sqliteRepo) GetPayout(ctx context.Context, id string) (domain.Payout, error) {
	p, err := scanPayout(r.db.QueryRowContext(ctx, `SELECT `+payoutCols+` FROM payouts WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Payout{}, fmt.Errorf("payout %s: %w", id, ErrNotFound)
	}
	return p, err
}

func (r *sqliteRepo) RefreshPayoutStatus(ctx context.Context, id string, status int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE payouts SET status=?, updated_at=? WHERE id=?`, status, now(), id)
	return err
}

func (r *sqliteRepo) MarkPayoutClaimed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE payouts SET claimed=1, updated_at=? WHERE id=?`, now(), id)
	return err
}

func (r *sqliteRepo) UnclaimedPayouts(ctx context.Context) ([]domain.Payout, error) {
	return r.queryPayouts(ctx, `SELECT `+payoutCols+` FROM payouts WHERE claimed=0 ORDER BY recorded_at`)
}

func (r *sqliteRepo) UnlinkedPayouts(ctx context.Context) ([]domain.Payout, error) {
	return r.queryPayouts(ctx, `
SELECT `+payoutCols+` FROM payouts p
WHERE claimed=1 AND NOT EXISTS (SELECT 1 FROM transactions t WHERE t.payout_id = p.id)
ORDER BY recorded_at`)
}

func (r *sqliteRepo) queryPayouts(ctx context.Context, q string, args ...any) ([]domain.Payout, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateTransaction inserts t unless a transaction already exists for its
// payout, in which case the existing id is returned with created=false.
func (r *sqliteRepo) CreateTransaction(ctx context.Context, t domain.Transaction) (string, bool, error) {
	if t.PayoutID != nil {
		existing, err := r.TransactionByPayout(ctx, *t.PayoutID)
		if err == nil {
			return existing.ID, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", false, err
		}
	}
	id := t.ID
	if id == "" {
		id = "tx_" + uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	ts := now()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO transactions (id,payout_id,advertisement_id,order_id,status,chat_step,amount,currency,wallet,bank,failure_reason,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,'',?,?)
`, id, t.PayoutID, t.AdvertisementID, t.OrderID, t.Status, t.ChatStep, t.Amount, t.Currency, t.Wallet, t.Bank, ts, ts)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

const txCols = `id,payout_id,advertisement_id,order_id,status,chat_step,amount,currency,wallet,bank,payment_sent_at,check_received_at,completed_at,failure_reason,created_at,updated_at`

func scanTx(row interface{ Scan(...any) error }) (domain.Transaction, error) {
	var t domain.Transaction
	var payoutID, orderID sql.NullString
	var sent, check, done sql.NullTime
	err := row.Scan(&t.ID, &payoutID, &t.AdvertisementID, &orderID, &t.Status, &t.ChatStep, &t.Amount, &t.Currency,
		&t.Wallet, &t.Bank, &sent, &check, &done, &t.FailureReason, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	if payoutID.Valid {
		t.PayoutID = &payoutID.String
	}
	if orderID.Valid {
		t.OrderID = &orderID.String
	}
	t.PaymentSentAt = nullTime(sent)
	t.CheckReceivedAt = nullTime(check)
	t.CompletedAt = nullTime(done)
	return t, nil
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func (r *sqliteRepo) getTx(ctx context.Context, what, q string, args ...any) (domain.Transaction, error) {
	t, err := scanTx(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", what, ErrNotFound)
	}
	return t, err
}

func (r *sqliteRepo) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	return r.getTx(ctx, id, `SELECT `+txCols+` FROM transactions WHERE id=?`, id)
}

func (r *sqliteRepo) TransactionByPayout(ctx context.Context, payoutID string) (domain.Transaction, error) {
	return r.getTx(ctx, "for payout "+payoutID, `SELECT `+txCols+` FROM transactions WHERE payout_id=?`, payoutID)
}

func (r *sqliteRepo) ActiveTransactionByOrder(ctx context.Context, orderID string) (domain.Transaction, error) {
	return r.getTx(ctx, "for order "+orderID, `
SELECT `+txCols+` FROM transactions
WHERE order_id=? AND status NOT IN ('completed','failed','cancelled')`, orderID)
}

func (r *sqliteRepo) ListTransactions(ctx context.Context, f TxFilter) ([]domain.Transaction, error) {
	q := `SELECT ` + txCols + ` FROM transactions`
	var args []any
	if len(f.Statuses) > 0 {
		q += ` WHERE status IN (?` + strings.Repeat(",?", len(f.Statuses)-1) + `)`
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	q += ` ORDER BY created_at`
	if f.Limit > 0 {
		q += ` DESC LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LinkOrder attaches orderID to a pending transaction and moves it to
// chat_started. An order can back at most one non-terminal transaction.
func (r *sqliteRepo) LinkOrder(ctx context.Context, txID, orderID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var other string
	err = tx.QueryRowContext(ctx, `
SELECT id FROM transactions WHERE order_id=? AND id<>? AND status NOT IN ('completed','failed','cancelled')`, orderID, txID).Scan(&other)
	if err == nil {
		return fmt.Errorf("%w: order %s held by %s", ErrOrderActive, orderID, other)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	var status domain.TxStatus
	if err := tx.QueryRowContext(ctx, `SELECT status FROM transactions WHERE id=?`, txID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("transaction %s: %w", txID, ErrNotFound)
		}
		return err
	}
	if !domain.CanTransition(status, domain.StatusChatStarted) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, domain.StatusChatStarted)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE transactions SET order_id=?, status=?, updated_at=? WHERE id=?`,
		orderID, domain.StatusChatStarted, now(), txID); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateStatus moves a transaction forward and stamps the timestamp that
// belongs to the new status.
func (r *sqliteRepo) UpdateStatus(ctx context.Context, txID string, to domain.TxStatus, at time.Time, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var from domain.TxStatus
	if err := tx.QueryRowContext(ctx, `SELECT status FROM transactions WHERE id=?`, txID).Scan(&from); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("transaction %s: %w", txID, ErrNotFound)
		}
		return err
	}
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	at = at.UTC()
	set := `status=?, updated_at=?`
	args := []any{to, now()}
	switch to {
	case domain.StatusWaitingPayment:
		set += `, payment_sent_at=COALESCE(payment_sent_at, ?)`
		args = append(args, at)
	case domain.StatusCheckReceived:
		set += `, check_received_at=?`
		args = append(args, at)
	case domain.StatusCompleted:
		set += `, completed_at=?`
		args = append(args, at)
	case domain.StatusFailed, domain.StatusCancelled:
		set += `, failure_reason=?`
		args = append(args, reason)
	}
	args = append(args, txID)
	if _, err := tx.ExecContext(ctx, `UPDATE transactions SET `+set+` WHERE id=?`, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *sqliteRepo) IncrementChatStep(ctx context.Context, txID string) (int, error) {
	var step int
	err := r.db.QueryRowContext(ctx, `
UPDATE transactions SET chat_step = chat_step + 1, updated_at=? WHERE id=? RETURNING chat_step`, now(), txID).Scan(&step)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("transaction %s: %w", txID, ErrNotFound)
	}
	return step, err
}

// UnadvertisedTransactions lists pending transactions that have no
// advertisement and no advertisement request in flight.
func (r *sqliteRepo) UnadvertisedTransactions(ctx context.Context) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+txCols+` FROM transactions
WHERE status='pending' AND advertisement_id='' AND ad_requested_at IS NULL
ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ReserveAdvertisement marks an advertisement request in flight for txID.
// It reports false when the transaction already has an advertisement or
// another request holds the reservation.
func (r *sqliteRepo) ReserveAdvertisement(ctx context.Context, txID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE transactions SET ad_requested_at=?, updated_at=?
WHERE id=? AND advertisement_id='' AND ad_requested_at IS NULL`, now(), now(), txID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseAdvertisement drops the reservation after a request that created
// nothing, so the next pass can try again.
func (r *sqliteRepo) ReleaseAdvertisement(ctx context.Context, txID string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE transactions SET ad_requested_at=NULL, updated_at=? WHERE id=? AND advertisement_id=''`, now(), txID)
	return err
}

func (r *sqliteRepo) SetAdvertisement(ctx context.Context, txID, adID string) error {
	if adID == "" {
		return fmt.Errorf("transaction %s: empty advertisement id", txID)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE transactions SET advertisement_id=?, updated_at=? WHERE id=? AND advertisement_id=''`, adID, now(), txID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s without advertisement: %w", txID, ErrNotFound)
	}
	return nil
}

func (r *sqliteRepo) RecordMessage(ctx context.Context, m domain.Message) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
INSERT OR IGNORE INTO chat_messages (id,order_id,text,inbound,sent_at,answered,recorded_at)
VALUES (?,?,?,?,?,0,?)`, m.ID, m.OrderID, m.Text, m.Inbound, m.SentAt.UTC(), now())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *sqliteRepo) UnansweredMessages(ctx context.Context, orderID string) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,order_id,text,inbound,sent_at FROM chat_messages
WHERE order_id=? AND inbound=1 AND answered=0 ORDER BY sent_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.OrderID, &m.Text, &m.Inbound, &m.SentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *sqliteRepo) MarkAnswered(ctx context.Context, messageID, templateID string) error {
	var tpl sql.NullString
	if templateID != "" {
		tpl = sql.NullString{String: templateID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `UPDATE chat_messages SET answered=1, template_id=? WHERE id=?`, tpl, messageID)
	return err
}

func (r *sqliteRepo) UpsertTemplate(ctx context.Context, t domain.ChatTemplate) error {
	if t.ID == "" {
		t.ID = "tpl_" + uuid.NewString()
	}
	kw, err := json.Marshal(t.Keywords)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO chat_templates (id,keywords,body,priority,active,uses,updated_at) VALUES (?,?,?,?,?,0,?)
ON CONFLICT(id) DO UPDATE SET keywords=excluded.keywords, body=excluded.body, priority=excluded.priority,
  active=excluded.active, updated_at=excluded.updated_at`, t.ID, string(kw), t.Body, t.Priority, t.Active, now())
	return err
}

func (r *sqliteRepo) ActiveTemplates(ctx context.Context) ([]domain.ChatTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,keywords,body,priority,active,uses FROM chat_templates WHERE active=1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChatTemplate
	for rows.Next() {
		var t domain.ChatTemplate
		var kw string
		if err := rows.Scan(&t.ID, &kw, &t.Body, &t.Priority, &t.Active, &t.Uses); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(kw), &t.Keywords); err != nil {
			return nil, fmt.Errorf("template %s keywords: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *sqliteRepo) RecordTemplateUse(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chat_templates SET uses = uses + 1 WHERE id=?`, id)
	return err
}

func (r *sqliteRepo) IsDocumentProcessed(ctx context.Context, messageID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM processed_documents WHERE message_id=?`, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *sqliteRepo) MarkDocumentProcessed(ctx context.Context, messageID, txID, note string) error {
	var t sql.NullString
	if txID != "" {
		t = sql.NullString{String: txID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT OR IGNORE INTO processed_documents (message_id,transaction_id,note,processed_at) VALUES (?,?,?,?)`,
		messageID, t, note, now())
	return err
}

func (r *sqliteRepo) AddToBlacklist(ctx context.Context, wallet, reason string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT OR REPLACE INTO wallet_blacklist (wallet,reason,created_at) VALUES (?,?,?)`, normalizeWallet(wallet), reason, now())
	return err
}

func (r *sqliteRepo) IsBlacklisted(ctx context.Context, wallet string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM wallet_blacklist WHERE wallet=?`, normalizeWallet(wallet)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func normalizeWallet(w string) string {
	return strings.ToLower(strings.Join(strings.Fields(w), ""))
}
