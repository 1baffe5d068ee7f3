package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TxStatus string

const (
	StatusPending         TxStatus = "pending"
	StatusChatStarted     TxStatus = "chat_started"
	StatusWaitingPayment  TxStatus = "waiting_payment"
	StatusPaymentReceived TxStatus = "payment_received"
	StatusCheckReceived   TxStatus = "check_received"
	StatusCompleted       TxStatus = "completed"
	StatusFailed          TxStatus = "failed"
	StatusCancelled       TxStatus = "cancelled"
)

// statusRank orders the forward path. failed and cancelled are absorbing and sit outside it.
var statusRank = map[TxStatus]int{
	StatusPending:         0,
	StatusChatStarted:     1,
	StatusWaitingPayment:  2,
	StatusPaymentReceived: 3,
	StatusCheckReceived:   4,
	StatusCompleted:       5,
}

func (s TxStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusFailed || s == StatusCancelled
}

func (s TxStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether a transaction may move from one status to another.
func CanTransition(from, to TxStatus) bool {
	if from.Terminal() || !to.Valid() {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	return statusRank[to] > statusRank[from]
}

// ActiveStatuses lists every non-terminal status.
func ActiveStatuses() []TxStatus {
	return []TxStatus{StatusPending, StatusChatStarted, StatusWaitingPayment, StatusPaymentReceived, StatusCheckReceived}
}

type Transaction struct {
	ID              string
	PayoutID        *string
	AdvertisementID string
	OrderID         *string
	Status          TxStatus
	ChatStep        int
	Amount          decimal.Decimal
	Currency        string
	Wallet          string
	Bank            string
	PaymentSentAt   *time.Time
	CheckReceivedAt *time.Time
	CompletedAt     *time.Time
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Payout struct {
	ID         string
	Amount     decimal.Decimal
	Currency   string
	Wallet     string
	BankHint   string
	Status     int // raw platform status code
	Claimed    bool
	RecordedAt time.Time
}

// AdSpec describes the advertisement posted for a payout.
type AdSpec struct {
	PayoutID string          `json:"payout_id"`
	Asset    string          `json:"asset"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Price    decimal.Decimal `json:"price"`
	Bank     string          `json:"bank,omitempty"`
}

type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is a negotiation opened by a counterparty against an advertisement.
type Order struct {
	ID              string      `json:"id"`
	AdvertisementID string      `json:"advertisement_id"`
	Status          OrderStatus `json:"status"`
}

type Message struct {
	ID      string    `json:"id"`
	OrderID string    `json:"order_id"`
	Text    string    `json:"text"`
	SentAt  time.Time `json:"sent_at"`
	Inbound bool      `json:"inbound"`
}

type ChatTemplate struct {
	ID       string
	Keywords []string
	Body     string
	Priority int
	Active   bool
	Uses     int
}

// Receipt holds the fields extracted from a bank receipt document.
type Receipt struct {
	Amount    decimal.Decimal `json:"amount"`
	Bank      string          `json:"bank"`
	CardLast4 string          `json:"card_last4,omitempty"`
	Phone     string          `json:"phone,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Document is an inbound mailbox attachment that may carry a receipt.
type Document struct {
	MessageID  string    `json:"message_id"`
	Filename   string    `json:"filename"`
	ReceivedAt time.Time `json:"received_at"`
	Content    []byte    `json:"content"`
}
