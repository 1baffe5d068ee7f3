// Package gateway holds the platform collaborators the pipeline talks to and
// the admission control shared by every outbound call.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"arbflow/internal/domain"
)

var (
	ErrSessionExpired = errors.New("session expired")
	ErrRateLimited    = errors.New("rate limited")
	ErrRejected       = errors.New("rejected by platform")
	ErrAlreadyClaimed = errors.New("payout already claimed")
	// ErrUnparseable marks a document that will never yield a receipt.
	ErrUnparseable = errors.New("document unparseable")
)

// PayoutGateway is the fiat payout platform.
type PayoutGateway interface {
	FetchClaimablePayouts(ctx context.Context) ([]domain.Payout, error)
	ClaimPayout(ctx context.Context, id string) error
	ApprovePayout(ctx context.Context, id string, receipt []byte) error
}

// P2PGateway is the crypto P2P exchange.
type P2PGateway interface {
	ReadBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	SetBalance(ctx context.Context, asset string, amount decimal.Decimal) error
	CreateAdvertisement(ctx context.Context, spec domain.AdSpec) (string, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	ListInboundMessages(ctx context.Context, orderID string) ([]domain.Message, error)
	SendMessage(ctx context.Context, orderID, text string) error
	ReleaseEscrow(ctx context.Context, orderID string) error
}

// Mailbox yields inbound documents that may carry bank receipts.
type Mailbox interface {
	ListDocuments(ctx context.Context, since time.Time) ([]domain.Document, error)
}

type ReceiptParser interface {
	Parse(ctx context.Context, doc domain.Document) (domain.Receipt, error)
}

type Reauthenticator interface {
	Reauthenticate(ctx context.Context) error
}
