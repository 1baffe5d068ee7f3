package receipt

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbflow/internal/domain"
)

var sentAt = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func waiting(id, amount, wallet, bank string) domain.Transaction {
	at := sentAt
	return domain.Transaction{
		ID:            id,
		Status:        domain.StatusWaitingPayment,
		Amount:        decimal.RequireFromString(amount),
		Wallet:        wallet,
		Bank:          bank,
		PaymentSentAt: &at,
	}
}

func TestMatchWithinTolerance(t *testing.T) {
	tx := waiting("tx_1", "1500", "2200 7001 2345 6789", "Тинькофф")
	r := domain.Receipt{
		Amount:    decimal.NewFromInt(1505),
		Bank:      "тинькофф банк",
		CardLast4: "6789",
		Timestamp: sentAt.Add(5 * time.Minute),
	}

	got, ok := Match(r, []domain.Transaction{tx})
	require.True(t, ok)
	assert.Equal(t, "tx_1", got.ID)
}

func TestMatchRejectsAmountOutsideTolerance(t *testing.T) {
	tx := waiting("tx_1", "1500", "2200700123456789", "")
	r := domain.Receipt{Amount: decimal.NewFromInt(1520), CardLast4: "6789", Timestamp: sentAt.Add(5 * time.Minute)}
	_, ok := Match(r, []domain.Transaction{tx})
	assert.False(t, ok)

	r.Amount = decimal.NewFromInt(1490)
	_, ok = Match(r, []domain.Transaction{tx})
	assert.True(t, ok, "exactly 10 units off is still accepted")
}

func TestMatchRejectsReceiptBeforePaymentSent(t *testing.T) {
	tx := waiting("tx_1", "1500", "2200700123456789", "")
	r := domain.Receipt{Amount: decimal.NewFromInt(1500), CardLast4: "6789", Timestamp: sentAt.Add(-time.Second)}
	_, ok := Match(r, []domain.Transaction{tx})
	assert.False(t, ok)
}

func TestMatchRequiresSharedBankToken(t *testing.T) {
	tx := waiting("tx_1", "1500", "2200700123456789", "Альфа Банк")
	r := domain.Receipt{Amount: decimal.NewFromInt(1500), Bank: "Сбербанк", CardLast4: "6789", Timestamp: sentAt}
	_, ok := Match(r, []domain.Transaction{tx})
	assert.False(t, ok)

	r.Bank = "АЛЬФА"
	_, ok = Match(r, []domain.Transaction{tx})
	assert.True(t, ok)
}

func TestMatchPhoneDigitsAsMutualSubstrings(t *testing.T) {
	tx := waiting("tx_1", "800", "+7 (916) 123-45-67", "")
	r := domain.Receipt{Amount: decimal.NewFromInt(800), Phone: "916 123 45 67", Timestamp: sentAt}
	_, ok := Match(r, []domain.Transaction{tx})
	assert.True(t, ok)

	r.Phone = "+7 916 000 00 00"
	_, ok = Match(r, []domain.Transaction{tx})
	assert.False(t, ok)
}

func TestMatchFirstAcceptedCandidateWins(t *testing.T) {
	wrongCard := waiting("tx_a", "1500", "4000000000001111", "")
	right := waiting("tx_b", "1500", "4000000000006789", "")
	alsoRight := waiting("tx_c", "1502", "5500000000006789", "")
	r := domain.Receipt{Amount: decimal.NewFromInt(1500), CardLast4: "6789", Timestamp: sentAt}

	got, ok := Match(r, []domain.Transaction{wrongCard, right, alsoRight})
	require.True(t, ok)
	assert.Equal(t, "tx_b", got.ID)
}

func TestMatcherCustomTolerance(t *testing.T) {
	m := Matcher{Tolerance: decimal.NewFromInt(1)}
	tx := waiting("tx_1", "1500", "4000000000006789", "")
	r := domain.Receipt{Amount: decimal.NewFromInt(1505), CardLast4: "6789", Timestamp: sentAt}
	assert.False(t, m.Accepts(r, tx))
}
