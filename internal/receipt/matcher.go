// Package receipt decides which pending transaction a bank receipt pays for.
package receipt

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"arbflow/internal/domain"
)

// DefaultTolerance is the largest accepted difference, in currency units,
// between the receipt amount and the expected amount.
var DefaultTolerance = decimal.NewFromInt(10)

type Matcher struct {
	Tolerance decimal.Decimal
}

func NewMatcher() Matcher {
	return Matcher{Tolerance: DefaultTolerance}
}

// Match returns the first candidate the receipt pays for.
func Match(r domain.Receipt, candidates []domain.Transaction) (domain.Transaction, bool) {
	return NewMatcher().Match(r, candidates)
}

func (m Matcher) Match(r domain.Receipt, candidates []domain.Transaction) (domain.Transaction, bool) {
	for _, tx := range candidates {
		if m.Accepts(r, tx) {
			return tx, true
		}
	}
	return domain.Transaction{}, false
}

// Accepts applies the checks in order: timing, amount, bank, wallet.
func (m Matcher) Accepts(r domain.Receipt, tx domain.Transaction) bool {
	if tx.PaymentSentAt != nil && r.Timestamp.Before(*tx.PaymentSentAt) {
		return false
	}
	if r.Amount.Sub(tx.Amount).Abs().GreaterThan(m.Tolerance) {
		return false
	}
	if r.Bank != "" && tx.Bank != "" && !sharesToken(r.Bank, tx.Bank) {
		return false
	}
	return walletMatches(r, tx.Wallet)
}

func sharesToken(a, b string) bool {
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(a)) {
		tokens[tok] = struct{}{}
	}
	for _, tok := range strings.Fields(strings.ToLower(b)) {
		if _, ok := tokens[tok]; ok {
			return true
		}
	}
	return false
}

func walletMatches(r domain.Receipt, wallet string) bool {
	w := digits(wallet)
	if w == "" {
		return false
	}
	if last4 := digits(r.CardLast4); len(last4) >= 4 && len(w) >= 4 {
		if w[len(w)-4:] == last4[len(last4)-4:] {
			return true
		}
	}
	if p := digits(r.Phone); p != "" {
		return strings.Contains(w, p) || strings.Contains(p, w)
	}
	return false
}

func digits(s string) string {
	var b strings.Builder
	for _, c := range s {
		if unicode.IsDigit(c) {
			b.WriteRune(c)
		}
	}
	return b.String()
}
