// Package ocr extracts receipt fields by running an external OCR command.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/shopspring/decimal"

	"arbflow/internal/domain"
	"arbflow/internal/gateway"
)

// Command pipes the document to Path on stdin. The command prints one JSON
// object with amount, bank, card_last4 or phone, and timestamp.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

type fields struct {
	Amount    *decimal.Decimal `json:"amount"`
	Bank      string           `json:"bank"`
	CardLast4 string           `json:"card_last4"`
	Phone     string           `json:"phone"`
	Timestamp time.Time        `json:"timestamp"`
}

func (c Command) Parse(ctx context.Context, doc domain.Document) (domain.Receipt, error) {
	if c.Path == "" {
		return domain.Receipt{}, fmt.Errorf("ocr command is required")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = bytes.NewReader(doc.Content)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return domain.Receipt{}, fmt.Errorf("ocr error: %v; out=%s", err, stderr.String())
	}

	var f fields
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &f); err != nil {
		return domain.Receipt{}, fmt.Errorf("%w: %s: %v", gateway.ErrUnparseable, doc.Filename, err)
	}
	if f.Amount == nil || f.Timestamp.IsZero() || (f.CardLast4 == "" && f.Phone == "") {
		return domain.Receipt{}, fmt.Errorf("%w: %s: missing fields", gateway.ErrUnparseable, doc.Filename)
	}
	return domain.Receipt{
		Amount:    *f.Amount,
		Bank:      f.Bank,
		CardLast4: f.CardLast4,
		Phone:     f.Phone,
		Timestamp: f.Timestamp,
	}, nil
}
