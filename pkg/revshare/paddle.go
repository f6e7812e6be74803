package revshare

import (
	"context"
	"errors"
	"fmt"
	"strings"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for the Paddle invoicing provider.
type PaddleConfig struct {
	APIKey      string `env:"PADDLE_API_KEY,required"`
	PriceID     string `env:"PADDLE_REVSHARE_PRICE_ID,required"`
	Environment string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleInvoicer collects revenue-share fees through Paddle transactions.
// PriceID points at a per-unit fee price; the fee amount travels in custom
// data so reconciliation can match the transaction back to the period.
type PaddleInvoicer struct {
	client  *paddle.SDK
	priceID string
}

// NewPaddleInvoicer creates a Paddle-backed Invoicer.
func NewPaddleInvoicer(config PaddleConfig) (*PaddleInvoicer, error) {
	if config.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}
	if config.PriceID == "" {
		return nil, errors.New("paddle price ID is required")
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleInvoicer{client: client, priceID: config.PriceID}, nil
}

// IssueInvoice creates a Paddle transaction collecting the fee.
func (p *PaddleInvoicer) IssueInvoice(ctx context.Context, req InvoiceRequest) error {
	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  p.priceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"invoice_ref":  req.InvoiceRef,
			"workspace_id": req.WorkspaceID.String(),
			"period_key":   req.PeriodKey,
			"fee_amount":   req.Amount.String(),
		},
	}

	if _, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq); err != nil {
		return fmt.Errorf("failed to create paddle transaction: %w", err)
	}
	return nil
}
