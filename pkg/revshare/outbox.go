package revshare

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher drains the invoice outbox in the background, handing pending
// invoices to the Invoicer. Failures are retried on the next tick until
// maxAttempts, then dead-lettered so they stop occupying batch slots; dead
// items stay in the outbox for operator inspection.
type Dispatcher struct {
	store    Store
	invoicer Invoicer
	logger   *slog.Logger

	pollInterval time.Duration
	batchSize    int
	maxAttempts  int

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DispatcherOption configures the outbox dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPollInterval sets how often the outbox is drained.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithBatchSize caps how many invoices one tick dispatches.
func WithBatchSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.batchSize = size
		}
	}
}

// WithMaxAttempts caps retries per invoice.
func WithMaxAttempts(attempts int) DispatcherOption {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.maxAttempts = attempts
		}
	}
}

// WithDispatcherLogger sets the structured logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates an outbox dispatcher. Panics if store or invoicer
// is nil.
func NewDispatcher(store Store, invoicer Invoicer, opts ...DispatcherOption) *Dispatcher {
	if store == nil {
		panic("revshare: store is required")
	}
	if invoicer == nil {
		panic("revshare: invoicer is required")
	}
	d := &Dispatcher{
		store:        store,
		invoicer:     invoicer,
		logger:       slog.Default(),
		pollInterval: 15 * time.Second,
		batchSize:    50,
		maxAttempts:  5,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start begins draining the outbox in the background.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return fmt.Errorf("dispatcher already started")
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.run(ctx)
	return nil
}

// Stop halts the dispatcher and waits for the in-flight tick to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Drain(ctx); err != nil && ctx.Err() == nil {
				d.logger.ErrorContext(ctx, "outbox drain failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Drain dispatches one batch of pending invoices. Exposed so callers can
// flush synchronously, e.g. in tests or on shutdown.
func (d *Dispatcher) Drain(ctx context.Context) error {
	pending, err := d.store.PendingInvoices(ctx, d.batchSize)
	if err != nil {
		return fmt.Errorf("list pending invoices: %w", err)
	}

	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if item.Attempts >= d.maxAttempts {
			if err := d.store.MarkInvoiceDead(ctx, item.ID); err != nil {
				return fmt.Errorf("mark invoice dead: %w", err)
			}
			d.logger.ErrorContext(ctx, "invoice dead-lettered after max attempts",
				slog.String("invoice_ref", item.Invoice.InvoiceRef),
				slog.Int("attempts", item.Attempts))
			continue
		}

		if err := d.invoicer.IssueInvoice(ctx, item.Invoice); err != nil {
			d.logger.WarnContext(ctx, "invoice handoff failed",
				slog.String("invoice_ref", item.Invoice.InvoiceRef),
				slog.Int("attempts", item.Attempts+1),
				slog.String("error", err.Error()))
			if markErr := d.store.MarkInvoiceFailed(ctx, item.ID, err.Error()); markErr != nil {
				return fmt.Errorf("mark invoice failed: %w", markErr)
			}
			continue
		}

		if err := d.store.MarkInvoiceDispatched(ctx, item.ID); err != nil {
			return fmt.Errorf("mark invoice dispatched: %w", err)
		}
		d.logger.InfoContext(ctx, "invoice dispatched",
			slog.String("invoice_ref", item.Invoice.InvoiceRef),
			slog.String("amount", item.Invoice.Amount.String()))
	}
	return nil
}
