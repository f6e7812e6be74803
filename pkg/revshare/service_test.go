package revshare_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/bundlekit/pkg/revshare"
)

var march = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func event(ws uuid.UUID, source string, amount float64) revshare.RevenueEvent {
	return revshare.RevenueEvent{
		EventID:     uuid.New(),
		WorkspaceID: ws,
		Source:      source,
		Amount:      decimal.NewFromFloat(amount),
		OccurredAt:  march,
	}
}

func TestComputeFee(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		gross   string
		fee     string
		minimum bool
	}{
		{"percentage above minimum", "1000", "150", false},
		{"minimum kicks in", "100", "99", true},
		{"boundary hits minimum exactly", "660", "99", false},
		{"fractional fee kept exact", "666.67", "100.0005", false},
		{"zero revenue still bills minimum", "0", "99", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fee, minimum := revshare.ComputeFee(decimal.RequireFromString(tc.gross))
			assert.True(t, fee.Equal(decimal.RequireFromString(tc.fee)), "fee %s", fee)
			assert.Equal(t, tc.minimum, minimum)
		})
	}

	t.Run("660.01 bills marginally above the minimum", func(t *testing.T) {
		t.Parallel()
		fee, minimum := revshare.ComputeFee(decimal.RequireFromString("660.01"))
		assert.False(t, minimum)
		assert.True(t, fee.GreaterThan(decimal.NewFromInt(99)), "fee %s", fee)
		assert.True(t, fee.Equal(decimal.RequireFromString("99.0015")))
	})
}

func TestService_RecordRevenueEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("duplicate delivery is a no-op", func(t *testing.T) {
		t.Parallel()
		svc := revshare.NewService(revshare.NewMemoryStore())
		ws := uuid.New()

		ev := event(ws, "marketplace", 500)
		require.NoError(t, svc.RecordRevenueEvent(ctx, ev))
		require.NoError(t, svc.RecordRevenueEvent(ctx, ev))
		require.NoError(t, svc.RecordRevenueEvent(ctx, ev))

		totals, err := svc.PeriodRevenue(ctx, ws, "2026-03")
		require.NoError(t, err)
		assert.True(t, totals["marketplace"].Equal(decimal.NewFromInt(500)))
	})

	t.Run("events accumulate per source", func(t *testing.T) {
		t.Parallel()
		svc := revshare.NewService(revshare.NewMemoryStore())
		ws := uuid.New()

		require.NoError(t, svc.RecordRevenueEvent(ctx, event(ws, "marketplace", 600)))
		require.NoError(t, svc.RecordRevenueEvent(ctx, event(ws, "marketplace", 150)))
		require.NoError(t, svc.RecordRevenueEvent(ctx, event(ws, "api", 250)))

		totals, err := svc.PeriodRevenue(ctx, ws, "2026-03")
		require.NoError(t, err)
		assert.True(t, totals["marketplace"].Equal(decimal.NewFromInt(750)))
		assert.True(t, totals["api"].Equal(decimal.NewFromInt(250)))
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		svc := revshare.NewService(revshare.NewMemoryStore())
		ws := uuid.New()

		ev := event(ws, "marketplace", 10)
		ev.EventID = uuid.Nil
		assert.ErrorIs(t, svc.RecordRevenueEvent(ctx, ev), revshare.ErrEventIDRequired)

		ev = event(ws, "", 10)
		assert.ErrorIs(t, svc.RecordRevenueEvent(ctx, ev), revshare.ErrInvalidSource)

		ev = event(ws, "marketplace", 0)
		assert.ErrorIs(t, svc.RecordRevenueEvent(ctx, ev), revshare.ErrInvalidAmount)

		ev = event(uuid.Nil, "marketplace", 10)
		assert.ErrorIs(t, svc.RecordRevenueEvent(ctx, ev), revshare.ErrWorkspaceRequired)
	})

	t.Run("late event for a closed period is rejected", func(t *testing.T) {
		t.Parallel()
		svc := revshare.NewService(revshare.NewMemoryStore())
		ws := uuid.New()

		require.NoError(t, svc.RecordRevenueEvent(ctx, event(ws, "marketplace", 500)))
		_, err := svc.ClosePeriod(ctx, ws, "2026-03")
		require.NoError(t, err)

		err = svc.RecordRevenueEvent(ctx, event(ws, "marketplace", 100))
		assert.ErrorIs(t, err, revshare.ErrAlreadyClosed)
	})
}

func TestService_ClosePeriod(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("writes an immutable record and queues the invoice", func(t *testing.T) {
		t.Parallel()
		store := revshare.NewMemoryStore()
		svc := revshare.NewService(store)
		ws := uuid.New()

		require.NoError(t, svc.RecordRevenueEvent(ctx, event(ws, "marketplace", 800)))
		require.NoError(t, svc.RecordRevenueEvent(ctx, event(ws, "api", 200)))

		record, err := svc.ClosePeriod(ctx, ws, "2026-03")
		require.NoError(t, err)

		assert.True(t, record.GrossRevenue.Equal(decimal.NewFromInt(1000)))
		assert.True(t, record.Fee.Equal(decimal.NewFromInt(150)), "fee %s", record.Fee)
		assert.False(t, record.MinimumApplied)
		assert.NotEmpty(t, record.InvoiceRef)

		pending, err := store.PendingInvoices(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.True(t, pending[0].Invoice.Amount.Equal(record.Fee))
		assert.Equal(t, record.InvoiceRef, pending[0].Invoice.InvoiceRef)
	})

	t.Run("record keeps the exact fee, the invoice rounds to cents", func(t *testing.T) {
		t.Parallel()
		store := revshare.NewMemoryStore()
		svc := revshare.NewService(store)
		ws := uuid.New()

		require.NoError(t, svc.RecordRevenueEvent(ctx, event(ws, "marketplace", 660.01)))

		record, err := svc.ClosePeriod(ctx, ws, "2026-03")
		require.NoError(t, err)
		assert.True(t, record.Fee.Equal(decimal.RequireFromString("99.0015")), "fee %s", record.Fee)
		assert.False(t, record.MinimumApplied)

		pending, err := store.PendingInvoices(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.True(t, pending[0].Invoice.Amount.Equal(decimal.RequireFromString("99.00")), "amount %s", pending[0].Invoice.Amount)
	})

	t.Run("minimum fee applies to small periods", func(t *testing.T) {
		t.Parallel()
		svc := revshare.NewService(revshare.NewMemoryStore())
		ws := uuid.New()

		require.NoError(t, svc.RecordRevenueEvent(ctx, event(ws, "marketplace", 100)))

		record, err := svc.ClosePeriod(ctx, ws, "2026-03")
		require.NoError(t, err)
		assert.True(t, record.Fee.Equal(decimal.NewFromInt(99)))
		assert.True(t, record.MinimumApplied)
	})

	t.Run("double close returns the original record", func(t *testing.T) {
		t.Parallel()
		svc := revshare.NewService(revshare.NewMemoryStore())
		ws := uuid.New()

		require.NoError(t, svc.RecordRevenueEvent(ctx, event(ws, "marketplace", 500)))

		first, err := svc.ClosePeriod(ctx, ws, "2026-03")
		require.NoError(t, err)

		second, err := svc.ClosePeriod(ctx, ws, "2026-03")
		assert.ErrorIs(t, err, revshare.ErrAlreadyClosed)
		assert.Equal(t, first.InvoiceRef, second.InvoiceRef)
		assert.True(t, first.Fee.Equal(second.Fee))
	})

	t.Run("concurrent closes produce exactly one record", func(t *testing.T) {
		t.Parallel()
		store := revshare.NewMemoryStore()
		svc := revshare.NewService(store)
		ws := uuid.New()

		require.NoError(t, svc.RecordRevenueEvent(ctx, event(ws, "marketplace", 500)))

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := svc.ClosePeriod(ctx, ws, "2026-03"); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		pending, err := store.PendingInvoices(ctx, 100)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})

	t.Run("concurrent recording and close never loses an event", func(t *testing.T) {
		t.Parallel()
		svc := revshare.NewService(revshare.NewMemoryStore())
		ws := uuid.New()

		require.NoError(t, svc.RecordRevenueEvent(ctx, event(ws, "marketplace", 10)))

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted = 1
		)
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := svc.RecordRevenueEvent(ctx, event(ws, "marketplace", 10))
				switch {
				case err == nil:
					mu.Lock()
					accepted++
					mu.Unlock()
				case !errors.Is(err, revshare.ErrAlreadyClosed):
					t.Errorf("unexpected record error: %v", err)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ClosePeriod(ctx, ws, "2026-03"); err != nil {
				t.Errorf("close failed: %v", err)
			}
		}()
		wg.Wait()

		// Every accepted event is billed; rejected ones are not. Nothing
		// falls between the close's read and its record write.
		record, err := svc.GetRecord(ctx, ws, "2026-03")
		require.NoError(t, err)
		assert.True(t, record.GrossRevenue.Equal(decimal.NewFromInt(int64(accepted*10))),
			"gross %s for %d accepted events", record.GrossRevenue, accepted)
	})

	t.Run("periods are independent per workspace", func(t *testing.T) {
		t.Parallel()
		svc := revshare.NewService(revshare.NewMemoryStore())
		first, second := uuid.New(), uuid.New()

		require.NoError(t, svc.RecordRevenueEvent(ctx, event(first, "marketplace", 1000)))
		require.NoError(t, svc.RecordRevenueEvent(ctx, event(second, "marketplace", 50)))

		_, err := svc.ClosePeriod(ctx, first, "2026-03")
		require.NoError(t, err)

		record, err := svc.ClosePeriod(ctx, second, "2026-03")
		require.NoError(t, err)
		assert.True(t, record.MinimumApplied)
	})
}

type recordingInvoicer struct {
	mu       sync.Mutex
	invoices []revshare.InvoiceRequest
	calls    int
	fail     int
}

func (r *recordingInvoicer) IssueInvoice(ctx context.Context, req revshare.InvoiceRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail > 0 {
		r.fail--
		return assert.AnError
	}
	r.invoices = append(r.invoices, req)
	return nil
}

func TestDispatcher_Drain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("dispatches pending invoices once", func(t *testing.T) {
		t.Parallel()
		store := revshare.NewMemoryStore()
		svc := revshare.NewService(store)
		ws := uuid.New()

		require.NoError(t, svc.RecordRevenueEvent(ctx, event(ws, "marketplace", 1000)))
		_, err := svc.ClosePeriod(ctx, ws, "2026-03")
		require.NoError(t, err)

		invoicer := &recordingInvoicer{}
		d := revshare.NewDispatcher(store, invoicer)

		require.NoError(t, d.Drain(ctx))
		require.NoError(t, d.Drain(ctx))

		require.Len(t, invoicer.invoices, 1)
		assert.True(t, invoicer.invoices[0].Amount.Equal(decimal.NewFromInt(150)))
	})

	t.Run("failed handoff is retried on the next drain", func(t *testing.T) {
		t.Parallel()
		store := revshare.NewMemoryStore()
		svc := revshare.NewService(store)
		ws := uuid.New()

		require.NoError(t, svc.RecordRevenueEvent(ctx, event(ws, "marketplace", 1000)))
		_, err := svc.ClosePeriod(ctx, ws, "2026-03")
		require.NoError(t, err)

		invoicer := &recordingInvoicer{fail: 1}
		d := revshare.NewDispatcher(store, invoicer)

		require.NoError(t, d.Drain(ctx))
		assert.Empty(t, invoicer.invoices)

		require.NoError(t, d.Drain(ctx))
		require.Len(t, invoicer.invoices, 1)
	})

	t.Run("dead-letters after max attempts", func(t *testing.T) {
		t.Parallel()
		store := revshare.NewMemoryStore()
		svc := revshare.NewService(store)
		ws := uuid.New()

		require.NoError(t, svc.RecordRevenueEvent(ctx, event(ws, "marketplace", 1000)))
		_, err := svc.ClosePeriod(ctx, ws, "2026-03")
		require.NoError(t, err)

		invoicer := &recordingInvoicer{fail: 100}
		d := revshare.NewDispatcher(store, invoicer, revshare.WithMaxAttempts(2))

		for range 5 {
			require.NoError(t, d.Drain(ctx))
		}

		// Two attempts, then the item is parked out of the pending queue.
		assert.Equal(t, 2, invoicer.calls)
		pending, err := store.PendingInvoices(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("dead-lettered items do not hold up fresh invoices", func(t *testing.T) {
		t.Parallel()
		store := revshare.NewMemoryStore()
		svc := revshare.NewService(store)
		first, second := uuid.New(), uuid.New()

		require.NoError(t, svc.RecordRevenueEvent(ctx, event(first, "marketplace", 1000)))
		_, err := svc.ClosePeriod(ctx, first, "2026-03")
		require.NoError(t, err)

		// Exhaust the first invoice's retries with a batch of one, so it
		// would wedge the queue if it kept its slot.
		invoicer := &recordingInvoicer{fail: 100}
		d := revshare.NewDispatcher(store, invoicer,
			revshare.WithMaxAttempts(1), revshare.WithBatchSize(1))
		for range 2 {
			require.NoError(t, d.Drain(ctx))
		}

		require.NoError(t, svc.RecordRevenueEvent(ctx, event(second, "marketplace", 2000)))
		_, err = svc.ClosePeriod(ctx, second, "2026-03")
		require.NoError(t, err)

		invoicer.fail = 0
		require.NoError(t, d.Drain(ctx))
		require.Len(t, invoicer.invoices, 1)
		assert.True(t, invoicer.invoices[0].Amount.Equal(decimal.NewFromInt(300)))
	})
}

func TestPeriodKeyFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2026-03", revshare.PeriodKeyFor(march))
	assert.Equal(t, "2026-12", revshare.PeriodKeyFor(time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)))
	// Local-time instants normalize to UTC.
	loc := time.FixedZone("plus5", 5*3600)
	assert.Equal(t, "2026-02", revshare.PeriodKeyFor(time.Date(2026, 3, 1, 2, 0, 0, 0, loc)))
}
