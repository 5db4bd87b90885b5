package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/botica-erp/botica/internal/inventory"
)

type stubReporter struct {
	sweepRef  time.Time
	swept     int
	soonRef   time.Time
	soonDays  int
	soonLots  []inventory.Lot
	threshold int64
	low       []inventory.LowStockProduct
}

func (s *stubReporter) DeactivateExpiredLots(ctx context.Context, ref time.Time) (int, error) {
	s.sweepRef = ref
	return s.swept, nil
}

func (s *stubReporter) SoonToExpireLots(ctx context.Context, ref time.Time, days int) ([]inventory.Lot, error) {
	s.soonRef = ref
	s.soonDays = days
	return s.soonLots, nil
}

func (s *stubReporter) LowStockProducts(ctx context.Context, threshold int64) ([]inventory.LowStockProduct, error) {
	s.threshold = threshold
	return s.low, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExpirySweepHandleDefaults(t *testing.T) {
	reporter := &stubReporter{swept: 2, soonLots: []inventory.Lot{{ID: 1, ProductID: 3, LotCode: "L1"}}}
	sweeper := NewExpirySweeper(reporter, discardLogger())

	task, err := NewExpirySweepTask(ExpirySweepPayload{})
	require.NoError(t, err)
	require.NoError(t, sweeper.Handle(context.Background(), task))

	require.False(t, reporter.sweepRef.IsZero(), "zero reference defaults to now")
	require.Equal(t, reporter.sweepRef, reporter.soonRef)
	require.Equal(t, defaultExpiryHorizonDays, reporter.soonDays)
}

func TestExpirySweepHandleExplicitPayload(t *testing.T) {
	reporter := &stubReporter{}
	sweeper := NewExpirySweeper(reporter, discardLogger())

	ref := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	task, err := NewExpirySweepTask(ExpirySweepPayload{Reference: ref, HorizonDays: 7})
	require.NoError(t, err)
	require.NoError(t, sweeper.Handle(context.Background(), task))

	require.True(t, reporter.sweepRef.Equal(ref))
	require.Equal(t, 7, reporter.soonDays)
}

func TestExpirySweepHandleBadPayload(t *testing.T) {
	sweeper := NewExpirySweeper(&stubReporter{}, discardLogger())
	err := sweeper.Handle(context.Background(), asynq.NewTask(TaskExpirySweep, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestLowStockScanThresholds(t *testing.T) {
	reporter := &stubReporter{low: []inventory.LowStockProduct{{ProductID: 1, SKU: "780", Stock: 2}}}
	scanner := NewLowStockScanner(reporter, discardLogger(), 10)

	// Zero payload threshold falls back to the configured one.
	task, err := NewLowStockScanTask(LowStockScanPayload{})
	require.NoError(t, err)
	require.NoError(t, scanner.Handle(context.Background(), task))
	require.Equal(t, int64(10), reporter.threshold)

	task, err = NewLowStockScanTask(LowStockScanPayload{Threshold: 25})
	require.NoError(t, err)
	require.NoError(t, scanner.Handle(context.Background(), task))
	require.Equal(t, int64(25), reporter.threshold)
}

func TestLowStockScanBadPayload(t *testing.T) {
	scanner := NewLowStockScanner(&stubReporter{}, discardLogger(), 10)
	err := scanner.Handle(context.Background(), asynq.NewTask(TaskLowStockScan, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
