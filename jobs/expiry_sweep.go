package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/botica-erp/botica/internal/inventory"
	"github.com/botica-erp/botica/internal/shared"
)

const defaultExpiryHorizonDays = 30

// StockReporter is the slice of the inventory service the background tasks
// use.
type StockReporter interface {
	DeactivateExpiredLots(ctx context.Context, ref time.Time) (int, error)
	SoonToExpireLots(ctx context.Context, ref time.Time, days int) ([]inventory.Lot, error)
	LowStockProducts(ctx context.Context, threshold int64) ([]inventory.LowStockProduct, error)
}

// ExpirySweeper deactivates expired lots through the inventory write path,
// so the derived product flags cascade exactly as they do for manual edits.
// It also warns about lots coming up on their expiry date.
type ExpirySweeper struct {
	inventory StockReporter
	logger    *slog.Logger
}

// NewExpirySweeper constructs ExpirySweeper.
func NewExpirySweeper(inv StockReporter, logger *slog.Logger) *ExpirySweeper {
	return &ExpirySweeper{inventory: inv, logger: logger}
}

// Handle processes TaskExpirySweep tasks.
func (s *ExpirySweeper) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ExpirySweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	ref := payload.Reference
	if ref.IsZero() {
		ref = time.Now().UTC()
	}
	horizon := payload.HorizonDays
	if horizon <= 0 {
		horizon = defaultExpiryHorizonDays
	}

	swept, err := s.inventory.DeactivateExpiredLots(ctx, ref)
	if err != nil {
		s.logger.Error("expiry sweep failed", slog.Any("error", err))
		return err
	}
	s.logger.Info("expiry sweep done", slog.Int("deactivated", swept), slog.Time("reference", ref))

	expiring, err := s.inventory.SoonToExpireLots(ctx, ref, horizon)
	if err != nil {
		s.logger.Error("expiring soon lookup failed", slog.Any("error", err))
		return err
	}
	for _, lot := range expiring {
		s.logger.Warn("lot expiring soon",
			slog.Int64("lot_id", lot.ID),
			slog.Int64("product_id", lot.ProductID),
			slog.String("lot_code", lot.LotCode),
			slog.Time("expiry_date", lot.ExpiryDate),
			slog.Int("quantity", lot.Quantity))
	}
	return nil
}

// LowStockScanner reports products whose sellable stock fell below the
// reorder threshold.
type LowStockScanner struct {
	inventory StockReporter
	logger    *slog.Logger
	threshold int64
}

// NewLowStockScanner constructs LowStockScanner.
func NewLowStockScanner(inv StockReporter, logger *slog.Logger, threshold int64) *LowStockScanner {
	return &LowStockScanner{inventory: inv, logger: logger, threshold: threshold}
}

// Handle processes TaskLowStockScan tasks.
func (s *LowStockScanner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	threshold := payload.Threshold
	if threshold <= 0 {
		threshold = s.threshold
	}

	products, err := s.inventory.LowStockProducts(ctx, threshold)
	if err != nil {
		s.logger.Error("low stock scan failed", slog.Any("error", err))
		return err
	}
	for _, p := range products {
		s.logger.Warn("product low on stock",
			slog.Int64("product_id", p.ProductID),
			slog.String("sku", p.SKU),
			slog.String("name", p.Name),
			slog.Int64("stock", p.Stock),
			slog.Int64("threshold", threshold))
	}
	s.logger.Info("low stock scan done", slog.Int("flagged", len(products)), slog.Int64("threshold", threshold))
	return nil
}

// IdempotencyCleaner prunes stale idempotency keys.
type IdempotencyCleaner struct {
	store  *shared.IdempotencyStore
	logger *slog.Logger
	ttl    time.Duration
}

// NewIdempotencyCleaner constructs IdempotencyCleaner.
func NewIdempotencyCleaner(store *shared.IdempotencyStore, logger *slog.Logger, ttl time.Duration) *IdempotencyCleaner {
	return &IdempotencyCleaner{store: store, logger: logger, ttl: ttl}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (c *IdempotencyCleaner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	olderThan := payload.OlderThan
	if olderThan <= 0 {
		olderThan = c.ttl
	}
	if err := c.store.Cleanup(ctx, olderThan); err != nil {
		c.logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	c.logger.Info("idempotency cleanup done", slog.Duration("older_than", olderThan))
	return nil
}
