package pos

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/botica-erp/botica/internal/inventory"
	"github.com/botica-erp/botica/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives sale outcome signals.
type MetricsPort interface {
	SaleRecorded(total int64, lines int)
	SaleVoided()
	AllocationRejected()
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// AllowExpiredSale re-includes lots past their expiry date in FEFO
	// candidate selection. Off by default: expired stock is not sold.
	AllowExpiredSale bool
}

// Service is the sale transaction manager. A multi-line sale is one atomic
// unit: every lot decrement, product cascade and sale row commits together,
// or the whole request is refused with no observable side effects.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
	cfg     ServiceConfig
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics, cfg: cfg, now: time.Now}
}

// RecordSale allocates stock for every requested line in expiry order and
// persists the sale with frozen unit prices.
//
// Lock discipline: products and their lots are locked in ascending product
// id order, so two concurrent sales over overlapping products cannot
// deadlock. Lines referencing the same product share one working set and are
// allocated sequentially against it.
func (s *Service) RecordSale(ctx context.Context, userID int64, method PaymentMethod, lines []LineRequest) (Sale, error) {
	if userID <= 0 {
		return Sale{}, ErrAnonymousSale
	}
	if !method.Valid() {
		return Sale{}, ErrUnknownPaymentMethod
	}
	if len(lines) == 0 {
		return Sale{}, ErrEmptySale
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return Sale{}, ErrZeroQuantity
		}
	}

	now := s.now().UTC()
	sale := Sale{
		ID:            uuid.New(),
		UserID:        userID,
		SoldAt:        now,
		PaymentMethod: method,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sets, err := s.lockWorkingSets(ctx, tx, lines)
		if err != nil {
			return err
		}

		var saleLines []SaleLine
		var total int64
		for _, line := range lines {
			ws := sets[line.ProductID]
			consumptions, err := ws.allocate(line.Quantity, now, s.cfg.AllowExpiredSale)
			if err != nil {
				return err
			}
			for _, c := range consumptions {
				subtotal := int64(c.QuantityTaken) * c.UnitPrice
				total += subtotal
				saleLines = append(saleLines, SaleLine{
					SaleID:    sale.ID,
					ProductID: line.ProductID,
					LotID:     c.LotID,
					Quantity:  c.QuantityTaken,
					UnitPrice: c.UnitPrice,
					Subtotal:  subtotal,
				})
			}
		}

		if err := s.commitStockChanges(ctx, tx, sets); err != nil {
			return err
		}

		sale.Total = total
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		saleLines, err = tx.InsertSaleLines(ctx, saleLines)
		if err != nil {
			return err
		}
		sale.Lines = saleLines
		return nil
	})
	if err != nil {
		var insufficientErr *InsufficientStockError
		if s.metrics != nil && errors.As(err, &insufficientErr) {
			s.metrics.AllocationRejected()
		}
		return Sale{}, err
	}

	if s.metrics != nil {
		s.metrics.SaleRecorded(sale.Total, len(sale.Lines))
	}
	s.recordAudit(ctx, userID, "pos:sale:record", sale.ID, map[string]any{
		"total":          sale.Total,
		"payment_method": string(sale.PaymentMethod),
		"lines":          len(sale.Lines),
	})
	return sale, nil
}

// lockWorkingSets locks every product named by the request and its lots, in
// ascending product id order, and snapshots them into working sets.
func (s *Service) lockWorkingSets(ctx context.Context, tx TxRepository, lines []LineRequest) (map[int64]*workingSet, error) {
	seen := make(map[int64]bool, len(lines))
	var productIDs []int64
	for _, line := range lines {
		if !seen[line.ProductID] {
			seen[line.ProductID] = true
			productIDs = append(productIDs, line.ProductID)
		}
	}
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

	sets := make(map[int64]*workingSet, len(productIDs))
	for _, productID := range productIDs {
		product, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return nil, err
		}
		lots, err := tx.LotsForUpdate(ctx, productID)
		if err != nil {
			return nil, err
		}
		sets[productID] = newWorkingSet(product, lots)
	}
	return sets, nil
}

// commitStockChanges writes every decremented lot through the invariant
// guard and cascades the derived product flag, in ascending product then lot
// id order.
func (s *Service) commitStockChanges(ctx context.Context, tx TxRepository, sets map[int64]*workingSet) error {
	productIDs := make([]int64, 0, len(sets))
	for id := range sets {
		productIDs = append(productIDs, id)
	}
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

	for _, productID := range productIDs {
		ws := sets[productID]
		for _, lot := range ws.touched() {
			prev := ws.orig[lot.ID]
			effective, err := inventory.ValidateLot(&prev, *lot)
			if err != nil {
				return err
			}
			*lot = effective
			if err := tx.UpdateLotStock(ctx, effective); err != nil {
				return err
			}
		}
		if active := ws.active(); active != ws.product.Active {
			if err := tx.SetProductActive(ctx, productID, active); err != nil {
				return err
			}
		}
	}
	return nil
}

// VoidSale flips the voided flag. Consumed stock is not restored; restocking
// is an explicit inventory operation.
func (s *Service) VoidSale(ctx context.Context, saleID uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Voided {
			return ErrSaleAlreadyVoided
		}
		return tx.MarkSaleVoided(ctx, saleID)
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.SaleVoided()
	}
	s.recordAudit(ctx, shared.ActorFromContext(ctx), "pos:sale:void", saleID, nil)
	return nil
}

// GetSale loads a sale with its lines.
func (s *Service) GetSale(ctx context.Context, saleID uuid.UUID) (Sale, error) {
	return s.repo.GetSale(ctx, saleID)
}

// ListSales lists sale history.
func (s *Service) ListSales(ctx context.Context, filter SaleFilter) ([]Sale, int, error) {
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, saleID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "sale",
		EntityID: saleID.String(),
		Meta:     meta,
	})
}
