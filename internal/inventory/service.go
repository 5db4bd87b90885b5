package inventory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/botica-erp/botica/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates inventory mutations. Every write is routed through the
// guard functions before persistence, and every lot write recomputes the
// parent product's derived active flag inside the same transaction.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	stock singleflight.Group
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// LaboratoryInput is the full proposed state of a laboratory write.
type LaboratoryInput struct {
	Name    string
	Address *string
	Phone   *string
}

// ProductInput is the full proposed state of a product write.
type ProductInput struct {
	LaboratoryID  int64
	Name          string
	Description   string
	DoseMG        int
	UnitsPerPack  int
	Bioequivalent bool
	SKU           string
	SalePrice     int64
}

// LotInput is the full proposed state of a lot write. Immutable fields are
// still part of the input so that a change attempt is rejected explicitly
// rather than silently dropped.
type LotInput struct {
	ProductID   int64
	LotCode     string
	CreatedDate time.Time
	ExpiryDate  time.Time
	Quantity    int
	Defective   bool
	Active      bool
}

func (s *Service) GetLaboratory(ctx context.Context, id int64) (Laboratory, error) {
	return s.repo.GetLaboratory(ctx, id)
}

func (s *Service) ListLaboratories(ctx context.Context, filter LaboratoryFilter) ([]Laboratory, int, error) {
	return s.repo.ListLaboratories(ctx, filter)
}

// CreateLaboratory registers a laboratory.
func (s *Service) CreateLaboratory(ctx context.Context, input LaboratoryInput) (Laboratory, error) {
	proposed := Laboratory{Name: input.Name, Address: input.Address, Phone: input.Phone}
	effective, err := ValidateLaboratory(nil, proposed, 0)
	if err != nil {
		return Laboratory{}, err
	}

	var created Laboratory
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertLaboratory(ctx, effective)
		return err
	})
	if err != nil {
		return Laboratory{}, err
	}
	s.recordAudit(ctx, "inventory:laboratory:create", "laboratory", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

// UpdateLaboratory applies a laboratory write through the guard. The name is
// immutable while products reference the laboratory.
func (s *Service) UpdateLaboratory(ctx context.Context, id int64, input LaboratoryInput) (Laboratory, error) {
	var updated Laboratory
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		prev, err := tx.GetLaboratoryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		productCount, err := tx.CountProducts(ctx, id)
		if err != nil {
			return err
		}
		proposed := prev
		proposed.Name = input.Name
		proposed.Address = input.Address
		proposed.Phone = input.Phone
		effective, err := ValidateLaboratory(&prev, proposed, productCount)
		if err != nil {
			return err
		}
		if err := tx.UpdateLaboratory(ctx, effective); err != nil {
			return err
		}
		updated = effective
		return nil
	})
	if err != nil {
		return Laboratory{}, err
	}
	s.recordAudit(ctx, "inventory:laboratory:update", "laboratory", id, map[string]any{"name": updated.Name})
	return updated, nil
}

func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error) {
	return s.repo.ListProducts(ctx, filter)
}

// CreateProduct registers a product under an existing laboratory. The product
// starts inactive: activation is derived from lot state.
func (s *Service) CreateProduct(ctx context.Context, input ProductInput) (Product, error) {
	proposed := Product{
		LaboratoryID:  input.LaboratoryID,
		Name:          input.Name,
		Description:   input.Description,
		DoseMG:        input.DoseMG,
		UnitsPerPack:  input.UnitsPerPack,
		Bioequivalent: input.Bioequivalent,
		SKU:           input.SKU,
		SalePrice:     input.SalePrice,
	}
	effective, err := ValidateProduct(nil, proposed, 0)
	if err != nil {
		return Product{}, err
	}

	var created Product
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetLaboratoryForUpdate(ctx, input.LaboratoryID); err != nil {
			return err
		}
		var err error
		created, err = tx.InsertProduct(ctx, effective)
		return err
	})
	if err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, "inventory:product:create", "product", created.ID, map[string]any{"sku": created.SKU, "name": created.Name})
	return created, nil
}

// UpdateProduct applies a product write through the guard. SKU, dose and
// units per pack are immutable while lots reference the product; the active
// flag is never taken from the input.
func (s *Service) UpdateProduct(ctx context.Context, id int64, input ProductInput) (Product, error) {
	var updated Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		prev, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return err
		}
		lotCount, err := tx.CountLots(ctx, id)
		if err != nil {
			return err
		}
		proposed := prev
		proposed.LaboratoryID = input.LaboratoryID
		proposed.Name = input.Name
		proposed.Description = input.Description
		proposed.DoseMG = input.DoseMG
		proposed.UnitsPerPack = input.UnitsPerPack
		proposed.Bioequivalent = input.Bioequivalent
		proposed.SKU = input.SKU
		proposed.SalePrice = input.SalePrice
		effective, err := ValidateProduct(&prev, proposed, lotCount)
		if err != nil {
			return err
		}
		if err := tx.UpdateProduct(ctx, effective); err != nil {
			return err
		}
		updated = effective
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, "inventory:product:update", "product", id, map[string]any{"sku": updated.SKU, "sale_price": updated.SalePrice})
	return updated, nil
}

func (s *Service) GetLot(ctx context.Context, id int64) (Lot, error) {
	return s.repo.GetLot(ctx, id)
}

func (s *Service) ListLots(ctx context.Context, filter LotFilter) ([]Lot, int, error) {
	return s.repo.ListLots(ctx, filter)
}

// CreateLot registers a lot and recomputes the parent product's active flag.
func (s *Service) CreateLot(ctx context.Context, input LotInput) (Lot, error) {
	proposed := Lot{
		ProductID:   input.ProductID,
		LotCode:     input.LotCode,
		CreatedDate: input.CreatedDate,
		ExpiryDate:  input.ExpiryDate,
		Quantity:    input.Quantity,
		Defective:   input.Defective,
		Active:      input.Active,
	}
	effective, err := ValidateLot(nil, proposed)
	if err != nil {
		return Lot{}, err
	}

	var created Lot
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, input.ProductID)
		if err != nil {
			return err
		}
		created, err = tx.InsertLot(ctx, effective)
		if err != nil {
			return err
		}
		return recomputeProductActive(ctx, tx, product)
	})
	if err != nil {
		return Lot{}, err
	}
	s.recordAudit(ctx, "inventory:lot:create", "lot", created.ID, map[string]any{"product_id": created.ProductID, "lot_code": created.LotCode, "quantity": created.Quantity})
	return created, nil
}

// UpdateLot applies a lot write through the guard and cascades the product
// active flag. Reactivating a lot is only possible here, and only when the
// lot holds stock and carries no defect flag.
// Locks the product before the lot, the same order every other writer takes.
// The non-locking read is safe because a lot's product_id never changes.
func (s *Service) UpdateLot(ctx context.Context, id int64, input LotInput) (Lot, error) {
	existing, err := s.repo.GetLot(ctx, id)
	if err != nil {
		return Lot{}, err
	}
	var updated Lot
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, existing.ProductID)
		if err != nil {
			return err
		}
		prev, err := tx.GetLotForUpdate(ctx, id)
		if err != nil {
			return err
		}
		proposed := prev
		proposed.ProductID = input.ProductID
		proposed.LotCode = input.LotCode
		proposed.CreatedDate = input.CreatedDate
		proposed.ExpiryDate = input.ExpiryDate
		proposed.Quantity = input.Quantity
		proposed.Defective = input.Defective
		proposed.Active = input.Active
		effective, err := ValidateLot(&prev, proposed)
		if err != nil {
			return err
		}
		if err := tx.UpdateLot(ctx, effective); err != nil {
			return err
		}
		updated = effective
		return recomputeProductActive(ctx, tx, product)
	})
	if err != nil {
		return Lot{}, err
	}
	s.recordAudit(ctx, "inventory:lot:update", "lot", id, map[string]any{"quantity": updated.Quantity, "defective": updated.Defective, "active": updated.Active})
	return updated, nil
}

// DeleteLot removes a lot. Stock protection: deletion is rejected while the
// lot still holds quantity. Product lock first, then the lot.
func (s *Service) DeleteLot(ctx context.Context, id int64) error {
	existing, err := s.repo.GetLot(ctx, id)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, existing.ProductID)
		if err != nil {
			return err
		}
		lot, err := tx.GetLotForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if lot.Quantity > 0 {
			return &PermissionError{Reason: "stock protection"}
		}
		if err := tx.DeleteLot(ctx, id); err != nil {
			return err
		}
		return recomputeProductActive(ctx, tx, product)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "inventory:lot:delete", "lot", id, nil)
	return nil
}

// DeactivateExpiredLots flags every active lot past its expiry date as
// inactive and cascades the derived product state. It returns the number of
// lots deactivated. Intended for the scheduled sweep; quantities and defect
// flags are left untouched.
func (s *Service) DeactivateExpiredLots(ctx context.Context, ref time.Time) (int, error) {
	var swept int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		productIDs, err := tx.ProductIDsWithExpiredActiveLots(ctx, ref)
		if err != nil {
			return err
		}
		for _, productID := range productIDs {
			product, err := tx.GetProductForUpdate(ctx, productID)
			if err != nil {
				return err
			}
			lots, err := tx.LotsForUpdate(ctx, productID)
			if err != nil {
				return err
			}
			for _, lot := range lots {
				if !lot.Active || !lot.Expired(ref) {
					continue
				}
				proposed := lot
				proposed.Active = false
				effective, err := ValidateLot(&lot, proposed)
				if err != nil {
					return err
				}
				if err := tx.UpdateLot(ctx, effective); err != nil {
					return err
				}
				swept++
			}
			if err := recomputeProductActive(ctx, tx, product); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		s.recordAudit(ctx, "inventory:lot:expire_sweep", "lot", 0, map[string]any{"deactivated": swept})
	}
	return swept, nil
}

// StockTotal returns the read-only stock projection for a product.
// Concurrent reads for the same product collapse into one query.
func (s *Service) StockTotal(ctx context.Context, productID int64) (int64, error) {
	v, err, _ := s.stock.Do(strconv.FormatInt(productID, 10), func() (any, error) {
		return s.repo.StockTotal(ctx, productID)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// SoonToExpireLots lists active lots expiring within the next `days` days
// from ref, soonest first. Used by the scheduled sweep to warn ahead of the
// actual deactivation.
func (s *Service) SoonToExpireLots(ctx context.Context, ref time.Time, days int) ([]Lot, error) {
	return s.repo.SoonToExpireLots(ctx, ref, days)
}

// LowStockProducts lists products whose sellable stock sits below threshold.
func (s *Service) LowStockProducts(ctx context.Context, threshold int64) ([]LowStockProduct, error) {
	return s.repo.LowStockProducts(ctx, threshold)
}

// recomputeProductActive re-evaluates the derived product flag from its lots
// and persists it only when the value actually changes.
func recomputeProductActive(ctx context.Context, tx TxRepository, product Product) error {
	lots, err := tx.LotsForUpdate(ctx, product.ID)
	if err != nil {
		return err
	}
	active := ProductActive(lots)
	if active == product.Active {
		return nil
	}
	return tx.SetProductActive(ctx, product.ID, active)
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
}
