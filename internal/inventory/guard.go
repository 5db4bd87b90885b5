package inventory

import "strings"

// The functions in this file are the single write path for entity state.
// They take the persisted snapshot (nil on creation) and the proposed state,
// and return the effective state to persist or a ValidationError naming the
// field that may not change. Callers are responsible for persistence.

// ValidateLaboratory checks a laboratory write. The name becomes immutable
// once at least one product references the laboratory.
func ValidateLaboratory(prev *Laboratory, next Laboratory, productCount int) (Laboratory, error) {
	next.Name = strings.TrimSpace(next.Name)
	if next.Name == "" {
		return Laboratory{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if prev != nil && productCount > 0 && next.Name != prev.Name {
		return Laboratory{}, &ValidationError{Field: "name", Reason: "immutable while products reference this laboratory"}
	}
	return next, nil
}

// ValidateProduct checks a product write. SKU, dose and units per pack become
// immutable once at least one lot references the product. The active flag is
// derived from lot state and never taken from the proposed write.
func ValidateProduct(prev *Product, next Product, lotCount int) (Product, error) {
	next.Name = strings.TrimSpace(next.Name)
	next.SKU = strings.TrimSpace(next.SKU)
	if next.LaboratoryID <= 0 {
		return Product{}, &ValidationError{Field: "laboratory_id", Reason: "must reference a laboratory"}
	}
	if next.Name == "" {
		return Product{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if next.SKU == "" {
		return Product{}, &ValidationError{Field: "sku", Reason: "must not be empty"}
	}
	if next.DoseMG <= 0 {
		return Product{}, &ValidationError{Field: "dose_mg", Reason: "must be greater than zero"}
	}
	if next.UnitsPerPack <= 0 {
		return Product{}, &ValidationError{Field: "units_per_pack", Reason: "must be greater than zero"}
	}
	if next.SalePrice < 0 {
		return Product{}, &ValidationError{Field: "sale_price", Reason: "must not be negative"}
	}
	if prev != nil {
		if lotCount > 0 {
			if next.SKU != prev.SKU {
				return Product{}, &ValidationError{Field: "sku", Reason: "immutable while lots reference this product"}
			}
			if next.DoseMG != prev.DoseMG {
				return Product{}, &ValidationError{Field: "dose_mg", Reason: "immutable while lots reference this product"}
			}
			if next.UnitsPerPack != prev.UnitsPerPack {
				return Product{}, &ValidationError{Field: "units_per_pack", Reason: "immutable while lots reference this product"}
			}
		}
		next.Active = prev.Active
	} else {
		// A freshly created product has no lots, so it cannot be active.
		next.Active = false
	}
	return next, nil
}

// ValidateLot checks a lot write and applies the forced-activation rule:
// a lot with zero quantity or a defect flag is never active. The rule runs on
// every write, including creation.
func ValidateLot(prev *Lot, next Lot) (Lot, error) {
	next.LotCode = strings.TrimSpace(next.LotCode)
	if next.ProductID <= 0 {
		return Lot{}, &ValidationError{Field: "product_id", Reason: "must reference a product"}
	}
	if next.LotCode == "" {
		return Lot{}, &ValidationError{Field: "lot_code", Reason: "must not be empty"}
	}
	if next.CreatedDate.IsZero() {
		return Lot{}, &ValidationError{Field: "created_date", Reason: "must be set"}
	}
	if next.ExpiryDate.IsZero() {
		return Lot{}, &ValidationError{Field: "expiry_date", Reason: "must be set"}
	}
	if next.Quantity < 0 {
		return Lot{}, &ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	if prev != nil {
		if next.ProductID != prev.ProductID {
			return Lot{}, &ValidationError{Field: "product_id", Reason: "immutable after creation"}
		}
		if next.LotCode != prev.LotCode {
			return Lot{}, &ValidationError{Field: "lot_code", Reason: "immutable after creation"}
		}
		if !next.CreatedDate.Equal(prev.CreatedDate) {
			return Lot{}, &ValidationError{Field: "created_date", Reason: "immutable after creation"}
		}
		if !next.ExpiryDate.Equal(prev.ExpiryDate) {
			return Lot{}, &ValidationError{Field: "expiry_date", Reason: "immutable after creation"}
		}
	}
	if next.Quantity == 0 || next.Defective {
		next.Active = false
	}
	return next, nil
}

// ProductActive recomputes the derived product flag: true iff at least one
// lot is simultaneously active, non-defective and holds stock.
func ProductActive(lots []Lot) bool {
	for _, lot := range lots {
		if lot.Sellable() {
			return true
		}
	}
	return false
}
