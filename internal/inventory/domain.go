package inventory

import (
	"errors"
	"fmt"
	"time"
)

// Laboratory is a drug manufacturer referenced by products.
type Laboratory struct {
	ID        int64
	Name      string
	Address   *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Product is a sellable presentation of a drug. Active is derived from the
// product's lots and has no independent write path.
type Product struct {
	ID            int64
	LaboratoryID  int64
	Name          string
	Description   string
	DoseMG        int
	UnitsPerPack  int
	Bioequivalent bool
	SKU           string
	SalePrice     int64
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Lot is a dated batch of a product with its own stock and defect status.
type Lot struct {
	ID          int64
	ProductID   int64
	LotCode     string
	CreatedDate time.Time
	ExpiryDate  time.Time
	Quantity    int
	Defective   bool
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Sellable reports whether the lot can be drawn from at all.
func (l Lot) Sellable() bool {
	return l.Active && !l.Defective && l.Quantity > 0
}

// Expired reports whether the lot's expiry date lies before the reference day.
func (l Lot) Expired(ref time.Time) bool {
	y, m, d := ref.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return l.ExpiryDate.Before(today)
}

// ValidationError indicates a rejected mutation, naming the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("inventory: %s: %s", e.Field, e.Reason)
}

// PermissionError indicates an operation forbidden by stock protection rules.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return "inventory: " + e.Reason
}

// ErrLaboratoryNotFound indicates a missing laboratory row.
var ErrLaboratoryNotFound = errors.New("inventory: laboratory not found")

// ErrProductNotFound indicates a missing product row.
var ErrProductNotFound = errors.New("inventory: product not found")

// ErrLotNotFound indicates a missing lot row.
var ErrLotNotFound = errors.New("inventory: lot not found")

// LaboratoryFilter narrows laboratory listings.
type LaboratoryFilter struct {
	Search  string
	Page    int
	PerPage int
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	Search        string
	LaboratoryID  *int64
	Active        *bool
	Bioequivalent *bool
	SortBy        string
	SortDir       string
	Page          int
	PerPage       int
}

// LotFilter narrows lot listings.
type LotFilter struct {
	ProductID *int64
	Defective *bool
	Active    *bool
	Page      int
	PerPage   int
}

// LowStockProduct is a read-only projection of a product whose sellable
// stock sits below a reorder threshold.
type LowStockProduct struct {
	ProductID int64
	SKU       string
	Name      string
	Stock     int64
}
