package pos

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentMethod enumerates accepted payment instruments.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "CASH"
	PaymentDebit    PaymentMethod = "DEBIT"
	PaymentCredit   PaymentMethod = "CREDIT"
	PaymentTransfer PaymentMethod = "TRANSFER"
)

// Valid reports whether the payment method is a known value.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentDebit, PaymentCredit, PaymentTransfer:
		return true
	}
	return false
}

// Sale is a committed retail transaction. The id is a v4 UUID so receipt
// identifiers are not guessable. Once created, only the Voided flag may
// change.
type Sale struct {
	ID            uuid.UUID
	UserID        int64
	SoldAt        time.Time
	Total         int64
	PaymentMethod PaymentMethod
	Voided        bool
	Lines         []SaleLine
}

// SaleLine is a historical fact: one draw from one lot at a frozen unit
// price. It is never edited, regardless of later product price changes.
type SaleLine struct {
	ID        int64
	SaleID    uuid.UUID
	ProductID int64
	LotID     int64
	Quantity  int
	UnitPrice int64
	Subtotal  int64
}

// LineRequest is one requested sale position, validated upstream for shape.
type LineRequest struct {
	ProductID int64
	Quantity  int
}

// LotConsumption describes one planned draw against a lot. All consumptions
// produced for the same request line share the product's frozen unit price.
type LotConsumption struct {
	LotID         int64
	QuantityTaken int
	UnitPrice     int64
}

// InsufficientStockError indicates the eligible lots of a product cannot
// cover the requested quantity. The sale carrying the line is refused whole.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("pos: insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// SaleFilter narrows sale history listings.
type SaleFilter struct {
	From          time.Time
	To            time.Time
	UserID        *int64
	PaymentMethod *PaymentMethod
	Voided        *bool
	Page          int
	PerPage       int
}

var (
	// ErrEmptySale rejects a sale without lines.
	ErrEmptySale = errors.New("pos: sale requires at least one line")
	// ErrZeroQuantity rejects a line with a non-positive quantity.
	ErrZeroQuantity = errors.New("pos: line quantity must be greater than zero")
	// ErrUnknownPaymentMethod rejects an unrecognised payment method.
	ErrUnknownPaymentMethod = errors.New("pos: unknown payment method")
	// ErrSaleNotFound indicates a missing sale row.
	ErrSaleNotFound = errors.New("pos: sale not found")
	// ErrSaleAlreadyVoided rejects voiding a sale twice.
	ErrSaleAlreadyVoided = errors.New("pos: sale already voided")
	// ErrAnonymousSale rejects recording a sale without a seller.
	ErrAnonymousSale = errors.New("pos: sale requires an authenticated user")
)
