package pos

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botica-erp/botica/internal/inventory"
	"github.com/botica-erp/botica/internal/platform/db"
	"github.com/botica-erp/botica/internal/shared"
)

// RepositoryPort abstracts persistence for the sale transaction manager.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id uuid.UUID) (Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]Sale, int, error)
}

// TxRepository exposes the operations the sale transaction manager performs
// inside one atomic transaction. Product and lot fetches take row locks; the
// caller is responsible for acquiring them in ascending product id order.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, productID int64) (inventory.Product, error)
	LotsForUpdate(ctx context.Context, productID int64) ([]inventory.Lot, error)
	UpdateLotStock(ctx context.Context, lot inventory.Lot) error
	SetProductActive(ctx context.Context, productID int64, active bool) error
	InsertSale(ctx context.Context, sale Sale) error
	InsertSaleLines(ctx context.Context, lines []SaleLine) ([]SaleLine, error)
	GetSaleForUpdate(ctx context.Context, id uuid.UUID) (Sale, error)
	MarkSaleVoided(ctx context.Context, id uuid.UUID) error
}

// Repository persists sales in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction. All
// lot decrements, product cascades and sale rows of one sale commit together
// or not at all.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("pos repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const saleColumns = `id, user_id, sold_at, total, payment_method, voided`

func scanSale(row pgx.Row) (Sale, error) {
	var sale Sale
	var method string
	err := row.Scan(&sale.ID, &sale.UserID, &sale.SoldAt, &sale.Total, &method, &sale.Voided)
	sale.PaymentMethod = PaymentMethod(method)
	return sale, err
}

func (r *Repository) GetSale(ctx context.Context, id uuid.UUID) (Sale, error) {
	sale, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrSaleNotFound
		}
		return Sale{}, err
	}
	lines, err := r.saleLines(ctx, id)
	if err != nil {
		return Sale{}, err
	}
	sale.Lines = lines
	return sale, nil
}

func (r *Repository) saleLines(ctx context.Context, saleID uuid.UUID) ([]SaleLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, sale_id, product_id, lot_id, quantity, unit_price, subtotal
FROM sale_lines WHERE sale_id=$1 ORDER BY id ASC`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []SaleLine
	for rows.Next() {
		var line SaleLine
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ProductID, &line.LotID, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *Repository) ListSales(ctx context.Context, filter SaleFilter) ([]Sale, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += ` AND sold_at >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += ` AND sold_at <= $` + strconv.Itoa(len(args))
	}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		where += ` AND user_id = $` + strconv.Itoa(len(args))
	}
	if filter.PaymentMethod != nil {
		args = append(args, string(*filter.PaymentMethod))
		where += ` AND payment_method = $` + strconv.Itoa(len(args))
	}
	if filter.Voided != nil {
		args = append(args, *filter.Voided)
		where += ` AND voided = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	limitArg := len(args) - 1
	rows, err := r.pool.Query(ctx, `SELECT `+saleColumns+` FROM sales`+where+
		` ORDER BY sold_at DESC LIMIT $`+strconv.Itoa(limitArg)+` OFFSET $`+strconv.Itoa(limitArg+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sales []Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		sales = append(sales, sale)
	}
	return sales, total, rows.Err()
}

func (r *txRepository) GetProductForUpdate(ctx context.Context, productID int64) (inventory.Product, error) {
	var p inventory.Product
	err := r.tx.QueryRow(ctx, `SELECT id, laboratory_id, name, description, dose_mg, units_per_pack, bioequivalent, sku, sale_price, active, created_at, updated_at
FROM products WHERE id=$1 FOR UPDATE`, productID).
		Scan(&p.ID, &p.LaboratoryID, &p.Name, &p.Description, &p.DoseMG, &p.UnitsPerPack, &p.Bioequivalent, &p.SKU, &p.SalePrice, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return p, err
}

func (r *txRepository) LotsForUpdate(ctx context.Context, productID int64) ([]inventory.Lot, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, product_id, lot_code, created_date, expiry_date, quantity, defective, active, created_at, updated_at
FROM lots WHERE product_id=$1 ORDER BY expiry_date ASC, id ASC FOR UPDATE`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []inventory.Lot
	for rows.Next() {
		var lot inventory.Lot
		if err := rows.Scan(&lot.ID, &lot.ProductID, &lot.LotCode, &lot.CreatedDate, &lot.ExpiryDate, &lot.Quantity, &lot.Defective, &lot.Active, &lot.CreatedAt, &lot.UpdatedAt); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (r *txRepository) UpdateLotStock(ctx context.Context, lot inventory.Lot) error {
	_, err := r.tx.Exec(ctx, `UPDATE lots SET quantity=$1, active=$2, updated_at=NOW() WHERE id=$3`, lot.Quantity, lot.Active, lot.ID)
	return err
}

func (r *txRepository) SetProductActive(ctx context.Context, productID int64, active bool) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET active=$1, updated_at=NOW() WHERE id=$2`, active, productID)
	return err
}

func (r *txRepository) InsertSale(ctx context.Context, sale Sale) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO sales (id, user_id, sold_at, total, payment_method, voided)
VALUES ($1, $2, $3, $4, $5, $6)`, sale.ID, sale.UserID, sale.SoldAt, sale.Total, string(sale.PaymentMethod), sale.Voided)
	return err
}

func (r *txRepository) InsertSaleLines(ctx context.Context, lines []SaleLine) ([]SaleLine, error) {
	for i := range lines {
		err := r.tx.QueryRow(ctx, `INSERT INTO sale_lines (sale_id, product_id, lot_id, quantity, unit_price, subtotal)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			lines[i].SaleID, lines[i].ProductID, lines[i].LotID, lines[i].Quantity, lines[i].UnitPrice, lines[i].Subtotal).
			Scan(&lines[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return lines, nil
}

func (r *txRepository) GetSaleForUpdate(ctx context.Context, id uuid.UUID) (Sale, error) {
	sale, err := scanSale(r.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrSaleNotFound
	}
	return sale, err
}

func (r *txRepository) MarkSaleVoided(ctx context.Context, id uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `UPDATE sales SET voided=TRUE WHERE id=$1`, id)
	return err
}
