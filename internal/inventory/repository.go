package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botica-erp/botica/internal/platform/db"
	"github.com/botica-erp/botica/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLaboratory(ctx context.Context, id int64) (Laboratory, error)
	ListLaboratories(ctx context.Context, filter LaboratoryFilter) ([]Laboratory, int, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error)
	GetLot(ctx context.Context, id int64) (Lot, error)
	ListLots(ctx context.Context, filter LotFilter) ([]Lot, int, error)
	StockTotal(ctx context.Context, productID int64) (int64, error)
	SoonToExpireLots(ctx context.Context, ref time.Time, days int) ([]Lot, error)
	LowStockProducts(ctx context.Context, threshold int64) ([]LowStockProduct, error)
}

// TxRepository exposes transactional operations used by the service. Row
// fetches lock the row FOR UPDATE so invariant checks and the subsequent
// write act on a stable snapshot.
type TxRepository interface {
	GetLaboratoryForUpdate(ctx context.Context, id int64) (Laboratory, error)
	InsertLaboratory(ctx context.Context, lab Laboratory) (Laboratory, error)
	UpdateLaboratory(ctx context.Context, lab Laboratory) error
	CountProducts(ctx context.Context, laboratoryID int64) (int, error)

	GetProductForUpdate(ctx context.Context, id int64) (Product, error)
	InsertProduct(ctx context.Context, product Product) (Product, error)
	UpdateProduct(ctx context.Context, product Product) error
	CountLots(ctx context.Context, productID int64) (int, error)
	SetProductActive(ctx context.Context, productID int64, active bool) error

	ProductIDsWithExpiredActiveLots(ctx context.Context, ref time.Time) ([]int64, error)

	GetLotForUpdate(ctx context.Context, id int64) (Lot, error)
	LotsForUpdate(ctx context.Context, productID int64) ([]Lot, error)
	InsertLot(ctx context.Context, lot Lot) (Lot, error)
	UpdateLot(ctx context.Context, lot Lot) error
	DeleteLot(ctx context.Context, id int64) error
}

// Repository persists inventory data in PostgreSQL.
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

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const laboratoryColumns = `id, name, address, phone, created_at, updated_at`

func scanLaboratory(row pgx.Row) (Laboratory, error) {
	var lab Laboratory
	err := row.Scan(&lab.ID, &lab.Name, &lab.Address, &lab.Phone, &lab.CreatedAt, &lab.UpdatedAt)
	return lab, err
}

func (r *Repository) GetLaboratory(ctx context.Context, id int64) (Laboratory, error) {
	lab, err := scanLaboratory(r.pool.QueryRow(ctx, `SELECT `+laboratoryColumns+` FROM laboratories WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Laboratory{}, ErrLaboratoryNotFound
	}
	return lab, err
}

func (r *Repository) ListLaboratories(ctx context.Context, filter LaboratoryFilter) ([]Laboratory, int, error) {
	where := ``
	args := []any{}
	if filter.Search != "" {
		where = ` WHERE search_name LIKE $1`
		args = append(args, "%"+shared.FoldSearchTerm(filter.Search)+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM laboratories`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	limitArg := len(args) - 1
	rows, err := r.pool.Query(ctx, `SELECT `+laboratoryColumns+` FROM laboratories`+where+
		` ORDER BY name ASC LIMIT $`+strconv.Itoa(limitArg)+` OFFSET $`+strconv.Itoa(limitArg+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var labs []Laboratory
	for rows.Next() {
		lab, err := scanLaboratory(rows)
		if err != nil {
			return nil, 0, err
		}
		labs = append(labs, lab)
	}
	return labs, total, rows.Err()
}

func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

const productColumns = `id, laboratory_id, name, description, dose_mg, units_per_pack, bioequivalent, sku, sale_price, active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.LaboratoryID, &p.Name, &p.Description, &p.DoseMG, &p.UnitsPerPack, &p.Bioequivalent, &p.SKU, &p.SalePrice, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repository) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Search != "" {
		args = append(args, "%"+shared.FoldSearchTerm(filter.Search)+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (search_name LIKE $` + n + ` OR sku LIKE $` + n + `)`
	}
	if filter.LaboratoryID != nil {
		args = append(args, *filter.LaboratoryID)
		where += ` AND laboratory_id = $` + strconv.Itoa(len(args))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		where += ` AND active = $` + strconv.Itoa(len(args))
	}
	if filter.Bioequivalent != nil {
		args = append(args, *filter.Bioequivalent)
		where += ` AND bioequivalent = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	limitArg := len(args) - 1
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products`+where+
		` ORDER BY `+productSortOrder(filter.SortBy, filter.SortDir)+
		` LIMIT $`+strconv.Itoa(limitArg)+` OFFSET $`+strconv.Itoa(limitArg+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

func productSortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if strings.EqualFold(sortDir, "desc") {
		dir = "DESC"
	}
	switch sortBy {
	case "sale_price":
		return "sale_price " + dir
	case "dose_mg":
		return "dose_mg " + dir
	default:
		return "name " + dir
	}
}

const lotColumns = `id, product_id, lot_code, created_date, expiry_date, quantity, defective, active, created_at, updated_at`

func scanLot(row pgx.Row) (Lot, error) {
	var lot Lot
	err := row.Scan(&lot.ID, &lot.ProductID, &lot.LotCode, &lot.CreatedDate, &lot.ExpiryDate, &lot.Quantity, &lot.Defective, &lot.Active, &lot.CreatedAt, &lot.UpdatedAt)
	return lot, err
}

func (r *Repository) GetLot(ctx context.Context, id int64) (Lot, error) {
	lot, err := scanLot(r.pool.QueryRow(ctx, `SELECT `+lotColumns+` FROM lots WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, ErrLotNotFound
	}
	return lot, err
}

func (r *Repository) ListLots(ctx context.Context, filter LotFilter) ([]Lot, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.ProductID != nil {
		args = append(args, *filter.ProductID)
		where += ` AND product_id = $` + strconv.Itoa(len(args))
	}
	if filter.Defective != nil {
		args = append(args, *filter.Defective)
		where += ` AND defective = $` + strconv.Itoa(len(args))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		where += ` AND active = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM lots`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	limitArg := len(args) - 1
	rows, err := r.pool.Query(ctx, `SELECT `+lotColumns+` FROM lots`+where+
		` ORDER BY expiry_date ASC, id ASC LIMIT $`+strconv.Itoa(limitArg)+` OFFSET $`+strconv.Itoa(limitArg+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var lots []Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, 0, err
		}
		lots = append(lots, lot)
	}
	return lots, total, rows.Err()
}

// StockTotal sums stock across sellable lots of a product.
func (r *Repository) StockTotal(ctx context.Context, productID int64) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM lots
WHERE product_id=$1 AND active=TRUE AND defective=FALSE`, productID).Scan(&total)
	return total, err
}

// SoonToExpireLots lists active lots whose expiry falls within the next
// `days` days from ref, soonest first.
func (r *Repository) SoonToExpireLots(ctx context.Context, ref time.Time, days int) ([]Lot, error) {
	limit := ref.AddDate(0, 0, days)
	rows, err := r.pool.Query(ctx, `SELECT `+lotColumns+` FROM lots
WHERE active=TRUE AND expiry_date >= $1::date AND expiry_date < $2::date
ORDER BY expiry_date ASC, id ASC`, ref, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// LowStockProducts lists products whose sellable stock sits below threshold,
// emptiest first. Products with no sellable lots at all are included.
func (r *Repository) LowStockProducts(ctx context.Context, threshold int64) ([]LowStockProduct, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.sku, p.name, COALESCE(SUM(l.quantity), 0) AS stock
FROM products p
LEFT JOIN lots l ON l.product_id = p.id AND l.active=TRUE AND l.defective=FALSE
GROUP BY p.id, p.sku, p.name
HAVING COALESCE(SUM(l.quantity), 0) < $1
ORDER BY stock ASC, p.id ASC`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []LowStockProduct
	for rows.Next() {
		var p LowStockProduct
		if err := rows.Scan(&p.ProductID, &p.SKU, &p.Name, &p.Stock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *txRepository) GetLaboratoryForUpdate(ctx context.Context, id int64) (Laboratory, error) {
	lab, err := scanLaboratory(r.tx.QueryRow(ctx, `SELECT `+laboratoryColumns+` FROM laboratories WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Laboratory{}, ErrLaboratoryNotFound
	}
	return lab, err
}

func (r *txRepository) InsertLaboratory(ctx context.Context, lab Laboratory) (Laboratory, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO laboratories (name, search_name, address, phone, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW()) RETURNING id, created_at, updated_at`,
		lab.Name, shared.FoldSearchTerm(lab.Name), lab.Address, lab.Phone).Scan(&lab.ID, &lab.CreatedAt, &lab.UpdatedAt)
	if err != nil {
		return Laboratory{}, mapConstraintError(err)
	}
	return lab, nil
}

func (r *txRepository) UpdateLaboratory(ctx context.Context, lab Laboratory) error {
	_, err := r.tx.Exec(ctx, `UPDATE laboratories SET name=$1, search_name=$2, address=$3, phone=$4, updated_at=NOW() WHERE id=$5`,
		lab.Name, shared.FoldSearchTerm(lab.Name), lab.Address, lab.Phone, lab.ID)
	return mapConstraintError(err)
}

func (r *txRepository) CountProducts(ctx context.Context, laboratoryID int64) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM products WHERE laboratory_id=$1`, laboratoryID).Scan(&count)
	return count, err
}

func (r *txRepository) GetProductForUpdate(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (r *txRepository) InsertProduct(ctx context.Context, p Product) (Product, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO products (laboratory_id, name, search_name, description, dose_mg, units_per_pack, bioequivalent, sku, sale_price, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW()) RETURNING id, created_at, updated_at`,
		p.LaboratoryID, p.Name, shared.FoldSearchTerm(p.Name), p.Description, p.DoseMG, p.UnitsPerPack, p.Bioequivalent, p.SKU, p.SalePrice, p.Active).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, mapConstraintError(err)
	}
	return p, nil
}

func (r *txRepository) UpdateProduct(ctx context.Context, p Product) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET laboratory_id=$1, name=$2, search_name=$3, description=$4, dose_mg=$5, units_per_pack=$6, bioequivalent=$7, sku=$8, sale_price=$9, updated_at=NOW() WHERE id=$10`,
		p.LaboratoryID, p.Name, shared.FoldSearchTerm(p.Name), p.Description, p.DoseMG, p.UnitsPerPack, p.Bioequivalent, p.SKU, p.SalePrice, p.ID)
	return mapConstraintError(err)
}

func (r *txRepository) CountLots(ctx context.Context, productID int64) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM lots WHERE product_id=$1`, productID).Scan(&count)
	return count, err
}

func (r *txRepository) SetProductActive(ctx context.Context, productID int64, active bool) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET active=$1, updated_at=NOW() WHERE id=$2`, active, productID)
	return err
}

// ProductIDsWithExpiredActiveLots lists products that still carry active
// lots past their expiry date, in ascending id order for lock acquisition.
func (r *txRepository) ProductIDsWithExpiredActiveLots(ctx context.Context, ref time.Time) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT DISTINCT product_id FROM lots WHERE active=TRUE AND expiry_date < $1::date ORDER BY product_id ASC`, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *txRepository) GetLotForUpdate(ctx context.Context, id int64) (Lot, error) {
	lot, err := scanLot(r.tx.QueryRow(ctx, `SELECT `+lotColumns+` FROM lots WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, ErrLotNotFound
	}
	return lot, err
}

// LotsForUpdate locks all lots of a product in deterministic order:
// ascending expiry date, ties broken by id.
func (r *txRepository) LotsForUpdate(ctx context.Context, productID int64) ([]Lot, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+lotColumns+` FROM lots WHERE product_id=$1 ORDER BY expiry_date ASC, id ASC FOR UPDATE`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (r *txRepository) InsertLot(ctx context.Context, lot Lot) (Lot, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO lots (product_id, lot_code, created_date, expiry_date, quantity, defective, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW()) RETURNING id, created_at, updated_at`,
		lot.ProductID, lot.LotCode, lot.CreatedDate, lot.ExpiryDate, lot.Quantity, lot.Defective, lot.Active).
		Scan(&lot.ID, &lot.CreatedAt, &lot.UpdatedAt)
	if err != nil {
		return Lot{}, mapConstraintError(err)
	}
	return lot, nil
}

func (r *txRepository) UpdateLot(ctx context.Context, lot Lot) error {
	_, err := r.tx.Exec(ctx, `UPDATE lots SET quantity=$1, defective=$2, active=$3, updated_at=NOW() WHERE id=$4`,
		lot.Quantity, lot.Defective, lot.Active, lot.ID)
	return err
}

func (r *txRepository) DeleteLot(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM lots WHERE id=$1`, id)
	return mapConstraintError(err)
}

// mapConstraintError converts PostgreSQL constraint violations into domain
// errors so callers never see driver-level failures for business rules.
func mapConstraintError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		switch pgErr.ConstraintName {
		case "laboratories_name_key":
			return &ValidationError{Field: "name", Reason: "already in use"}
		case "products_sku_key":
			return &ValidationError{Field: "sku", Reason: "already in use"}
		case "lots_product_id_lot_code_key":
			return &ValidationError{Field: "lot_code", Reason: "already in use for this product"}
		}
		return &ValidationError{Field: pgErr.ConstraintName, Reason: "already in use"}
	case "23503":
		return &PermissionError{Reason: fmt.Sprintf("referenced by other records (%s)", pgErr.ConstraintName)}
	}
	return err
}
