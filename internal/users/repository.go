package users

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botica-erp/botica/internal/shared"
)

// RepositoryPort abstracts user persistence.
type RepositoryPort interface {
	GetByID(ctx context.Context, id int64) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	Insert(ctx context.Context, user User) (User, error)
	Update(ctx context.Context, user User) error
	List(ctx context.Context, filter Filter) ([]User, int, error)
}

// Repository persists users in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, username, full_name, password_hash, active, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.PasswordHash, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (r *Repository) GetByID(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

func (r *Repository) Insert(ctx context.Context, user User) (User, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO users (username, full_name, password_hash, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW()) RETURNING id, created_at, updated_at`,
		user.Username, user.FullName, user.PasswordHash, user.Active).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrUsernameTaken
		}
		return User{}, err
	}
	return user, nil
}

func (r *Repository) Update(ctx context.Context, user User) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET full_name=$1, password_hash=$2, active=$3, updated_at=NOW() WHERE id=$4`,
		user.FullName, user.PasswordHash, user.Active, user.ID)
	return err
}

func (r *Repository) List(ctx context.Context, filter Filter) ([]User, int, error) {
	where := ``
	args := []any{}
	if filter.Active != nil {
		where = ` WHERE active = $1`
		args = append(args, *filter.Active)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	limitArg := len(args) - 1
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users`+where+
		` ORDER BY username ASC LIMIT $`+strconv.Itoa(limitArg)+` OFFSET $`+strconv.Itoa(limitArg+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, u)
	}
	return list, total, rows.Err()
}
