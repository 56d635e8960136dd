package db

import (
	"context"
	_ "embed"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boostgram/backend/internal/errs"
	"github.com/boostgram/backend/internal/models"
)

//go:embed schema.sql
var schema string

type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Postgres{Pool: pool}, nil
}

func (s *Postgres) Close() {
	s.Pool.Close()
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// ApplySchema creates tables and change-notification triggers. Idempotent.
func (s *Postgres) ApplySchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schema)
	return wrap("apply schema", err)
}

func (s *Postgres) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// wrap translates driver failures into the errs taxonomy. Unique
// violations and permission rejections keep their identity; everything
// else is transient.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return errs.ErrUniqueViolation
		case "42501":
			return errs.Permission(op, err)
		}
	}
	return errs.Transient(op, err)
}

func parentColumn(p models.Parent) string {
	if p.Kind == models.ParentTicket {
		return "ticket_id"
	}
	return "conversation_id"
}

// ---- users ----

func (s *Postgres) InsertUser(ctx context.Context, u *models.User) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO users (id, email, name, password_hash, balance, role, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, u.ID, u.Email, u.Name, u.PasswordHash, u.Balance, u.Role, u.CreatedAt)
	return wrap("insert user", err)
}

func (s *Postgres) scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Balance, &u.Role, &u.CreatedAt); err != nil {
		return nil, wrap("scan user", err)
	}
	return &u, nil
}

func (s *Postgres) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.scanUser(s.Pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, balance, role, created_at FROM users WHERE id = $1
	`, id))
}

func (s *Postgres) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.scanUser(s.Pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, balance, role, created_at FROM users WHERE email = $1
	`, email))
}

func (s *Postgres) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, email, name, password_hash, balance, role, created_at FROM users ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, wrap("list users", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Balance, &u.Role, &u.CreatedAt); err != nil {
			return nil, wrap("list users", err)
		}
		out = append(out, u)
	}
	return out, wrap("list users", rows.Err())
}

func (s *Postgres) AdjustBalance(ctx context.Context, userID string, delta float64) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE users SET balance = balance + $1 WHERE id = $2`, delta, userID)
	if err != nil {
		return wrap("adjust balance", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ---- stats ----

func (s *Postgres) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM orders),
			(SELECT COUNT(*) FROM transactions WHERE type = 'deposit' AND status = 'pending')
	`).Scan(&st.TotalUsers, &st.TotalOrders, &st.PendingDeposits)
	return st, wrap("stats", err)
}

var _ Store = (*Postgres)(nil)
