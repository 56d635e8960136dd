package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/boostgram/backend/internal/errs"
	"github.com/boostgram/backend/internal/models"
)

// ---- services ----

func (s *Postgres) InsertService(ctx context.Context, svc *models.Service) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO services (id, platform, service_type, name, rate, min_quantity, max_quantity, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, svc.ID, svc.Platform, svc.ServiceType, svc.Name, svc.Rate, svc.MinQuantity, svc.MaxQuantity, svc.Description, svc.CreatedAt)
	return wrap("insert service", err)
}

const serviceColumns = `id, platform, service_type, name, rate, min_quantity, max_quantity, description, created_at`

func (s *Postgres) GetService(ctx context.Context, id string) (*models.Service, error) {
	var svc models.Service
	err := s.Pool.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = $1`, id,
	).Scan(&svc.ID, &svc.Platform, &svc.ServiceType, &svc.Name, &svc.Rate, &svc.MinQuantity, &svc.MaxQuantity, &svc.Description, &svc.CreatedAt)
	if err != nil {
		return nil, wrap("get service", err)
	}
	return &svc, nil
}

func (s *Postgres) ListServices(ctx context.Context, platform string) ([]models.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services`
	var args []any
	if platform != "" {
		args = append(args, platform)
		query += ` WHERE platform = $1`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list services", err)
	}
	defer rows.Close()

	var out []models.Service
	for rows.Next() {
		var svc models.Service
		if err := rows.Scan(&svc.ID, &svc.Platform, &svc.ServiceType, &svc.Name, &svc.Rate, &svc.MinQuantity, &svc.MaxQuantity, &svc.Description, &svc.CreatedAt); err != nil {
			return nil, wrap("list services", err)
		}
		out = append(out, svc)
	}
	return out, wrap("list services", rows.Err())
}

// ---- orders ----

// CreateOrder deducts the balance and records the order in one
// transaction. The conditional update doubles as the balance check, so
// two concurrent orders can never overdraw.
func (s *Postgres) CreateOrder(ctx context.Context, o *models.Order) error {
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET balance = balance - $1 WHERE id = $2 AND balance >= $1`,
			o.TotalCost, o.UserID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrInsufficientBalance
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO orders (id, user_id, service_id, link, quantity, total_cost, status, created_at, completed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, o.ID, o.UserID, o.ServiceID, o.Link, o.Quantity, o.TotalCost, o.Status, o.CreatedAt, o.CompletedAt)
		return err
	})
	if errors.Is(err, errs.ErrInsufficientBalance) {
		return errs.ErrInsufficientBalance
	}
	return wrap("create order", err)
}

const orderColumns = `id, user_id, service_id, link, quantity, total_cost, status, created_at, completed_at`

func (s *Postgres) ListOrders(ctx context.Context, userID string) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	var args []any
	if userID != "" {
		args = append(args, userID)
		query += ` WHERE user_id = $1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list orders", err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.ServiceID, &o.Link, &o.Quantity, &o.TotalCost, &o.Status, &o.CreatedAt, &o.CompletedAt); err != nil {
			return nil, wrap("list orders", err)
		}
		out = append(out, o)
	}
	return out, wrap("list orders", rows.Err())
}

func (s *Postgres) GetOrder(ctx context.Context, id, userID string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	args := []any{id}
	if userID != "" {
		args = append(args, userID)
		query += ` AND user_id = $2`
	}
	var o models.Order
	err := s.Pool.QueryRow(ctx, query, args...).Scan(
		&o.ID, &o.UserID, &o.ServiceID, &o.Link, &o.Quantity, &o.TotalCost, &o.Status, &o.CreatedAt, &o.CompletedAt)
	if err != nil {
		return nil, wrap("get order", err)
	}
	return &o, nil
}

func (s *Postgres) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus, completedAt *time.Time) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE orders SET status = $1, completed_at = $2 WHERE id = $3`,
		status, completedAt, id)
	if err != nil {
		return wrap("update order status", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ---- transactions ----

func (s *Postgres) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO transactions (id, user_id, amount, type, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, t.ID, t.UserID, t.Amount, t.Type, t.Status, t.CreatedAt)
	return wrap("insert transaction", err)
}

func (s *Postgres) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var t models.Transaction
	err := s.Pool.QueryRow(ctx, `
		SELECT id, user_id, amount, type, status, created_at FROM transactions WHERE id = $1
	`, id).Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.Status, &t.CreatedAt)
	if err != nil {
		return nil, wrap("get transaction", err)
	}
	return &t, nil
}

func (s *Postgres) ListDeposits(ctx context.Context) ([]models.Transaction, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, user_id, amount, type, status, created_at
		FROM transactions WHERE type = 'deposit' ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, wrap("list deposits", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.Status, &t.CreatedAt); err != nil {
			return nil, wrap("list deposits", err)
		}
		out = append(out, t)
	}
	return out, wrap("list deposits", rows.Err())
}

func (s *Postgres) SetTransactionStatus(ctx context.Context, id string, status models.TransactionStatus) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE transactions SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return wrap("set transaction status", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
