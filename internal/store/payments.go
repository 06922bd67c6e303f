package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/idcstack/idc-control-plane/internal/model"
)

const paymentSelect = `
select payment_id, order_id, user_id, payment_method, amount::float8, description,
       status, pay_url, transaction_id, created_at, updated_at
from payments`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var p model.Payment
	if err := row.Scan(
		&p.PaymentID, &p.OrderID, &p.UserID, &p.Method, &p.Amount, &p.Description,
		&p.Status, &p.PayURL, &p.TransactionID, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreatePayment(ctx context.Context, p *model.Payment) error {
	const q = `
insert into payments (
  payment_id, order_id, user_id, payment_method, amount, description, status, pay_url, transaction_id, created_at, updated_at
) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.Exec(ctx, q,
		p.PaymentID, p.OrderID, p.UserID, string(p.Method), p.Amount, p.Description,
		string(p.Status), p.PayURL, p.TransactionID, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *Store) GetPayment(ctx context.Context, paymentID string) (*model.Payment, error) {
	p, err := scanPayment(s.db.QueryRow(ctx, paymentSelect+"\nwhere payment_id = $1", paymentID))
	if err != nil {
		return nil, notFoundIfNoRows(err)
	}
	return p, nil
}

// UpdatePaymentStatus settles a pending payment. A payment that is no longer
// pending yields ErrStatusConflict.
func (s *Store) UpdatePaymentStatus(ctx context.Context, paymentID string, status model.PaymentStatus, transactionID string) (*model.Payment, error) {
	const q = `
update payments
set status = $2, transaction_id = $3, updated_at = now()
where payment_id = $1 and status = 'pending'
returning payment_id, order_id, user_id, payment_method, amount::float8, description,
          status, pay_url, transaction_id, created_at, updated_at`

	p, err := scanPayment(s.db.QueryRow(ctx, q, paymentID, string(status), transactionID))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if _, err := s.GetPayment(ctx, paymentID); err != nil {
		return nil, err
	}
	return nil, ErrStatusConflict
}
