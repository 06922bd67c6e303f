package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/idcstack/idc-control-plane/internal/model"
)

const orderSelect = `
select o.order_id, o.user_id, coalesce(u.username, ''), o.server_template_id,
       o.cpu, o.memory, o.disk, o.bandwidth, o.ports, o.term_months,
       o.monthly_cost::float8, o.total_cost::float8,
       o.customer_name, o.customer_phone, o.customer_email,
       o.status, o.created_at, o.updated_at
from orders o
left join users u on u.id = o.user_id`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	if err := row.Scan(
		&o.OrderID, &o.UserID, &o.Username, &o.ServerTemplateID,
		&o.Configuration.CPU, &o.Configuration.Memory, &o.Configuration.Disk, &o.Configuration.Bandwidth, &o.Configuration.Ports, &o.TermMonths,
		&o.MonthlyCost, &o.TotalCost,
		&o.Customer.Name, &o.Customer.Phone, &o.Customer.Email,
		&o.Status, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) CreateOrder(ctx context.Context, o *model.Order) error {
	const q = `
insert into orders (
  order_id, user_id, server_template_id, cpu, memory, disk, bandwidth, ports, term_months,
  monthly_cost, total_cost, customer_name, customer_phone, customer_email, status, created_at, updated_at
) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := s.db.Exec(ctx, q,
		o.OrderID, o.UserID, o.ServerTemplateID,
		o.Configuration.CPU, o.Configuration.Memory, o.Configuration.Disk, o.Configuration.Bandwidth, o.Configuration.Ports, o.TermMonths,
		o.MonthlyCost, o.TotalCost, o.Customer.Name, o.Customer.Phone, o.Customer.Email,
		string(o.Status), o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return getOrder(ctx, s.db, orderID)
}

func getOrder(ctx context.Context, db queryRower, orderID string) (*model.Order, error) {
	o, err := scanOrder(db.QueryRow(ctx, orderSelect+"\nwhere o.order_id = $1", orderID))
	if err != nil {
		return nil, notFoundIfNoRows(err)
	}
	return o, nil
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return s.listOrders(ctx, orderSelect+"\nwhere o.user_id = $1\norder by o.created_at desc", userID)
}

func (s *Store) ListAllOrders(ctx context.Context) ([]model.Order, error) {
	return s.listOrders(ctx, orderSelect+"\norder by o.created_at desc")
}

func (s *Store) listOrders(ctx context.Context, q string, args ...any) ([]model.Order, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// UpdateOrderStatus applies the change only while the order still has status from,
// so two concurrent admins cannot both win.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, from, to model.OrderStatus) (*model.Order, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const upd = `
update orders
set status = $3, updated_at = now()
where order_id = $1 and status = $2`
	tag, err := tx.Exec(ctx, upd, orderID, string(from), string(to))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := tx.QueryRow(ctx, `select status from orders where order_id = $1`, orderID).Scan(&current)
		if err != nil {
			return nil, notFoundIfNoRows(err)
		}
		return nil, ErrStatusConflict
	}

	o, err := getOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}
