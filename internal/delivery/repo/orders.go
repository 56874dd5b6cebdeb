package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"foodflow/internal/delivery/lifecycle"
	"foodflow/internal/delivery/model"
)

const orderColumns = `id, customer_id, restaurant_id, shipper_id, status, total, shipping_fee, delivery_address, distance_m, created_at, updated_at`

// OrdersRepo provides MySQL persistence for food orders, their line items and
// status history.
type OrdersRepo struct {
	db *sql.DB
}

// NewOrdersRepo constructs a new OrdersRepo.
func NewOrdersRepo(db *sql.DB) *OrdersRepo {
	return &OrdersRepo{db: db}
}

// Create inserts an order with its items and initial history.
func (r *OrdersRepo) Create(ctx context.Context, o model.Order) (model.Order, error) {
	if len(o.Items) == 0 {
		return model.Order{}, fmt.Errorf("order must contain at least one item")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Order{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, execErr := tx.ExecContext(ctx, `INSERT INTO food_orders (customer_id, restaurant_id, shipper_id, status, total, shipping_fee, delivery_address, distance_m, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		o.CustomerID, o.RestaurantID, nullInt64(o.ShipperID), string(o.Status), o.Total, o.ShippingFee, o.DeliveryAddress, o.DistanceM, o.CreatedAt, o.UpdatedAt)
	if execErr != nil {
		err = execErr
		return model.Order{}, err
	}
	if o.ID, err = res.LastInsertId(); err != nil {
		return model.Order{}, err
	}
	if err = insertItems(ctx, tx, o.ID, o.Items); err != nil {
		return model.Order{}, err
	}
	if err = insertHistory(ctx, tx, o.ID, o.History); err != nil {
		return model.Order{}, err
	}
	if err = tx.Commit(); err != nil {
		return model.Order{}, err
	}
	return o, nil
}

// Get returns an order with items and history.
func (r *OrdersRepo) Get(ctx context.Context, id int64) (model.Order, error) {
	o, _, err := getOrder(ctx, r.db, id, false)
	return o, err
}

// List returns orders matching f, newest first.
func (r *OrdersRepo) List(ctx context.Context, f OrderFilter) ([]model.Order, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.CustomerID != 0 {
		where = append(where, "customer_id = ?")
		args = append(args, f.CustomerID)
	}
	if f.RestaurantID != 0 {
		where = append(where, "restaurant_id = ?")
		args = append(args, f.RestaurantID)
	}
	switch {
	case f.ShipperID != 0 && f.Unassigned:
		where = append(where, "(shipper_id IS NULL OR shipper_id = ?)")
		args = append(args, f.ShipperID)
	case f.ShipperID != 0:
		where = append(where, "shipper_id = ?")
		args = append(args, f.ShipperID)
	case f.Unassigned:
		where = append(where, "shipper_id IS NULL")
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(marks, ",")+")")
	}
	query := `SELECT ` + orderColumns + ` FROM food_orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orders, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}
	if err = attachDetails(ctx, r.db, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Mutate locks the order row, applies fn and persists the result with a
// conditional update on the previous status and shipper. Zero affected rows
// mean somebody else changed the order in between.
func (r *OrdersRepo) Mutate(ctx context.Context, id int64, fn MutateFunc) (model.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Order{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var o model.Order
	var raw string
	if o, raw, err = getOrder(ctx, tx, id, true); err != nil {
		return model.Order{}, err
	}
	prevShipper := nullInt64(o.ShipperID)
	seen := len(o.History)

	var changed bool
	if changed, err = fn(&o); err != nil {
		return model.Order{}, err
	}
	if !changed {
		if err = tx.Commit(); err != nil {
			return model.Order{}, err
		}
		return o, nil
	}
	if err = updateOrderTx(ctx, tx, o, raw, prevShipper, seen); err != nil {
		return model.Order{}, err
	}
	if err = tx.Commit(); err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func updateOrderTx(ctx context.Context, tx *sql.Tx, o model.Order, rawStatus string, prevShipper interface{}, seen int) error {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now()
	}
	res, err := tx.ExecContext(ctx, `UPDATE food_orders SET status = ?, shipper_id = ?, updated_at = ? WHERE id = ? AND status = ? AND shipper_id <=> ?`,
		string(o.Status), nullInt64(o.ShipperID), o.UpdatedAt, o.ID, rawStatus, prevShipper)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	if seen < len(o.History) {
		return insertHistory(ctx, tx, o.ID, o.History[seen:])
	}
	return nil
}

func getOrder(ctx context.Context, q querier, id int64, lock bool) (model.Order, string, error) {
	query := `SELECT ` + orderColumns + ` FROM food_orders WHERE id = ?`
	if lock {
		query += " FOR UPDATE"
	}
	o, raw, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, "", ErrNotFound
	}
	if err != nil {
		return model.Order{}, "", err
	}
	orders := []model.Order{o}
	if err := attachDetails(ctx, q, orders); err != nil {
		return model.Order{}, "", err
	}
	return orders[0], raw, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scanner) (model.Order, string, error) {
	var (
		o       model.Order
		shipper sql.NullInt64
		raw     string
	)
	if err := row.Scan(&o.ID, &o.CustomerID, &o.RestaurantID, &shipper, &raw, &o.Total, &o.ShippingFee, &o.DeliveryAddress, &o.DistanceM, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return model.Order{}, "", err
	}
	if shipper.Valid {
		id := shipper.Int64
		o.ShipperID = &id
	}
	o.Status = lifecycle.Normalize(raw)
	if o.Status == lifecycle.StatusUnknown {
		o.StatusText = raw
	}
	return o, raw, nil
}

func scanOrders(rows *sql.Rows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		o, _, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func attachDetails(ctx context.Context, q querier, orders []model.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids = append(ids, fmt.Sprintf("%d", o.ID))
		index[o.ID] = i
	}
	in := strings.Join(ids, ",")

	rows, err := q.QueryContext(ctx, fmt.Sprintf(`SELECT order_id, product_id, quantity, unit_price FROM food_order_items WHERE order_id IN (%s) ORDER BY order_id, id`, in))
	if err != nil {
		return err
	}
	for rows.Next() {
		var orderID int64
		var it model.LineItem
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			rows.Close()
			return err
		}
		if i, ok := index[orderID]; ok {
			orders[i].Items = append(orders[i].Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	rows, err = q.QueryContext(ctx, fmt.Sprintf(`SELECT order_id, status, note, created_at FROM food_order_status_history WHERE order_id IN (%s) ORDER BY order_id, created_at, id`, in))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID int64
			raw     string
			note    sql.NullString
			h       model.HistoryEntry
		)
		if err := rows.Scan(&orderID, &raw, &note, &h.CreatedAt); err != nil {
			return err
		}
		h.Status = lifecycle.Normalize(raw)
		h.Note = note.String
		if i, ok := index[orderID]; ok {
			orders[i].History = append(orders[i].History, h)
		}
	}
	return rows.Err()
}

func insertItems(ctx context.Context, tx *sql.Tx, orderID int64, items []model.LineItem) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO food_order_items (order_id, product_id, quantity, unit_price) VALUES (?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, orderID, it.ProductID, it.Quantity, it.UnitPrice); err != nil {
			return err
		}
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, orderID int64, entries []model.HistoryEntry) error {
	for _, h := range entries {
		if h.CreatedAt.IsZero() {
			h.CreatedAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO food_order_status_history (order_id, status, note, created_at) VALUES (?,?,?,?)`,
			orderID, string(h.Status), nullString(h.Note), h.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func nullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
