package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"orderexec/internal/events"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventRepository - журнал событий ордеров (таблица order_events)
//
// Журнал только дописывается. Событие хранится целиком в payload (jsonb),
// отдельные колонки нужны для выборок по ордеру и очистки по времени.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository создает репозиторий журнала
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

const eventsSchema = `
	CREATE TABLE IF NOT EXISTS order_events (
		id         BIGSERIAL PRIMARY KEY,
		order_id   TEXT        NOT NULL,
		parent_id  TEXT        NOT NULL DEFAULT '',
		event_type TEXT        NOT NULL,
		status     TEXT        NOT NULL,
		payload    JSONB       NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events (order_id);
	CREATE INDEX IF NOT EXISTS idx_order_events_parent ON order_events (parent_id);
	CREATE INDEX IF NOT EXISTS idx_order_events_created ON order_events (created_at)`

// EnsureSchema создает таблицу журнала, если её нет
func (r *EventRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, eventsSchema); err != nil {
		return fmt.Errorf("create order_events: %w", err)
	}
	return nil
}

// Append дописывает событие в журнал (events.EventStore)
func (r *EventRepository) Append(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	query := `
		INSERT INTO order_events (order_id, parent_id, event_type, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = r.db.ExecContext(ctx, query,
		ev.OrderID,
		ev.ParentID,
		string(ev.Type),
		string(ev.Order.Status),
		payload,
		ev.Timestamp,
	)
	return err
}

// ByOrder возвращает события ордера и его дочерних ордеров в порядке записи
func (r *EventRepository) ByOrder(ctx context.Context, orderID string, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT payload
		FROM order_events
		WHERE order_id = $1 OR parent_id = $1
		ORDER BY id
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, orderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev events.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// DeleteOlderThan удаляет события старше before, возвращает число удалённых
func (r *EventRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM order_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
