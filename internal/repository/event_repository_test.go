package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"orderexec/internal/events"
	"orderexec/internal/models"
)

// ============================================================
// EventRepository Tests
// ============================================================

func testEvent(t *testing.T, eventType events.EventType) events.Event {
	t.Helper()
	o := models.NewOrder("ord-1", "corr-1", "user-1", models.OrderRequest{
		Symbol:    "AAPL",
		Side:      models.SideBuy,
		OrderType: models.OrderTypeLimit,
		Quantity:  100,
	}, time.Now())
	return events.NewEvent(eventType, o)
}

func TestNewEventRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewEventRepository(db)
	if repo == nil {
		t.Fatal("NewEventRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestEventRepositoryEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS order_events`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := NewEventRepository(db).EnsureSchema(context.Background()); err != nil {
		t.Errorf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEventRepositoryAppend(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock, ev events.Event)
		expectError bool
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock, ev events.Event) {
				mock.ExpectExec(`INSERT INTO order_events`).
					WithArgs("ord-1", "", "order_accepted", "PENDING", sqlmock.AnyArg(), ev.Timestamp).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
			expectError: false,
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock, _ events.Event) {
				mock.ExpectExec(`INSERT INTO order_events`).
					WillReturnError(errors.New("connection reset"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			ev := testEvent(t, events.OrderAccepted)
			tt.mockSetup(mock, ev)

			err = NewEventRepository(db).Append(context.Background(), ev)
			if (err != nil) != tt.expectError {
				t.Errorf("Append() error = %v, expectError %v", err, tt.expectError)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestEventRepositoryByOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	placed, _ := json.Marshal(testEvent(t, events.OrderPlaced))
	filled, _ := json.Marshal(testEvent(t, events.OrderFilled))

	mock.ExpectQuery(`SELECT payload\s+FROM order_events`).
		WithArgs("ord-1", 500).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(placed).AddRow(filled))

	got, err := NewEventRepository(db).ByOrder(context.Background(), "ord-1", 0)
	if err != nil {
		t.Fatalf("ByOrder() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ByOrder() returned %d events, want 2", len(got))
	}
	if got[0].Type != events.OrderPlaced || got[1].Type != events.OrderFilled {
		t.Errorf("unexpected event order: %s, %s", got[0].Type, got[1].Type)
	}
	if got[1].Order.Symbol != "AAPL" {
		t.Errorf("Order.Symbol = %q, want AAPL", got[1].Order.Symbol)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEventRepositoryByOrderBadPayload(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT payload\s+FROM order_events`).
		WithArgs("ord-1", 10).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte("not json")))

	if _, err := NewEventRepository(db).ByOrder(context.Background(), "ord-1", 10); err == nil {
		t.Error("ByOrder() expected decode error")
	}
}

func TestEventRepositoryDeleteOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	before := time.Now().Add(-24 * time.Hour)
	mock.ExpectExec(`DELETE FROM order_events WHERE created_at < \$1`).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := NewEventRepository(db).DeleteOlderThan(context.Background(), before)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if n != 7 {
		t.Errorf("DeleteOlderThan() = %d, want 7", n)
	}
}
