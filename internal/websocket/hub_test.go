package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"orderexec/internal/events"
	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// ============================================================
// Unit Tests
// ============================================================

func testEvent(symbol string, eventType events.EventType) events.Event {
	o := models.NewOrder("ord-"+symbol, "corr-1", "user-1", models.OrderRequest{
		Symbol:    symbol,
		Side:      models.SideBuy,
		OrderType: models.OrderTypeMarket,
		Quantity:  100,
	}, time.Now())
	return events.NewEvent(eventType, o)
}

func TestNewHub(t *testing.T) {
	hub := NewHub(Config{}, utils.NewNop())

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.DroppedMessages() != 0 {
		t.Errorf("expected 0 dropped messages, got %d", hub.DroppedMessages())
	}
	if hub.Name() != "stream" {
		t.Errorf("Name() = %q, want stream", hub.Name())
	}
	if cap(hub.broadcast) != 256 {
		t.Errorf("default buffer = %d, want 256", cap(hub.broadcast))
	}
}

func TestOriginChecker_Check(t *testing.T) {
	checker := NewOriginChecker([]string{"http://localhost:3000", " https://example.com "})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},                       // не браузер
		{"http://localhost:3000", true},  // разрешён
		{"https://example.com", true},    // пробелы обрезаны
		{"http://evil.com", false},       // не в списке
		{"http://localhost:8080", false}, // не в списке
	}

	for _, tt := range tests {
		if got := checker.Check(tt.origin); got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginChecker_AllowAll(t *testing.T) {
	for _, origins := range [][]string{nil, {"*"}, {""}} {
		checker := NewOriginChecker(origins)
		if !checker.Check("https://anything.example.org") {
			t.Errorf("origins %q: expected any origin to be allowed", origins)
		}
	}
}

func TestParseSymbols(t *testing.T) {
	if got := parseSymbols(""); got != nil {
		t.Errorf("parseSymbols(\"\") = %v, want nil", got)
	}

	got := parseSymbols("aapl, msft,,")
	if len(got) != 2 {
		t.Fatalf("expected 2 symbols, got %v", got)
	}
	for _, s := range []string{"AAPL", "MSFT"} {
		if _, ok := got[s]; !ok {
			t.Errorf("symbol %s missing", s)
		}
	}
}

func TestHub_WriteDropsWhenQueueFull(t *testing.T) {
	// Run не запущен, очередь никто не читает
	hub := NewHub(Config{Buffer: 2}, utils.NewNop())

	for i := 0; i < 5; i++ {
		if err := hub.Write(context.Background(), testEvent("AAPL", events.OrderFilled)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	if got := hub.DroppedMessages(); got != 3 {
		t.Errorf("DroppedMessages() = %d, want 3", got)
	}
}

func TestHub_RunStopsOnCancel(t *testing.T) {
	hub := NewHub(Config{}, utils.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Hub.Run() did not exit after cancel")
	}
	select {
	case <-hub.done:
	default:
		t.Error("done channel not closed")
	}
}

// ============================================================
// Integration with a real WebSocket connection
// ============================================================

func httpHandler(hub *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/events", hub.ServeWS)
	return mux
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) EventMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg EventMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHub_StreamsEvents(t *testing.T) {
	hub := NewHub(Config{}, utils.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	all := dial(t, srv, "")
	defer all.Close()
	msft := dial(t, srv, "?symbols=msft")
	defer msft.Close()
	waitClients(t, hub, 2)

	hub.Write(ctx, testEvent("AAPL", events.OrderPlaced))
	hub.Write(ctx, testEvent("MSFT", events.OrderFilled))

	first := readEvent(t, all)
	if first.Type != "order_placed" || first.Event.Order.Symbol != "AAPL" {
		t.Errorf("unexpected first event: %+v", first)
	}
	second := readEvent(t, all)
	if second.Type != "order_filled" || second.Event.OrderID != "ord-MSFT" {
		t.Errorf("unexpected second event: %+v", second)
	}

	// Подписчик MSFT не получает AAPL
	got := readEvent(t, msft)
	if got.Event.Order.Symbol != "MSFT" {
		t.Errorf("filtered client got %s", got.Event.Order.Symbol)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub(Config{}, utils.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	conn.Close()
	waitClients(t, hub, 0)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	hub := NewHub(Config{AllowedOrigins: []string{"https://ops.example.com"}}, utils.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	header := http.Header{"Origin": {"https://evil.com"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("expected handshake to fail for foreign origin")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

// ============================================================
// Benchmarks
// ============================================================

func BenchmarkHub_Write(b *testing.B) {
	hub := NewHub(Config{Buffer: 1024}, utils.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	ev := testEvent("AAPL", events.OrderFilled)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.Write(ctx, ev)
	}
}
