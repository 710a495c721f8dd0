package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderexec/internal/models"
)

func newEntry(id, symbol string) *Entry {
	o := models.NewOrder(id, "c-"+id, "u", models.OrderRequest{
		Symbol:    symbol,
		Side:      models.SideSell,
		OrderType: models.OrderTypeStopLoss,
		Quantity:  100,
		StopPrice: 95,
	}, time.Now())
	return &Entry{Order: o, Strategy: models.StrategyStopLoss}
}

func TestOrders_RegisterGetRemove(t *testing.T) {
	r := NewOrders()
	e := newEntry("o1", "AAPL")

	require.NoError(t, r.Register(e))
	assert.Equal(t, int64(1), r.Len())

	got, ok := r.Get("o1")
	require.True(t, ok)
	assert.Same(t, e, got)
	assert.Len(t, r.BySymbol("AAPL"), 1)

	removed, ok := r.Remove("o1")
	require.True(t, ok)
	assert.Same(t, e, removed)
	assert.Equal(t, int64(0), r.Len())
	assert.Empty(t, r.BySymbol("AAPL"))

	_, ok = r.Remove("o1")
	assert.False(t, ok, "second remove must report absence")
}

func TestOrders_DuplicateRejected(t *testing.T) {
	r := NewOrders()
	require.NoError(t, r.Register(newEntry("o1", "AAPL")))

	err := r.Register(newEntry("o1", "MSFT"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrOrderRejected))
	assert.Equal(t, int64(1), r.Len())
	assert.Empty(t, r.BySymbol("MSFT"))
}

func TestOrders_SnapshotIsStable(t *testing.T) {
	r := NewOrders()
	require.NoError(t, r.Register(newEntry("o1", "AAPL")))
	require.NoError(t, r.Register(newEntry("o2", "AAPL")))

	snap := r.BySymbol("AAPL")
	require.Len(t, snap, 2)

	r.Remove("o1")
	assert.Len(t, snap, 2, "snapshot taken before removal must not change")
	assert.Len(t, r.BySymbol("AAPL"), 1)
}

func TestOrders_ConcurrentRegisterRemove(t *testing.T) {
	r := NewOrders()
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("o%d", i)
			assert.NoError(t, r.Register(newEntry(id, "AAPL")))
			if i%2 == 0 {
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(n/2), r.Len())
	assert.Len(t, r.BySymbol("AAPL"), n/2)
	assert.Len(t, r.All(), n/2)
}

func TestBrokers_OutcomeCounters(t *testing.T) {
	b := NewBrokers()
	b.Register(models.BrokerPerformance{Name: "alpha", Health: 0.9, ExecutionTimeMs: 100}, 4)

	b.RecordFailure("alpha")
	b.RecordFailure("alpha")
	p, ok := b.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, 2, p.ConsecutiveFailures)

	b.RecordSuccess("alpha", 200*time.Millisecond)
	p, _ = b.Get("alpha")
	assert.Equal(t, 0, p.ConsecutiveFailures)
	assert.InDelta(t, 120, p.ExecutionTimeMs, 1e-9) // 100*0.8 + 200*0.2
}

func TestBrokers_LoadFromInFlight(t *testing.T) {
	b := NewBrokers()
	b.Register(models.BrokerPerformance{Name: "alpha", LoadFraction: 0.1}, 4)

	b.Acquire("alpha")
	b.Acquire("alpha")
	b.Acquire("alpha")
	p, _ := b.Get("alpha")
	assert.InDelta(t, 0.75, p.LoadFraction, 1e-9)

	b.Release("alpha")
	b.Release("alpha")
	b.Release("alpha")
	p, _ = b.Get("alpha")
	assert.InDelta(t, 0.1, p.LoadFraction, 1e-9)
}

func TestBrokers_UpdateResetsFailureCounter(t *testing.T) {
	b := NewBrokers()
	b.Register(models.BrokerPerformance{Name: "alpha", Health: 0.9}, 0)
	for i := 0; i < 5; i++ {
		b.RecordFailure("alpha")
	}
	p, _ := b.Get("alpha")
	require.Equal(t, 5, p.ConsecutiveFailures)

	// Мониторинг сообщает о восстановлении брокера
	b.Update(models.BrokerPerformance{Name: "alpha", Health: 0.95})
	p, _ = b.Get("alpha")
	assert.Equal(t, 0.95, p.Health)
	assert.Zero(t, p.ConsecutiveFailures)

	b.Update(models.BrokerPerformance{Name: "alpha", Health: 0.4, ConsecutiveFailures: 2})
	p, _ = b.Get("alpha")
	assert.Equal(t, 2, p.ConsecutiveFailures)
}

func TestBrokers_SnapshotSortedCopies(t *testing.T) {
	b := NewBrokers()
	b.Register(models.BrokerPerformance{Name: "zeta", Liquidity: map[string]int64{"AAPL": 10}}, 0)
	b.Register(models.BrokerPerformance{Name: "alpha"}, 0)

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "alpha", snap[0].Name)
	assert.Equal(t, "zeta", snap[1].Name)

	snap[1].Liquidity["AAPL"] = 999
	p, _ := b.Get("zeta")
	assert.Equal(t, int64(10), p.LiquidityFor("AAPL"), "snapshot must not alias book state")

	assert.Equal(t, []string{"alpha", "zeta"}, b.Names())
}
