package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"orderexec/internal/config"
	"orderexec/pkg/utils"
)

func TestEngineConfig(t *testing.T) {
	cfg := &config.Config{
		Engine: config.EngineConfig{
			Shards:        4,
			ShardBuffer:   64,
			SweepInterval: 2 * time.Second,
			Retention:     time.Minute,
			Timezone:      "America/New_York",
		},
		Routing: config.RoutingConfig{
			IcebergQuantityThreshold: 20_000,
			MaxSplits:                3,
			VolatileSymbols:          []string{"TSLA"},
		},
		Eligibility: config.EligibilityConfig{MinHealth: 0.5, MaxConsecutiveFailures: 3, MaxLoad: 0.9},
		Gateway: config.GatewayConfig{
			CallTimeout:   time.Second,
			WorkerPool:    4,
			CancelRetries: 2,
		},
		Strategy: config.StrategyConfig{TWAPSlices: 6, VWAPParticipation: 0.2},
	}

	ec := engineConfig(cfg)

	assert.Equal(t, 4, ec.Shards)
	assert.Equal(t, 64, ec.ShardBuffer)
	assert.Equal(t, 4, ec.WorkerPool)
	if assert.NotNil(t, ec.Location) {
		assert.Equal(t, "America/New_York", ec.Location.String())
	}
	assert.Equal(t, int64(20_000), ec.Routing.IcebergQuantityThreshold)
	assert.Equal(t, 3, ec.Routing.MaxSplits)
	assert.Equal(t, []string{"TSLA"}, ec.Routing.VolatileSymbols)
	// Параметры, которых нет в конфигурации, остаются по умолчанию
	assert.Equal(t, int64(2000), ec.Routing.IcebergMaxSlice)
	assert.Equal(t, 0.9, ec.Eligibility.MaxLoad)
	assert.Equal(t, time.Second, ec.Gateway.CallTimeout)
	assert.Equal(t, 3, ec.Gateway.CancelRetry.Attempts)
	assert.Equal(t, 6, ec.Strategy.TWAPSlices)
	assert.Equal(t, 1e-9, ec.Strategy.TriggerEpsilon)
}

func TestFeedConfig(t *testing.T) {
	c := feedConfig(config.FeedConfig{
		URL:               "wss://quotes.example.com/v1",
		Symbols:           []string{"AAPL", "MSFT"},
		ReconnectDelay:    500 * time.Millisecond,
		MaxReconnectDelay: 10 * time.Second,
		PingInterval:      5 * time.Second,
		ReadTimeout:       20 * time.Second,
	})

	assert.Equal(t, "wss://quotes.example.com/v1", c.URL)
	assert.Equal(t, []string{"AAPL", "MSFT"}, c.Symbols)
	assert.Equal(t, 500*time.Millisecond, c.Reconnect.InitialDelay)
	assert.Equal(t, 10*time.Second, c.Reconnect.MaxDelay)
	assert.Equal(t, 20*time.Second, c.ReadTimeout)
	assert.Equal(t, 10*time.Second, c.ConnectTimeout)
}

type fakeJournal struct {
	calls  atomic.Int32
	before atomic.Int64
	err    error
}

func (f *fakeJournal) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	f.calls.Add(1)
	f.before.Store(before.UnixNano())
	return 3, f.err
}

func TestCleanJournal(t *testing.T) {
	for _, fail := range []bool{false, true} {
		j := &fakeJournal{}
		if fail {
			j.err = errors.New("connection refused")
		}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			cleanJournal(ctx, j, 24*time.Hour, utils.NewNop())
			close(done)
		}()

		assert.Eventually(t, func() bool { return j.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
		cancel()
		<-done

		cutoff := time.Unix(0, j.before.Load())
		assert.WithinDuration(t, time.Now().Add(-24*time.Hour), cutoff, time.Minute)
	}
}
