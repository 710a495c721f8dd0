package broker

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPClientConfig содержит настройки пула соединений к REST брокерам
type HTTPClientConfig struct {
	ConnectTimeout      time.Duration // таймаут TCP соединения (default: 3s)
	ResponseTimeout     time.Duration // ожидание заголовков ответа (default: 5s)
	TotalTimeout        time.Duration // страховочный общий таймаут (default: 15s)
	MaxIdleConns        int           // default: 100
	MaxIdleConnsPerHost int           // default: 10
	MaxConnsPerHost     int           // default: 32
	IdleConnTimeout     time.Duration // default: 90s
	TLSHandshakeTimeout time.Duration // default: 3s
	KeepAliveInterval   time.Duration // default: 30s
}

// DefaultHTTPClientConfig возвращает конфигурацию по умолчанию
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:      3 * time.Second,
		ResponseTimeout:     5 * time.Second,
		TotalTimeout:        15 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     32,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 3 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

var (
	sharedClient     *http.Client
	sharedClientOnce sync.Once
)

// SharedHTTPClient возвращает общий клиент с пулом соединений
func SharedHTTPClient() *http.Client {
	sharedClientOnce.Do(func() {
		sharedClient = NewHTTPClient(DefaultHTTPClientConfig())
	})
	return sharedClient
}

// NewHTTPClient создаёт http.Client с keep-alive пулом и таймаутами
func NewHTTPClient(config HTTPClientConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: config.KeepAliveInterval,
	}

	transport := &http.Transport{
		// Дедлайн контекста короче таймаута соединения - используем его
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if deadline, ok := ctx.Deadline(); ok {
				if left := time.Until(deadline); left < config.ConnectTimeout {
					d := &net.Dialer{Timeout: left, KeepAlive: config.KeepAliveInterval}
					return d.DialContext(ctx, network, addr)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: config.ResponseTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.TotalTimeout,
	}
}

// CloseIdle закрывает простаивающие соединения клиента (graceful shutdown)
func CloseIdle(c *http.Client) {
	if t, ok := c.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}
