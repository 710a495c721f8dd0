package broker

import (
	"fmt"
	"net/http"
	"strings"
)

// Виды адаптеров
const (
	KindPaper  = "paper"
	KindAlpaca = "alpaca"
	KindREST   = "rest"
)

// SupportedKinds - список поддерживаемых адаптеров
var SupportedKinds = []string{KindPaper, KindAlpaca, KindREST}

// Config описывает одного брокера
type Config struct {
	Name       string
	Kind       string
	BaseURL    string
	APIKey     string
	APISecret  string
	Paper      PaperConfig
	HTTPClient *http.Client // для REST; nil - общий пул
}

// New создаёт клиента брокера по виду адаптера
func New(cfg Config, prices PriceSource) (Client, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("broker name is required")
	}

	switch strings.ToLower(cfg.Kind) {
	case KindPaper, "":
		return NewPaper(cfg.Name, cfg.Paper, prices), nil
	case KindAlpaca:
		if cfg.APIKey == "" || cfg.APISecret == "" {
			return nil, fmt.Errorf("broker %s: alpaca requires api key and secret", cfg.Name)
		}
		return NewAlpaca(cfg.Name, AlpacaConfig{APIKey: cfg.APIKey, APISecret: cfg.APISecret, BaseURL: cfg.BaseURL}), nil
	case KindREST:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("broker %s: rest requires base url", cfg.Name)
		}
		return NewREST(cfg.Name, RESTConfig{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, APISecret: cfg.APISecret}, cfg.HTTPClient), nil
	default:
		return nil, fmt.Errorf("unsupported broker kind: %s", cfg.Kind)
	}
}

// IsSupported проверяет, поддерживается ли вид адаптера
func IsSupported(kind string) bool {
	kind = strings.ToLower(kind)
	for _, k := range SupportedKinds {
		if kind == k {
			return true
		}
	}
	return false
}
