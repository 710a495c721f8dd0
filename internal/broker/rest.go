package broker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Compile-time interface check
var _ Client = (*REST)(nil)

const (
	restOrdersPath = "/v1/orders"

	headerAPIKey    = "X-API-KEY"
	headerSignature = "X-API-SIGN"
	headerTimestamp = "X-API-TIMESTAMP"
)

// RESTConfig - параметры JSON-over-HTTP брокера
type RESTConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
}

// REST реализует Client для брокера с JSON REST API.
//
// POST   /v1/orders       - новый ордер
// PUT    /v1/orders/{id}  - изменение
// DELETE /v1/orders/{id}  - отмена
//
// Подписанные запросы несут HMAC-SHA256(timestamp + method + path + body).
type REST struct {
	name       string
	cfg        RESTConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewREST создаёт REST брокера. httpClient может быть nil - тогда общий пул.
func NewREST(name string, cfg RESTConfig, httpClient *http.Client) *REST {
	if httpClient == nil {
		httpClient = SharedHTTPClient()
	}
	return &REST{
		name:       name,
		cfg:        cfg,
		httpClient: httpClient,
		now:        time.Now,
	}
}

func (r *REST) Name() string { return r.name }

// sign подписывает запрос
func (r *REST) sign(timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(r.cfg.APISecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// restResponse - общий конверт ответа
type restResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    Ack    `json:"data"`
}

// doRequest выполняет подписанный запрос и разбирает конверт ответа
func (r *REST) doRequest(ctx context.Context, method, path string, payload interface{}) (Ack, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return Ack{}, fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(r.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return Ack{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	if r.cfg.APIKey != "" {
		timestamp := strconv.FormatInt(r.now().UnixMilli(), 10)
		req.Header.Set(headerAPIKey, r.cfg.APIKey)
		req.Header.Set(headerTimestamp, timestamp)
		req.Header.Set(headerSignature, r.sign(timestamp, method, path, body))
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Ack{}, ctxErr
		}
		return Ack{}, &Error{Broker: r.name, Code: CodeTransport, Message: err.Error(), Original: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Ack{}, &Error{Broker: r.name, Code: CodeTransport, Message: err.Error(), Original: err}
	}

	var out restResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return Ack{}, &Error{
				Broker:   r.name,
				Code:     CodeDecode,
				Message:  fmt.Sprintf("HTTP %d: undecodable body", resp.StatusCode),
				Original: err,
			}
		}
	}

	if resp.StatusCode == http.StatusNotFound {
		return Ack{}, &Error{Broker: r.name, Code: CodeUnknownOrder, Message: nonEmpty(out.Message, "order not found")}
	}
	if resp.StatusCode >= 300 || out.Code != 0 {
		return Ack{}, &Error{
			Broker:  r.name,
			Code:    CodeRejected,
			Message: fmt.Sprintf("HTTP %d code %d: %s", resp.StatusCode, out.Code, out.Message),
		}
	}
	return out.Data, nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func (r *REST) SubmitOrder(ctx context.Context, req SubmitRequest) (Ack, error) {
	return r.doRequest(ctx, http.MethodPost, restOrdersPath, req)
}

func (r *REST) ModifyOrder(ctx context.Context, brokerOrderID string, req SubmitRequest) (Ack, error) {
	ack, err := r.doRequest(ctx, http.MethodPut, restOrdersPath+"/"+brokerOrderID, req)
	if err != nil {
		return Ack{}, err
	}
	if ack.BrokerOrderID == "" {
		ack.BrokerOrderID = brokerOrderID
	}
	return ack, nil
}

func (r *REST) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := r.doRequest(ctx, http.MethodDelete, restOrdersPath+"/"+brokerOrderID, nil)
	return err
}
