// README: HTTP adapter; fetches orders from the API and follows its server-sent event stream.
package tracking

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"turbo/internal/modules/order"
	"turbo/internal/types"
)

const (
	streamEvent      = "orders"
	maxStreamBackoff = 30 * time.Second
	maxEventBytes    = 1 << 20
)

// HTTPClient talks to the order API. It implements Source and Watcher.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewHTTPClient(baseURL string, hc *http.Client, log *zap.Logger) *HTTPClient {
	if hc == nil {
		hc = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), http: hc, log: log}
}

type orderEnvelope struct {
	Order order.Wire `json:"order"`
}

type ordersEnvelope struct {
	Orders []order.Wire `json:"orders"`
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type submitRequest struct {
	Items        []order.Item       `json:"items"`
	Total        float64            `json:"total"`
	Table        string             `json:"table,omitempty"`
	CustomerInfo order.CustomerInfo `json:"customerInfo"`
}

func (c *HTTPClient) Fetch(ctx context.Context, id types.ID) (*order.Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orders/"+url.PathEscape(id.String()), nil)
	if err != nil {
		return nil, err
	}
	var env orderEnvelope
	if err := c.do(req, "fetch order", &env); err != nil {
		return nil, err
	}
	return env.Order.Order(), nil
}

// Submit posts a new order and returns it as stored.
func (c *HTTPClient) Submit(ctx context.Context, cmd order.CreateCommand) (*order.Order, error) {
	body, err := json.Marshal(submitRequest{
		Items:        cmd.Items,
		Total:        cmd.Total,
		Table:        cmd.Table,
		CustomerInfo: cmd.Customer,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var env orderEnvelope
	if err := c.do(req, "submit order", &env); err != nil {
		return nil, err
	}
	return env.Order.Order(), nil
}

func (c *HTTPClient) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &order.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &order.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	var body apiError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", order.ErrNotFound, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", order.ErrValidation, msg)
	case http.StatusConflict:
		// servers that predate error codes only ever meant a rejected transition
		if body.Code == "conflict" {
			return fmt.Errorf("%w: %s", order.ErrConflict, msg)
		}
		return fmt.Errorf("%w: %s", order.ErrInvalidTransition, msg)
	}
	return &order.TransportError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg)}
}

// Watch follows GET /orders/stream for ids, reconnecting with backoff until
// the returned function is called or ctx ends.
func (c *HTTPClient) Watch(ctx context.Context, ids []types.ID, fn func([]*order.Order)) (func(), error) {
	if len(ids) == 0 {
		return func() {}, nil
	}
	q := url.Values{}
	q.Set("ids", strings.Join(idStrings(ids), ","))
	streamURL := c.baseURL + "/orders/stream?" + q.Encode()

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		backoff := time.Second
		for {
			err := c.stream(ctx, streamURL, fn)
			if ctx.Err() != nil {
				return
			}
			c.log.Info("order stream dropped; reconnecting", zap.Duration("backoff", backoff), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > maxStreamBackoff {
				backoff = maxStreamBackoff
			}
		}
	}()
	return cancel, nil
}

func (c *HTTPClient) stream(ctx context.Context, streamURL string, fn func([]*order.Order)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("open order stream", resp)
	}
	return readEvents(resp.Body, func(event string, data []byte) {
		if event != streamEvent {
			return
		}
		var env ordersEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("decode order stream event", zap.Error(err))
			return
		}
		orders := make([]*order.Order, 0, len(env.Orders))
		for _, w := range env.Orders {
			orders = append(orders, w.Order())
		}
		fn(orders)
	})
}

// readEvents parses a text/event-stream body and calls fn per dispatched event.
func readEvents(r io.Reader, fn func(event string, data []byte)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
	event := "message"
	var data bytes.Buffer
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				fn(event, bytes.TrimSuffix(data.Bytes(), []byte("\n")))
			}
			event = "message"
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				event = value
			case "data":
				data.WriteString(value)
				data.WriteByte('\n')
			}
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}
