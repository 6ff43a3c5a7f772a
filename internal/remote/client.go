// Package remote talks to the Drinky Board control service over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"drinky-board/internal/model"
)

// DefaultTimeout bounds a single request when none is configured.
const DefaultTimeout = 2 * time.Second

const maxBodyBytes = 1 << 20

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// New returns a client for the service at baseURL. A nil hc uses a fresh
// http.Client; timeout <= 0 uses DefaultTimeout.
func New(baseURL string, timeout time.Duration, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		timeout: timeout,
	}
}

type ack struct {
	Success            bool     `json:"success"`
	Message            string   `json:"message"`
	ID                 string   `json:"id"`
	DeviceDisconnected bool     `json:"deviceDisconnected"`
	Modifiers          []string `json:"modifiers"`
}

type statusBody struct {
	Connected     bool     `json:"connected"`
	Status        string   `json:"status"`
	Message       string   `json:"message"`
	Port          *string  `json:"port"`
	LastHeartbeat *float64 `json:"lastHeartbeat"`
}

type listenBody struct {
	Code string      `json:"code"`
	Data []any       `json:"data"`
	Type model.Phase `json:"type"`
}

type itemsBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Items   []struct {
		ID   string          `json:"id"`
		Data json.RawMessage `json:"data"`
	} `json:"items"`
}

// ListenAck is a relay submission the service acknowledged.
type ListenAck struct {
	Message   string
	Modifiers []string
}

func ok(status int) bool { return status >= 200 && status < 300 }

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body any) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, &Error{Kind: KindProtocol, Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, nil, &Error{Kind: KindProtocol, Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &Error{Kind: KindTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, &Error{Kind: KindTransport, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, data, nil
}

// ConnectionStatus fetches the service's view of the board. The returned
// status is derived from the connected flag alone.
func (c *Client) ConnectionStatus(ctx context.Context) (model.ConnectionState, error) {
	const op = "connection status"
	status, data, err := c.roundTrip(ctx, op, http.MethodGet, "/connection-status", nil)
	if err != nil {
		return model.ConnectionState{}, err
	}
	if !ok(status) {
		return model.ConnectionState{}, &Error{Kind: KindProtocol, Op: op, StatusCode: status}
	}
	var sb statusBody
	if err := json.Unmarshal(data, &sb); err != nil {
		return model.ConnectionState{}, &Error{Kind: KindProtocol, Op: op, StatusCode: status, Err: err}
	}
	st := model.ConnectionState{Status: model.StatusDisconnected, Message: sb.Message}
	if sb.Connected {
		st.Status = model.StatusConnected
	}
	if sb.Port != nil {
		st.Port = *sb.Port
	}
	if sb.LastHeartbeat != nil && *sb.LastHeartbeat > 0 {
		sec, frac := math.Modf(*sb.LastHeartbeat)
		st.LastHeartbeat = time.Unix(int64(sec), int64(frac*1e9))
	}
	return st, nil
}

// Listen relays one key transition. Errors of KindDeviceUnavailable,
// KindProtocol and KindTransport mean the board is lost; KindApplication
// errors are per-event and carry the HTTP status.
func (c *Client) Listen(ctx context.Context, ev model.KeyEvent) (ListenAck, error) {
	const op = "direct input"
	status, data, err := c.roundTrip(ctx, op, http.MethodPost, "/direct-input/listen",
		listenBody{Code: ev.Code, Data: []any{}, Type: ev.Phase})
	if err != nil {
		return ListenAck{}, err
	}
	var a ack
	perr := json.Unmarshal(data, &a)
	switch {
	case status >= 500:
		return ListenAck{}, &Error{Kind: KindDeviceUnavailable, Op: op, StatusCode: status, Message: "Device disconnected"}
	case perr != nil:
		return ListenAck{}, &Error{Kind: KindProtocol, Op: op, StatusCode: status, Err: perr}
	case a.DeviceDisconnected:
		return ListenAck{}, &Error{Kind: KindDeviceUnavailable, Op: op, StatusCode: status, Message: "Device disconnected"}
	case !ok(status), !a.Success:
		return ListenAck{}, &Error{Kind: KindApplication, Op: op, StatusCode: status, Message: a.Message}
	}
	return ListenAck{Message: a.Message, Modifiers: a.Modifiers}, nil
}

func collectionPath(collection, action string, id ...string) string {
	p := "/" + url.PathEscape(collection) + "/" + action
	for _, s := range id {
		p += "/" + url.PathEscape(s)
	}
	return p
}

func (c *Client) ack(ctx context.Context, op, method, path string, body any) (ack, error) {
	status, data, err := c.roundTrip(ctx, op, method, path, body)
	if err != nil {
		return ack{}, err
	}
	var a ack
	if err := json.Unmarshal(data, &a); err != nil {
		return ack{}, &Error{Kind: KindProtocol, Op: op, StatusCode: status, Err: err}
	}
	if !ok(status) || !a.Success {
		return a, &Error{Kind: KindApplication, Op: op, StatusCode: status, Message: a.Message}
	}
	return a, nil
}

// GetAll fetches every item of collection in persisted order.
func (c *Client) GetAll(ctx context.Context, collection string) ([]model.Item, error) {
	op := collection + " get-all"
	status, data, err := c.roundTrip(ctx, op, http.MethodGet, collectionPath(collection, "get-all"), nil)
	if err != nil {
		return nil, err
	}
	var ib itemsBody
	if err := json.Unmarshal(data, &ib); err != nil {
		return nil, &Error{Kind: KindProtocol, Op: op, StatusCode: status, Err: err}
	}
	if !ok(status) || !ib.Success {
		return nil, &Error{Kind: KindApplication, Op: op, StatusCode: status, Message: ib.Message}
	}
	items := make([]model.Item, 0, len(ib.Items))
	for _, raw := range ib.Items {
		if raw.ID == "" {
			return nil, Errorf(KindProtocol, op, "item without id")
		}
		it, err := model.DecodeItem(raw.ID, raw.Data)
		if err != nil {
			return nil, &Error{Kind: KindProtocol, Op: op, StatusCode: status, Err: err}
		}
		items = append(items, it)
	}
	return items, nil
}

// Add creates item and returns its service-assigned id.
func (c *Client) Add(ctx context.Context, collection string, item model.Item) (string, error) {
	op := collection + " add"
	a, err := c.ack(ctx, op, http.MethodPost, collectionPath(collection, "add"), item.Fields())
	if err != nil {
		return "", err
	}
	if a.ID == "" {
		return "", Errorf(KindProtocol, op, "service returned no id")
	}
	return a.ID, nil
}

// Edit replaces the stored fields of id.
func (c *Client) Edit(ctx context.Context, collection, id string, item model.Item) error {
	_, err := c.ack(ctx, collection+" edit", http.MethodPut, collectionPath(collection, "edit", id), item.Fields())
	return err
}

// Delete removes id.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	_, err := c.ack(ctx, collection+" delete", http.MethodDelete, collectionPath(collection, "delete", id), nil)
	return err
}

// DeactivateExcept clears isActive on every item but id.
func (c *Client) DeactivateExcept(ctx context.Context, collection, id string) error {
	_, err := c.ack(ctx, collection+" deactivate-except", http.MethodPut, collectionPath(collection, "deactivate-except", id), nil)
	return err
}

// UpdateOrder persists ids as the collection order.
func (c *Client) UpdateOrder(ctx context.Context, collection string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	_, err := c.ack(ctx, collection+" update-order", http.MethodPut, collectionPath(collection, "update-order"), ids)
	return err
}
