package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"foodflow/internal/delivery/apperr"
	"foodflow/internal/delivery/bucket"
	"foodflow/internal/delivery/lifecycle"
	"foodflow/internal/delivery/model"
)

const defaultRequestTimeout = 5 * time.Second

// Client talks to the order REST API on behalf of one identity.
type Client struct {
	baseURL string
	id      Identity
	http    *http.Client
	logger  Logger
	timeout time.Duration
}

// NewClient constructs a Client. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, id Identity, httpClient *http.Client, logger Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		id:      id,
		http:    httpClient,
		logger:  logger,
		timeout: defaultRequestTimeout,
	}
}

// WithTimeout overrides the per request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// Identity returns who the client acts as.
func (c *Client) Identity() Identity { return c.id }

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.id.apply(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		if c.logger != nil {
			c.logger.Errorf("%s %s failed: %v", method, path, err)
		}
		return apperr.Wrap(apperr.KindTransient, apperr.CodeUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	_ = json.Unmarshal(data, &body)
	msg := strings.TrimSpace(body.Error)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	kind := apperr.KindForCode(body.Code)
	if kind == apperr.KindUnknown {
		kind = apperr.KindForStatus(resp.StatusCode)
	}
	return &apperr.Error{
		Kind:      kind,
		Code:      body.Code,
		Message:   msg,
		Retryable: kind == apperr.KindTransient,
	}
}

func orderPath(id int64, suffix string) string {
	return "/api/v1/orders/" + strconv.FormatInt(id, 10) + suffix
}

// FetchOrders lists the caller's orders in bucket b.
func (c *Client) FetchOrders(ctx context.Context, role model.Role, b bucket.ID) ([]model.Order, error) {
	if role != c.id.Role {
		return nil, apperr.New(apperr.CodeForbidden, "role does not match client identity")
	}
	q := url.Values{}
	q.Set("bucket", string(b))
	var out []model.Order
	if err := c.do(ctx, http.MethodGet, "/api/v1/orders", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrder loads a single order.
func (c *Client) GetOrder(ctx context.Context, orderID int64) (model.Order, error) {
	var out model.Order
	err := c.do(ctx, http.MethodGet, orderPath(orderID, ""), nil, nil, &out)
	return out, err
}

type statusRequest struct {
	Status lifecycle.Status `json:"status"`
	Reason string           `json:"reason,omitempty"`
}

// UpdateOrderStatus asks the server to move an order to next.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID int64, next lifecycle.Status, reason string) (model.Order, error) {
	var out model.Order
	err := c.do(ctx, http.MethodPost, orderPath(orderID, "/status"), nil, statusRequest{Status: next, Reason: reason}, &out)
	return out, err
}

// ClaimOrder assigns the calling shipper to an order.
func (c *Client) ClaimOrder(ctx context.Context, orderID int64) (model.Order, error) {
	var out model.Order
	err := c.do(ctx, http.MethodPost, orderPath(orderID, "/claim"), nil, nil, &out)
	return out, err
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CancelOrder cancels an order directly.
func (c *Client) CancelOrder(ctx context.Context, orderID int64, reason string) (model.Order, error) {
	var out model.Order
	err := c.do(ctx, http.MethodPost, orderPath(orderID, "/cancel"), nil, reasonRequest{Reason: reason}, &out)
	return out, err
}

// CreateCancellationRequest files a cancellation request for admin review.
func (c *Client) CreateCancellationRequest(ctx context.Context, orderID int64, reason string) (model.CancellationRequest, error) {
	var out model.CancellationRequest
	err := c.do(ctx, http.MethodPost, orderPath(orderID, "/cancel-requests"), nil, reasonRequest{Reason: reason}, &out)
	return out, err
}

// ListCancellationRequests returns the pending queue for admins and the
// caller's own requests for customers.
func (c *Client) ListCancellationRequests(ctx context.Context) ([]model.CancellationRequest, error) {
	var out []model.CancellationRequest
	if err := c.do(ctx, http.MethodGet, "/api/v1/cancel-requests", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type resolveRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}

// ResolveCancellationRequest approves or rejects a pending request.
func (c *Client) ResolveCancellationRequest(ctx context.Context, requestID int64, approve bool, reason string) (model.CancellationRequest, error) {
	var out model.CancellationRequest
	path := "/api/v1/cancel-requests/" + strconv.FormatInt(requestID, 10) + "/resolve"
	err := c.do(ctx, http.MethodPost, path, nil, resolveRequest{Approve: approve, Reason: reason}, &out)
	return out, err
}

type locationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PublishLocation reports the calling shipper's position.
func (c *Client) PublishLocation(ctx context.Context, lat, lng float64) error {
	return c.do(ctx, http.MethodPost, "/api/v1/shippers/location", nil, locationRequest{Lat: lat, Lng: lng}, nil)
}

// Quote asks for the shipping fee of a distance in metres.
func (c *Client) Quote(ctx context.Context, distanceM int) (Quote, error) {
	var out Quote
	err := c.do(ctx, http.MethodPost, "/api/v1/quote", nil, map[string]int{"distance_m": distanceM}, &out)
	return out, err
}

// CheckoutRequest places a new order.
type CheckoutRequest struct {
	RestaurantID    int64            `json:"restaurant_id"`
	DeliveryAddress string           `json:"delivery_address"`
	DistanceM       int              `json:"distance_m"`
	Items           []model.LineItem `json:"items"`
}

// Checkout creates an order as the calling customer.
func (c *Client) Checkout(ctx context.Context, req CheckoutRequest) (model.Order, error) {
	var out model.Order
	err := c.do(ctx, http.MethodPost, "/api/v1/orders", nil, req, &out)
	return out, err
}

var _ Backend = (*Client)(nil)
