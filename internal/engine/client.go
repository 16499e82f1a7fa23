package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/roach88/ratingsync/internal/identity"
	"github.com/roach88/ratingsync/internal/rating"
)

// Outbound request headers.
const (
	HeaderDeviceID       = "X-Device-ID"
	HeaderTabletNumber   = "X-Tablet-Number"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Deliverer sends one record to the remote endpoint.
// A nil error means the endpoint acknowledged it with a 2xx status.
type Deliverer interface {
	Deliver(ctx context.Context, rec rating.Record) error
}

// Client delivers records with POST <api-base>/ratings.
type Client struct {
	endpoint     string
	http         *http.Client
	deviceID     string
	tabletNumber func() string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client. Defaults to http.DefaultClient, whose
// transport defaults bound a hung request.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTabletNumber sets the source of the X-Tablet-Number header. It is read
// on every request so a reconfigured tablet number applies immediately.
func WithTabletNumber(fn func() string) ClientOption {
	return func(c *Client) {
		c.tabletNumber = fn
	}
}

// NewClient creates a delivery client for apiBase, e.g. "https://host/api".
func NewClient(apiBase, deviceID string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:     strings.TrimRight(apiBase, "/") + "/ratings",
		http:         http.DefaultClient,
		deviceID:     deviceID,
		tabletNumber: func() string { return identity.DefaultTabletNumber },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL records are posted to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Deliver posts rec. The body is the record's payload as canonical JSON with
// the local bookkeeping fields stripped.
func (c *Client) Deliver(ctx context.Context, rec rating.Record) error {
	body, err := rating.MarshalCanonical(rec.Payload())
	if err != nil {
		return &DeliveryError{Code: ErrCodeEncode, Message: "encode payload", RecordID: rec.ID, Err: err}
	}
	key, err := rating.PayloadHash(rec)
	if err != nil {
		return &DeliveryError{Code: ErrCodeEncode, Message: "hash payload", RecordID: rec.ID, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("deliver record %d: %w", rec.ID, err)
	}
	tablet := c.tabletNumber()
	if tablet == "" {
		tablet = identity.DefaultTabletNumber
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderDeviceID, c.deviceID)
	req.Header.Set(HeaderTabletNumber, tablet)
	req.Header.Set(HeaderIdempotencyKey, key)

	resp, err := c.http.Do(req)
	if err != nil {
		return NewNetworkError(rec.ID, err)
	}
	defer resp.Body.Close()
	// The response body is not consumed beyond the status; drain it so the
	// connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return NewStatusError(rec.ID, resp.StatusCode)
	}
	return nil
}
