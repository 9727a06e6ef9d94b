package axeessdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Client is a minimal Axees HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration

	// Confirm, when set, is consulted before each negotiation action.
	// Returning false declines the action: the dispatcher reports a
	// Declined outcome and no request is sent.
	Confirm func(prompt string) bool

	mu       sync.Mutex
	inFlight map[string]bool
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Timeout:    10 * time.Second,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ErrActionPending is returned when an action of the same kind is already in
// flight for the client. Actions of other kinds are not blocked.
var ErrActionPending = errors.New("action of this kind already in flight")

// Offer represents the API offer model (partial).
type Offer struct {
	ID               string  `json:"id"`
	OfferName        string  `json:"offer_name"`
	ProposedAmount   float64 `json:"proposed_amount"`
	Notes            string  `json:"notes,omitempty"`
	Status           string  `json:"status"`
	StatusLabel      string  `json:"status_label,omitempty"`
	MarketerID       string  `json:"marketer_id"`
	CreatorID        string  `json:"creator_id"`
	ViewedByCreator  bool    `json:"viewed_by_creator"`
	ViewedByMarketer bool    `json:"viewed_by_marketer"`
	RejectionReason  string  `json:"rejection_reason,omitempty"`
}

// Deal represents the accepted successor to an offer.
type Deal struct {
	ID      string  `json:"id"`
	OfferID string  `json:"offer_id"`
	Amount  float64 `json:"amount"`
	PayerID string  `json:"payer_id"`
	Status  string  `json:"status"`
}

// OfferDetail is the negotiation view for one offer.
type OfferDetail struct {
	Offer       Offer    `json:"offer"`
	StatusLabel string   `json:"status_label"`
	Actions     []string `json:"actions"`
	Display     struct {
		Amount     *float64 `json:"amount,omitempty"`
		Notes      *string  `json:"notes,omitempty"`
		ReviewDate *string  `json:"review_date,omitempty"`
		PostDate   *string  `json:"post_date,omitempty"`
	} `json:"display"`
}

// AcceptResult is the outcome of accepting an offer.
type AcceptResult struct {
	Offer           Offer   `json:"offer"`
	Deal            Deal    `json:"deal"`
	PaymentNeeded   bool    `json:"payment_needed"`
	RequiredPayment float64 `json:"required_payment,omitempty"`
}

// CounterTerms are the proposed replacement terms for a counter-offer. Nil
// fields keep the current value.
type CounterTerms struct {
	Amount     *float64 `json:"amount,omitempty"`
	ReviewDate *string  `json:"review_date,omitempty"`
	PostDate   *string  `json:"post_date,omitempty"`
	Notes      *string  `json:"notes,omitempty"`
}

// Outcome reports how a dispatched action concluded.
type Outcome struct {
	// Declined is true when the Confirm hook turned the action down before
	// any request was made.
	Declined bool
	Accept   *AcceptResult
	Offer    *Offer
	Detail   *OfferDetail
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// GetOffer fetches the negotiation view for an offer.
func (c *Client) GetOffer(ctx context.Context, offerID string) (OfferDetail, error) {
	var resp OfferDetail
	err := c.do(ctx, http.MethodGet, c.offerPath(offerID, ""), nil, &resp)
	return resp, err
}

// ListOffers returns the caller's offers.
func (c *Client) ListOffers(ctx context.Context) ([]Offer, error) {
	var resp []Offer
	err := c.do(ctx, http.MethodGet, "v1/offers", nil, &resp)
	return resp, err
}

// MarkViewed records that the caller has seen the current terms.
func (c *Client) MarkViewed(ctx context.Context, offerID string) (Offer, error) {
	var resp Offer
	err := c.do(ctx, http.MethodPost, c.offerPath(offerID, "viewed"), nil, &resp)
	return resp, err
}

// Accept dispatches an accept for the offer.
func (c *Client) Accept(ctx context.Context, offerID string) (Outcome, error) {
	return c.dispatch(ctx, "accept", fmt.Sprintf("Accept offer %s?", offerID), func(ctx context.Context) (Outcome, error) {
		var resp AcceptResult
		if err := c.do(ctx, http.MethodPost, c.offerPath(offerID, "accept"), nil, &resp); err != nil {
			return Outcome{}, err
		}
		return Outcome{Accept: &resp}, nil
	})
}

// Reject dispatches a reject for the offer.
func (c *Client) Reject(ctx context.Context, offerID, reason string) (Outcome, error) {
	return c.dispatch(ctx, "reject", fmt.Sprintf("Reject offer %s?", offerID), func(ctx context.Context) (Outcome, error) {
		var resp Offer
		body := map[string]any{"reason": reason}
		if err := c.do(ctx, http.MethodPost, c.offerPath(offerID, "reject"), body, &resp); err != nil {
			return Outcome{}, err
		}
		return Outcome{Offer: &resp}, nil
	})
}

// Counter dispatches a counter-offer with the given terms.
func (c *Client) Counter(ctx context.Context, offerID string, terms CounterTerms) (Outcome, error) {
	return c.dispatch(ctx, "counter", fmt.Sprintf("Counter offer %s?", offerID), func(ctx context.Context) (Outcome, error) {
		var resp OfferDetail
		if err := c.do(ctx, http.MethodPost, c.offerPath(offerID, "counter"), terms, &resp); err != nil {
			return Outcome{}, err
		}
		return Outcome{Detail: &resp}, nil
	})
}

// Delete dispatches a delete for an unanswered offer.
func (c *Client) Delete(ctx context.Context, offerID string) (Outcome, error) {
	return c.dispatch(ctx, "delete", fmt.Sprintf("Delete offer %s?", offerID), func(ctx context.Context) (Outcome, error) {
		if err := c.do(ctx, http.MethodDelete, c.offerPath(offerID, ""), nil, nil); err != nil {
			return Outcome{}, err
		}
		return Outcome{}, nil
	})
}

// Cancel withdraws a live offer.
func (c *Client) Cancel(ctx context.Context, offerID string) (Offer, error) {
	var resp Offer
	err := c.do(ctx, http.MethodPost, c.offerPath(offerID, "cancel"), nil, &resp)
	return resp, err
}

// dispatch serializes actions per kind: a pending accept blocks further
// accepts but not a reject or counter.
func (c *Client) dispatch(ctx context.Context, kind, prompt string, fn func(context.Context) (Outcome, error)) (Outcome, error) {
	if !c.begin(kind) {
		return Outcome{}, fmt.Errorf("%s: %w", kind, ErrActionPending)
	}
	defer c.end(kind)
	if c.Confirm != nil && !c.Confirm(prompt) {
		return Outcome{Declined: true}, nil
	}
	return fn(ctx)
}

func (c *Client) begin(kind string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight == nil {
		c.inFlight = make(map[string]bool)
	}
	if c.inFlight[kind] {
		return false
	}
	c.inFlight[kind] = true
	return true
}

func (c *Client) end(kind string) {
	c.mu.Lock()
	delete(c.inFlight, kind)
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	// Actions of different kinds may run concurrently, so do must not
	// write any client fields.
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) offerPath(offerID, action string) string {
	p := fmt.Sprintf("v1/offers/%s", url.PathEscape(offerID))
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
