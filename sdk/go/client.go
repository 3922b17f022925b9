package transcriptdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Transcriptdesk HTTP API client.
type Client struct {
	BaseURL       string
	APIKey        string
	BearerToken   string
	WebhookSecret string
	HTTPClient    *http.Client
	Timeout       time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Item represents a work item.
type Item struct {
	ID               string  `json:"id"`
	DisplayID        string  `json:"display_id"`
	Kind             string  `json:"kind"`
	OwnerID          string  `json:"owner_id"`
	AssigneeID       *string `json:"assignee_id,omitempty"`
	Status           string  `json:"status"`
	PaymentIntentRef *string `json:"payment_intent_ref,omitempty"`
	PriceableUnits   int     `json:"priceable_units"`
	Notarize         bool    `json:"notarize"`
	ShipPhysical     bool    `json:"ship_physical"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
	History          []struct {
		Seq      int64  `json:"seq"`
		ActorID  string `json:"actor_id"`
		Action   string `json:"action"`
		TargetID string `json:"target_id,omitempty"`
		TS       string `json:"ts"`
	} `json:"assignment_history,omitempty"`
}

// NewItem is the payload for CreateItem.
type NewItem struct {
	Kind           string `json:"kind"`
	PriceableUnits int    `json:"priceable_units"`
	Notarize       bool   `json:"notarize,omitempty"`
	ShipPhysical   bool   `json:"ship_physical,omitempty"`
}

// ItemFilters narrows ListItems. Empty fields are ignored.
type ItemFilters struct {
	OwnerID    string
	AssigneeID string
	Status     string
	Kind       string
	IntentRef  string
	Unassigned bool
	Limit      int
	Cursor     string
}

// ItemPage wraps list responses with cursors.
type ItemPage struct {
	Items      []Item `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// Intent represents a payment batch.
type Intent struct {
	IntentRef       string   `json:"intent_ref"`
	PayerID         string   `json:"payer_id"`
	MemberItemIDs   []string `json:"member_item_ids"`
	AmountExpected  int64    `json:"amount_expected"`
	Currency        string   `json:"currency"`
	Settled         bool     `json:"settled"`
	Voided          bool     `json:"voided"`
	ConfirmedAmount *int64   `json:"confirmed_amount,omitempty"`
	ReceiptID       *string  `json:"receipt_id,omitempty"`
	CreatedAt       string   `json:"created_at"`
}

// Lock is the result of LockForPayment.
type Lock struct {
	Intent Intent `json:"intent"`
	Quote  struct {
		Currency    string           `json:"currency"`
		Units       int              `json:"units"`
		UnitsAmount int64            `json:"units_amount"`
		Addons      map[string]int64 `json:"addons,omitempty"`
		Total       int64            `json:"total"`
	} `json:"quote"`
	Excluded []string `json:"excluded_item_ids,omitempty"`
}

// Reconciliation is the webhook's answer to a payment confirmation.
type Reconciliation struct {
	Outcome   string   `json:"outcome"`
	Intent    Intent   `json:"intent"`
	ItemsPaid int64    `json:"items_paid"`
	Warning   *Warning `json:"warning,omitempty"`
}

// Warning is an entry of the reconciliation review queue.
type Warning struct {
	ID              int64   `json:"id"`
	IntentRef       string  `json:"intent_ref"`
	Kind            string  `json:"kind"`
	ExpectedAmount  int64   `json:"expected_amount"`
	ConfirmedAmount int64   `json:"confirmed_amount"`
	Message         string  `json:"message"`
	CreatedAt       string  `json:"created_at"`
	ResolvedBy      *string `json:"resolved_by,omitempty"`
}

// APIError wraps non-2xx responses. Code is the server's error code when the
// body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// Conflict reports whether the request lost a race: another claim or batch
// got there first.
func (e *APIError) Conflict() bool {
	return e.StatusCode == http.StatusConflict
}

// CreateItem submits a request as the authenticated student.
func (c *Client) CreateItem(ctx context.Context, item NewItem) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, "v0/items", nil, item, &resp)
	return resp, err
}

// GetItem fetches an item with its assignment history.
func (c *Client) GetItem(ctx context.Context, id string) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodGet, itemPath(id, ""), nil, nil, &resp)
	return resp, err
}

// ListItems returns one page of items, newest first.
func (c *Client) ListItems(ctx context.Context, f ItemFilters) (ItemPage, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("owner_id", f.OwnerID)
	set("assignee_id", f.AssigneeID)
	set("status", f.Status)
	set("kind", f.Kind)
	set("intent_ref", f.IntentRef)
	set("cursor", f.Cursor)
	if f.Unassigned {
		q.Set("unassigned", "true")
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprint(f.Limit))
	}
	var resp ItemPage
	err := c.do(ctx, http.MethodGet, "v0/items", q, nil, &resp)
	return resp, err
}

// Claim assigns an unassigned item to the caller.
func (c *Client) Claim(ctx context.Context, id string) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, itemPath(id, "claim"), nil, nil, &resp)
	return resp, err
}

// Assign hands an item to another staff member.
func (c *Client) Assign(ctx context.Context, id, targetID string) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, itemPath(id, "assign"), nil, map[string]string{"target_id": targetID}, &resp)
	return resp, err
}

// Release clears the assignee.
func (c *Client) Release(ctx context.Context, id string) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, itemPath(id, "release"), nil, nil, &resp)
	return resp, err
}

// Deliver marks a paid item completed.
func (c *Client) Deliver(ctx context.Context, id string) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, itemPath(id, "deliver"), nil, nil, &resp)
	return resp, err
}

// LockForPayment locks the caller's pending items into one priced batch.
func (c *Client) LockForPayment(ctx context.Context, itemIDs ...string) (Lock, error) {
	var resp Lock
	err := c.do(ctx, http.MethodPost, "v0/payments/lock", nil, map[string]any{"item_ids": itemIDs}, &resp)
	return resp, err
}

// GetPayment fetches a batch by intent reference.
func (c *Client) GetPayment(ctx context.Context, ref string) (Intent, error) {
	var resp Intent
	err := c.do(ctx, http.MethodGet, "v0/payments/"+url.PathEscape(ref), nil, nil, &resp)
	return resp, err
}

// Unlock abandons an open batch and returns its items to pending.
func (c *Client) Unlock(ctx context.Context, ref string) (Intent, error) {
	var resp Intent
	err := c.do(ctx, http.MethodPost, "v0/payments/"+url.PathEscape(ref)+"/unlock", nil, nil, &resp)
	return resp, err
}

// ConfirmPayment posts a provider confirmation to the webhook, authenticated
// with WebhookSecret.
func (c *Client) ConfirmPayment(ctx context.Context, ref string, amount int64, eventID string) (Reconciliation, error) {
	body := map[string]any{"intent_ref": ref, "amount": amount}
	if eventID != "" {
		body["event_id"] = eventID
	}
	var resp Reconciliation
	err := c.do(ctx, http.MethodPost, "v0/webhooks/payments", nil, body, &resp)
	return resp, err
}

// ListWarnings returns unresolved reconciliation warnings.
func (c *Client) ListWarnings(ctx context.Context, intentRef string) ([]Warning, error) {
	q := url.Values{}
	if intentRef != "" {
		q.Set("intent_ref", intentRef)
	}
	var resp struct {
		Warnings []Warning `json:"warnings"`
	}
	err := c.do(ctx, http.MethodGet, "v0/warnings", q, nil, &resp)
	return resp.Warnings, err
}

// ResolveWarning marks a warning handled.
func (c *Client) ResolveWarning(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("v0/warnings/%d/resolve", id), nil, nil, nil)
}

// APIKey is an issued key without its secret.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ListAPIKeys returns the keys issued to an actor.
func (c *Client) ListAPIKeys(ctx context.Context, actorID string) ([]APIKey, error) {
	var resp struct {
		Keys []APIKey `json:"keys"`
	}
	err := c.do(ctx, http.MethodGet, "v0/actors/"+url.PathEscape(actorID)+"/api-keys", nil, nil, &resp)
	return resp.Keys, err
}

// RevokeAPIKey deletes a key.
func (c *Client) RevokeAPIKey(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/api-keys/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
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
	if c.WebhookSecret != "" {
		req.Header.Set("X-Webhook-Secret", c.WebhookSecret)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func itemPath(id, action string) string {
	p := "v0/items/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
