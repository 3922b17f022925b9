package transcriptdesksdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimSendsBearerAndDecodesItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v0/items/it-1/claim", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "it-1", "status": "pending", "assignee_id": "alice"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	it, err := c.Claim(context.Background(), "it-1")
	require.NoError(t, err)
	require.NotNil(t, it.AssigneeID)
	assert.Equal(t, "alice", *it.AssigneeID)
}

func TestConflictCarriesErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"already_assigned","message":"item already assigned"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Claim(context.Background(), "it-1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Conflict())
	assert.Equal(t, "already_assigned", apiErr.Code)
}

func TestListItemsEncodesFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "pending", q.Get("status"))
		assert.Equal(t, "true", q.Get("unassigned"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Empty(t, q.Get("owner_id"))
		_, _ = w.Write([]byte(`{"items":[{"id":"a"},{"id":"b"}],"next_cursor":"c1"}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL).ListItems(context.Background(), ItemFilters{Status: "pending", Unassigned: true, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, "c1", page.NextCursor)
}

func TestConfirmPaymentUsesWebhookSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/webhooks/payments", r.URL.Path)
		assert.Equal(t, "whsec", r.Header.Get("X-Webhook-Secret"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pi_1", body["intent_ref"])
		assert.EqualValues(t, 4000, body["amount"])
		_, _ = w.Write([]byte(`{"outcome":"settled","items_paid":2,"intent":{"intent_ref":"pi_1","settled":true}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.WebhookSecret = "whsec"
	res, err := c.ConfirmPayment(context.Background(), "pi_1", 4000, "")
	require.NoError(t, err)
	assert.Equal(t, "settled", res.Outcome)
	assert.EqualValues(t, 2, res.ItemsPaid)
}

func TestResolveWarningAcceptsNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/warnings/7/resolve", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL).ResolveWarning(context.Background(), 7))
}

func TestRevokeAPIKeyUsesDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v0/api-keys/k-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL).RevokeAPIKey(context.Background(), "k-1"))
}
