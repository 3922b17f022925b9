package server

import (
	"transcriptdesk/internal/domain"
)

// Request payloads

type CreateItemRequest struct {
	Kind           domain.Kind `json:"kind" enum:"evaluation,translation"`
	PriceableUnits int         `json:"priceable_units" minimum:"0"`
	Notarize       bool        `json:"notarize,omitempty"`
	ShipPhysical   bool        `json:"ship_physical,omitempty"`
}

type AddUnitsRequest struct {
	Units int `json:"units" minimum:"1"`
}

type AssignRequest struct {
	TargetID string `json:"target_id" minLength:"1"`
}

type LockRequest struct {
	ItemIDs []string `json:"item_ids" minItems:"1"`
}

// PaymentWebhookRequest is the provider's confirmation callback. Amount is in
// minor units of the intent's currency.
type PaymentWebhookRequest struct {
	IntentRef string `json:"intent_ref" minLength:"1"`
	Amount    int64  `json:"amount" minimum:"0"`
	EventID   string `json:"event_id,omitempty"`
}

type UpsertActorRequest struct {
	ID     string `json:"id" minLength:"1"`
	Role   string `json:"role" minLength:"1"`
	Active *bool  `json:"active,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
}

// Response payloads

type HealthResponse struct {
	Status  string `json:"status" enum:"ok,degraded"`
	Counter string `json:"counter,omitempty"`
}

type ItemListResponse struct {
	Items      []domain.WorkItem `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type IntentListResponse struct {
	Intents []domain.PaymentIntent `json:"intents"`
}

type WarningListResponse struct {
	Warnings []domain.ReconciliationWarning `json:"warnings"`
}

type APIKeyResponse struct {
	Key    domain.APIKey `json:"key"`
	Secret string        `json:"secret"`
}

type APIKeyListResponse struct {
	Keys []domain.APIKey `json:"keys"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}
