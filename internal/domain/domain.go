package domain

// Kind distinguishes evaluation and translation requests. It only affects pricing.
type Kind string

const (
	KindEvaluation  Kind = "evaluation"
	KindTranslation Kind = "translation"
)

func (k Kind) Valid() bool {
	return k == KindEvaluation || k == KindTranslation
}

// Status is the payment lifecycle state of a work item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusLocked    Status = "locked"
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether no further lifecycle event may apply.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Locked is derived from the status; there is no separate flag to drift.
func (s Status) Locked() bool {
	return s == StatusLocked || s == StatusPaid || s == StatusCompleted
}

type WorkItem struct {
	ID               string            `json:"id"`
	DisplayID        string            `json:"display_id"`
	Kind             Kind              `json:"kind" enum:"evaluation,translation"`
	OwnerID          string            `json:"owner_id"`
	AssigneeID       *string           `json:"assignee_id,omitempty"`
	Status           Status            `json:"status" enum:"pending,locked,paid,completed,rejected"`
	PaymentIntentRef *string           `json:"payment_intent_ref,omitempty"`
	PriceableUnits   int               `json:"priceable_units"`
	Notarize         bool              `json:"notarize"`
	ShipPhysical     bool              `json:"ship_physical"`
	CreatedAt        string            `json:"created_at" format:"date-time"`
	UpdatedAt        string            `json:"updated_at" format:"date-time"`
	History          []AssignmentEntry `json:"assignment_history,omitempty"`
}

func (w WorkItem) Locked() bool {
	return w.Status.Locked()
}

// Assignment log actions.
const (
	ActionSelfAssign = "self_assign"
	ActionAssign     = "assign"
	ActionUnassign   = "unassign"
)

type AssignmentEntry struct {
	Seq      int64  `json:"seq"`
	ItemID   string `json:"item_id"`
	ActorID  string `json:"actor_id"`
	Action   string `json:"action" enum:"self_assign,assign,unassign"`
	TargetID string `json:"target_id,omitempty"`
	TS       string `json:"ts" format:"date-time"`
}

type PaymentIntent struct {
	IntentRef       string   `json:"intent_ref"`
	PayerID         string   `json:"payer_id"`
	MemberItemIDs   []string `json:"member_item_ids"`
	AmountExpected  int64    `json:"amount_expected"`
	Currency        string   `json:"currency"`
	Settled         bool     `json:"settled"`
	Voided          bool     `json:"voided"`
	ConfirmedAmount *int64   `json:"confirmed_amount,omitempty"`
	ReceiptID       *string  `json:"receipt_id,omitempty"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	SettledAt       *string  `json:"settled_at,omitempty" format:"date-time"`
	VoidedAt        *string  `json:"voided_at,omitempty" format:"date-time"`
}

type Actor struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Reconciliation warning kinds.
const (
	WarningAmountMismatch = "amount_mismatch"
	WarningVoidedIntent   = "payment_for_voided_intent"
)

type ReconciliationWarning struct {
	ID              int64   `json:"id"`
	IntentRef       string  `json:"intent_ref"`
	Kind            string  `json:"kind"`
	ExpectedAmount  int64   `json:"expected_amount"`
	ConfirmedAmount int64   `json:"confirmed_amount"`
	Message         string  `json:"message"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	ResolvedAt      *string `json:"resolved_at,omitempty" format:"date-time"`
	ResolvedBy      *string `json:"resolved_by,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
