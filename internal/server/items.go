package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"transcriptdesk/internal/domain"
	"transcriptdesk/internal/engine"
	"transcriptdesk/internal/repo"
)

type itemPath struct {
	ID string `path:"id"`
}

type itemOutput struct {
	Body domain.WorkItem `json:"body"`
}

var itemErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-item",
		Method:        http.MethodPost,
		Path:          "/items",
		Summary:       "Submit an evaluation or translation request",
		DefaultStatus: http.StatusCreated,
		Errors:        append(itemErrors, http.StatusServiceUnavailable),
	}, func(ctx context.Context, input *struct {
		Body CreateItemRequest `json:"body"`
	}) (*itemOutput, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.CreateItem(ctx, engine.CreateItemOptions{
			Kind:           input.Body.Kind,
			PriceableUnits: input.Body.PriceableUnits,
			Notarize:       input.Body.Notarize,
			ShipPhysical:   input.Body.ShipPhysical,
		}, caller)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &itemOutput{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/items",
		Summary:     "List work items, newest first",
		Errors:      itemErrors,
	}, func(ctx context.Context, input *struct {
		OwnerID    string `query:"owner_id"`
		AssigneeID string `query:"assignee_id"`
		Status     string `query:"status"`
		Kind       string `query:"kind"`
		IntentRef  string `query:"intent_ref"`
		Unassigned bool   `query:"unassigned"`
		Limit      int    `query:"limit"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body ItemListResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		limit := normalizeLimit(input.Limit)
		f := repo.ItemFilters{
			OwnerID:         input.OwnerID,
			AssigneeID:      input.AssigneeID,
			Status:          input.Status,
			Kind:            input.Kind,
			IntentRef:       input.IntentRef,
			Unassigned:      input.Unassigned,
			Limit:           limit,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		}
		if !isStaff(e, caller.Role) {
			f.OwnerID = caller.ID
		}
		items, err := e.ListItems(ctx, f)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		out := ItemListResponse{Items: items}
		if len(items) == limit {
			last := items[len(items)-1]
			out.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		return &struct {
			Body ItemListResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{id}",
		Summary:     "Get a work item with its assignment history",
		Errors:      itemErrors,
	}, func(ctx context.Context, input *itemPath) (*itemOutput, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.GetItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if it.OwnerID != caller.ID && !isStaff(e, caller.Role) {
			return nil, handleError(ctx, repo.ErrNotFound)
		}
		return &itemOutput{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "withdraw-item",
		Method:        http.MethodDelete,
		Path:          "/items/{id}",
		Summary:       "Withdraw an item that was never assigned or batched",
		DefaultStatus: http.StatusNoContent,
		Errors:        itemErrors,
	}, func(ctx context.Context, input *itemPath) (*struct{}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Withdraw(ctx, input.ID, caller); err != nil {
			return nil, handleError(ctx, err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-item-units",
		Method:      http.MethodPost,
		Path:        "/items/{id}/units",
		Summary:     "Add priceable units to a pending item",
		Errors:      itemErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body AddUnitsRequest `json:"body"`
	}) (*itemOutput, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.AddUnits(ctx, input.ID, input.Body.Units, caller)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &itemOutput{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-item",
		Method:      http.MethodPost,
		Path:        "/items/{id}/reject",
		Summary:     "Reject a pending item",
		Errors:      itemErrors,
	}, func(ctx context.Context, input *itemPath) (*itemOutput, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.Reject(ctx, input.ID, caller)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &itemOutput{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deliver-item",
		Method:      http.MethodPost,
		Path:        "/items/{id}/deliver",
		Summary:     "Mark a paid item as delivered",
		Errors:      itemErrors,
	}, func(ctx context.Context, input *itemPath) (*itemOutput, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.MarkDelivered(ctx, input.ID, caller)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &itemOutput{Body: it}, nil
	})
}

func registerAssignment(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "claim-item",
		Method:      http.MethodPost,
		Path:        "/items/{id}/claim",
		Summary:     "Claim an unassigned item for yourself",
		Description: "Of simultaneous claims exactly one succeeds; the rest get 409 already_assigned.",
		Errors:      itemErrors,
	}, func(ctx context.Context, input *itemPath) (*itemOutput, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.SelfClaim(ctx, input.ID, caller)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &itemOutput{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-item",
		Method:      http.MethodPost,
		Path:        "/items/{id}/assign",
		Summary:     "Assign an item to an active staff member",
		Errors:      itemErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body AssignRequest `json:"body"`
	}) (*itemOutput, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.AssignTo(ctx, input.ID, input.Body.TargetID, caller)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &itemOutput{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-item",
		Method:      http.MethodPost,
		Path:        "/items/{id}/release",
		Summary:     "Clear the assignee",
		Errors:      itemErrors,
	}, func(ctx context.Context, input *itemPath) (*itemOutput, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.Release(ctx, input.ID, caller)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &itemOutput{Body: it}, nil
	})
}
