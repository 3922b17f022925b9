package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"transcriptdesk/internal/domain"
	"transcriptdesk/internal/engine"
	"transcriptdesk/internal/engine/auth"
	"transcriptdesk/internal/repo"
)

type intentPath struct {
	Ref string `path:"ref"`
}

type intentOutput struct {
	Body domain.PaymentIntent `json:"body"`
}

func registerPayments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "lock-for-payment",
		Method:        http.MethodPost,
		Path:          "/payments/lock",
		Summary:       "Lock pending items into one payment batch",
		Description:   "Items that are not pending or not owned by the caller are left out and listed in excluded_item_ids.",
		DefaultStatus: http.StatusCreated,
		Errors:        itemErrors,
	}, func(ctx context.Context, input *struct {
		Body LockRequest `json:"body"`
	}) (*struct {
		Body engine.LockResult `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.LockForPayment(ctx, input.Body.ItemIDs, caller)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.LockResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payments",
		Method:      http.MethodGet,
		Path:        "/payments",
		Summary:     "List payment batches",
		Errors:      itemErrors,
	}, func(ctx context.Context, input *struct {
		PayerID string `query:"payer_id"`
		Limit   int    `query:"limit"`
	}) (*struct {
		Body IntentListResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		payer := input.PayerID
		if !e.Policy.Can(caller.Role, auth.UnlockPayment) {
			payer = caller.ID
		}
		intents, err := e.ListIntents(ctx, payer, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body IntentListResponse `json:"body"`
		}{Body: IntentListResponse{Intents: intents}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-payment",
		Method:      http.MethodGet,
		Path:        "/payments/{ref}",
		Summary:     "Get a payment batch",
		Errors:      itemErrors,
	}, func(ctx context.Context, input *intentPath) (*intentOutput, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pi, err := e.GetIntent(ctx, input.Ref)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if pi.PayerID != caller.ID && !e.Policy.Can(caller.Role, auth.UnlockPayment) {
			return nil, handleError(ctx, repo.ErrNotFound)
		}
		return &intentOutput{Body: pi}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unlock-payment",
		Method:      http.MethodPost,
		Path:        "/payments/{ref}/unlock",
		Summary:     "Abandon an open batch and return its items to pending",
		Errors:      itemErrors,
	}, func(ctx context.Context, input *intentPath) (*intentOutput, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pi, err := e.Unlock(ctx, input.Ref, caller)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &intentOutput{Body: pi}, nil
	})
}

func registerWarnings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-warnings",
		Method:      http.MethodGet,
		Path:        "/warnings",
		Summary:     "Reconciliation warnings awaiting operator review",
		Errors:      itemErrors,
	}, func(ctx context.Context, input *struct {
		IntentRef string `query:"intent_ref"`
		Kind      string `query:"kind"`
		All       bool   `query:"all" doc:"Include resolved warnings"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body WarningListResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Policy.Require(caller.Role, auth.UnlockPayment); err != nil {
			return nil, handleError(ctx, err)
		}
		warnings, err := e.ListWarnings(ctx, repo.WarningFilters{
			IntentRef:  input.IntentRef,
			Kind:       input.Kind,
			Unresolved: !input.All,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body WarningListResponse `json:"body"`
		}{Body: WarningListResponse{Warnings: warnings}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "resolve-warning",
		Method:        http.MethodPost,
		Path:          "/warnings/{id}/resolve",
		Summary:       "Mark a warning as handled",
		DefaultStatus: http.StatusNoContent,
		Errors:        itemErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ResolveWarning(ctx, input.ID, caller); err != nil {
			return nil, handleError(ctx, err)
		}
		return nil, nil
	})
}

func registerActors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-actor",
		Method:      http.MethodPut,
		Path:        "/actors",
		Summary:     "Register or update a staff member or student",
		Errors:      itemErrors,
	}, func(ctx context.Context, input *struct {
		Body UpsertActorRequest `json:"body"`
	}) (*struct {
		Body domain.Actor `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		active := true
		if input.Body.Active != nil {
			active = *input.Body.Active
		}
		a, err := e.UpsertActor(ctx, domain.Actor{ID: input.Body.ID, Role: input.Body.Role, Active: active}, caller)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Actor `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/actors/{id}/api-keys",
		Summary:       "Issue an API key; the secret is only returned once",
		DefaultStatus: http.StatusCreated,
		Errors:        itemErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, secret, err := e.CreateAPIKey(ctx, input.ID, input.Body.Name, caller)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{Key: key, Secret: secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/actors/{id}/api-keys",
		Summary:     "List an actor's API keys",
		Errors:      itemErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body APIKeyListResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.ListAPIKeys(ctx, input.ID, caller)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body APIKeyListResponse `json:"body"`
		}{Body: APIKeyListResponse{Keys: keys}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        itemErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeAPIKey(ctx, input.ID, caller); err != nil {
			return nil, handleError(ctx, err)
		}
		return nil, nil
	})
}
