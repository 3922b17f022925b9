package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/sirupsen/logrus"

	"transcriptdesk/internal/domain"
	"transcriptdesk/internal/engine/auth"
	"transcriptdesk/internal/repo"
)

const apiKeyPrefix = "td_"

// CreateAPIKey issues a key for an existing actor. The raw key is returned
// once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string, by Caller) (domain.APIKey, string, error) {
	if err := e.Policy.Require(by.Role, auth.AssignOthers); err != nil {
		return domain.APIKey{}, "", err
	}
	if _, err := e.Repo.GetActor(ctx, actorID); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("actor %s: %w", actorID, err)
	}
	secret, err := gonanoid.New(32)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	raw := apiKeyPrefix + secret
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}

// ListAPIKeys returns the keys issued to actorID. Actors may list their own
// keys; listing anyone else's needs assign_others. Hashes only, never secrets.
func (e Engine) ListAPIKeys(ctx context.Context, actorID string, by Caller) ([]domain.APIKey, error) {
	if actorID != by.ID {
		if err := e.Policy.Require(by.Role, auth.AssignOthers); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListAPIKeys(ctx, actorID)
}

// RevokeAPIKey deletes a key so it no longer authenticates.
func (e Engine) RevokeAPIKey(ctx context.Context, id string, by Caller) error {
	if err := e.Policy.Require(by.Role, auth.AssignOthers); err != nil {
		return err
	}
	if err := e.Repo.DeleteAPIKey(ctx, id); err != nil {
		return fmt.Errorf("api key %s: %w", id, err)
	}
	e.log().WithFields(logrus.Fields{"api_key_id": id, "actor_id": by.ID}).Info("api key revoked")
	return nil
}
