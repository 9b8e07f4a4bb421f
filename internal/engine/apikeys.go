package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"lrs/internal/domain"
	"lrs/internal/errors"
	"lrs/internal/repo"
)

const apiKeyPrefix = "lrs_"

// CreateAPIKey issues a new API key for user. The plaintext key is returned
// once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, user, name string) (domain.APIKey, string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return domain.APIKey{}, "", domain.ValidationError{Field: "user", Reason: "required"}
	}
	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return domain.APIKey{}, "", errors.Wrap(err, "generate api key")
	}
	plain := apiKeyPrefix + hex.EncodeToString(secret)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		User:      user,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: domain.FormatTime(e.now()),
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	e.log().Infow("api key created", "id", key.ID, "user", user)
	return key, plain, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, user string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, user)
}

func (e Engine) RevokeAPIKey(ctx context.Context, id string) error {
	if err := e.Repo.DeleteAPIKey(ctx, id); err != nil {
		return notFound(err, "api key", id)
	}
	e.log().Infow("api key revoked", "id", id)
	return nil
}
