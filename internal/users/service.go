package users

import (
	"context"
	"errors"

	"github.com/carecoord/carecoord/internal/models"
)

// ErrNoSubject is returned when identity claims carry no subject.
var ErrNoSubject = errors.New("claims carry no subject")

// Service encapsulates user-related business logic
type Service struct {
	repo UserRepository
}

func NewService(r UserRepository) *Service {
	return &Service{repo: r}
}

// UpsertFromClaims creates or updates a user using OIDC claims map
func (s *Service) UpsertFromClaims(ctx context.Context, claims map[string]interface{}) (*models.User, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrNoSubject
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	if name == "" {
		name, _ = claims["preferred_username"].(string)
	}
	return s.repo.UpsertBySub(ctx, &models.User{Sub: sub, Email: email, Name: name})
}

func (s *Service) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	return s.repo.GetBySub(ctx, sub)
}
