package services

import (
	"context"
	"errors"

	"rentdesk/internal/domain"
	"rentdesk/internal/repos"

	"golang.org/x/crypto/bcrypt"
)

var ErrBadCreds = errors.New("invalid authority id or key")

// AuthService signs authorities into the console. Whether an authority may
// act is settled here, before any rental operation runs.
type AuthService struct {
	Authorities *repos.AuthorityRepo
}

func (s *AuthService) Login(ctx context.Context, sid string, authorityID int64, key string) (*domain.Authority, error) {
	a, err := s.Authorities.ByID(ctx, authorityID)
	if err != nil {
		return nil, ErrBadCreds
	}
	if bcrypt.CompareHashAndPassword([]byte(a.Hash), []byte(key)) != nil {
		return nil, ErrBadCreds
	}
	if err := s.Authorities.BindSession(ctx, sid, a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *AuthService) Logout(ctx context.Context, sid string) error {
	return s.Authorities.UnbindSession(ctx, sid)
}

func (s *AuthService) Current(ctx context.Context, sid string) (*domain.Authority, error) {
	return s.Authorities.SessionAuthority(ctx, sid)
}
