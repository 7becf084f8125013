package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"herfrequency/internal/apperr"
	"herfrequency/internal/model"
	"herfrequency/internal/repo"
	"herfrequency/pkg/validator"
)

type SignInRequest struct {
	Email    string `json:"email" validate:"required,max=255,email"`
	Password string `json:"password" validate:"required,max=72"`
}

type SignInResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	// IsAdmin lets the UI pick a landing page. It grants nothing; every admin
	// action is checked again server-side.
	IsAdmin bool `json:"is_admin"`
}

type Accounts interface {
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	HasRole(ctx context.Context, userID string, role model.Role) (bool, error)
}

type PasswordSignIn struct {
	accounts Accounts
	issuer   *JWTVerifier
	log      *zerolog.Logger
}

func NewPasswordSignIn(accounts Accounts, issuer *JWTVerifier, log *zerolog.Logger) *PasswordSignIn {
	return &PasswordSignIn{accounts: accounts, issuer: issuer, log: log}
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// SignIn checks the password and issues a bearer token. Unknown email and
// wrong password fail the same way.
func (s *PasswordSignIn) SignIn(ctx context.Context, req SignInRequest) (*SignInResult, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validator.Validate(ctx, req); err != nil {
		var fe *validator.FieldError
		if errors.As(err, &fe) {
			return nil, apperr.Validation(fe.Field, fe.Message)
		}
		return nil, apperr.Validation("", err.Error())
	}

	u, err := s.accounts.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, repo.ErrUserNotFound) {
		return nil, apperr.Unauthenticated("Invalid email or password")
	}
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		s.log.Warn().Str("user_id", u.ID).Msg("sign-in rejected")
		return nil, apperr.Unauthenticated("Invalid email or password")
	}

	token, exp, err := s.issuer.Issue(u.ID, u.Email)
	if err != nil {
		return nil, apperr.Upstream(err)
	}

	isAdmin, err := s.accounts.HasRole(ctx, u.ID, model.RoleAdmin)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", u.ID).Msg("role lookup failed at sign-in")
		isAdmin = false
	}

	s.log.Info().Str("user_id", u.ID).Msg("signed in")
	return &SignInResult{Token: token, ExpiresAt: exp, IsAdmin: isAdmin}, nil
}
