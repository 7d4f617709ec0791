// Package user is the thin authentication collaborator: signup, login and
// token verification. It has no relay state of its own; the relay only ever
// sees the Identity a verified token resolves to.
package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"peerchat/internal/identity"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Service struct {
	repo      *Repository
	jwtSecret string
	validate  *validator.Validate
}

type authClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(repo *Repository, secret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: secret,
		validate:  validator.New(),
	}
}

func (s *Service) Register(ctx context.Context, req *CredentialsRequest) (*User, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid registration: %w", err)
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username: req.Username,
		Password: string(hashedPwd),
	}
	if _, err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return &User{ID: u.ID, Username: u.Username}, nil
}

func (s *Service) Login(ctx context.Context, req *CredentialsRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, authClaims{
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    "peerchat",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	})

	ss, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Username:    u.Username,
	}, nil
}

// VerifyToken resolves a credential token to the identity it was issued for.
func (s *Service) VerifyToken(tokenString string) (identity.Identity, error) {
	claims := &authClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return identity.Identity{}, err
	}
	if !token.Valid || claims.Subject == "" {
		return identity.Identity{}, ErrInvalidCredentials
	}

	return identity.Identity{ID: claims.Subject, Name: claims.Username}, nil
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]User, error) {
	return s.repo.SearchUsers(ctx, query)
}
