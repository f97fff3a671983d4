package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"tradebook/internal/database"
)

var (
	ErrUsernameTaken    = errors.New("username is already taken")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrInvalidUsername  = errors.New("username must be at least 2 characters")
	ErrInvalidPassword  = errors.New("password must not be empty")
	// ErrInvalidCredentials covers unknown username and wrong password
	// alike, so a caller cannot probe which usernames exist.
	ErrInvalidCredentials = errors.New("invalid username and/or password")
)

const hashCost = 12

// UserStore is the slice of the ledger store auth needs.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string, startingCash decimal.Decimal) (int64, error)
	UserByUsername(ctx context.Context, username string) (*database.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
}

type Service struct {
	store        UserStore
	secret       []byte
	startingCash decimal.Decimal
	log          *logrus.Logger
}

func New(store UserStore, secret []byte, startingCash decimal.Decimal, log *logrus.Logger) *Service {
	return &Service{store: store, secret: secret, startingCash: startingCash, log: log}
}

func (s *Service) Register(ctx context.Context, username, password, confirmation string) (int64, error) {
	username = strings.TrimSpace(username)
	if len(username) < 2 {
		return 0, ErrInvalidUsername
	}
	if password == "" {
		return 0, ErrInvalidPassword
	}
	if password != confirmation {
		return 0, ErrPasswordMismatch
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return 0, err
	}

	id, err := s.store.CreateUser(ctx, username, string(hash), s.startingCash)
	if err != nil {
		if errors.Is(err, database.ErrDuplicateUsername) {
			return 0, ErrUsernameTaken
		}
		return 0, err
	}
	s.log.Infof("registered user %q (id %d)", username, id)
	return id, nil
}

func (s *Service) Authenticate(ctx context.Context, username, password string) (int64, error) {
	user, err := s.store.UserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return 0, ErrInvalidCredentials
	}
	return user.ID, nil
}

// UsernameAvailable backs the live registration check: a name is available
// iff it is longer than one character and not yet registered.
func (s *Service) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	username = strings.TrimSpace(username)
	if len(username) < 2 {
		return false, nil
	}
	exists, err := s.store.UsernameExists(ctx, username)
	if err != nil {
		return false, err
	}
	return !exists, nil
}
