package services

import (
	"fmt"
	"time"

	"groupchat/auth"
	"groupchat/contract"
	"groupchat/errors"
)

// IAuthService is the auth gateway: stateless credential checks against
// the durable store. It knows nothing about sessions or connections.
type IAuthService interface {
	Register(username, password string) error
	Login(username, password string) (Token, error)
}

type Token string

type AuthService struct {
	store    contract.CredentialStore
	hasher   contract.PasswordHasher
	tokenTTL time.Duration
}

func NewAuthService(store contract.CredentialStore, hasher contract.PasswordHasher, tokenTTL time.Duration) *AuthService {
	return &AuthService{store: store, hasher: hasher, tokenTTL: tokenTTL}
}

// Register validates the credentials, hashes the password and persists the
// account. Validation runs before any cryptographic work.
func (s *AuthService) Register(username, password string) error {
	creds := auth.Credentials{Username: username, Password: password}
	if err := auth.ValidateCredentials(creds); err != nil {
		return err
	}

	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hashing failed: %w", err)
	}

	// Insert is atomic on the store side; ErrUsernameTaken propagates.
	return s.store.Insert(username, hashed)
}

// Login compares the supplied password against the stored hash and issues
// a session token. Absent users and wrong passwords produce the same
// error, to prevent user enumeration.
func (s *AuthService) Login(username, password string) (Token, error) {
	hash, err := s.store.FetchHash(username)
	if err != nil {
		return "", errors.ErrInvalidCredentials
	}

	match, err := s.hasher.Compare(password, hash)
	if err != nil || !match {
		return "", errors.ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(username, s.tokenTTL)
	if err != nil {
		return "", errors.ErrTokenGeneration
	}
	return Token(token), nil
}
