package repositories

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"groupchat/errors"
)

// CredentialRepository is the durable credential store, backed by BadgerDB.
// Keys are "user:<name>"; values hold the encoded hash, never plaintext.
type CredentialRepository struct {
	db *badger.DB
}

func NewCredentialRepository(db *badger.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// storedUser is the on-disk representation of one account.
type storedUser struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

func userKey(username string) []byte {
	return []byte("user:" + username)
}

// Exists reports whether an account with this username is stored.
func (r *CredentialRepository) Exists(username string) (bool, error) {
	var found bool
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(userKey(username))
		switch err {
		case nil:
			found = true
			return nil
		case badger.ErrKeyNotFound:
			return nil
		default:
			return err
		}
	})
	return found, err
}

// Insert persists a new account. The check and the write share one
// transaction, so two concurrent registrations of the same name cannot
// both succeed.
func (r *CredentialRepository) Insert(username, passwordHash string) error {
	user := storedUser{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}

	return r.db.Update(func(txn *badger.Txn) error {
		key := userKey(username)
		if _, err := txn.Get(key); err == nil {
			return errors.ErrUsernameTaken
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, data)
	})
}

// FetchHash returns the stored password hash for the username.
func (r *CredentialRepository) FetchHash(username string) (string, error) {
	var user storedUser
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(username))
		if err == badger.ErrKeyNotFound {
			return errors.ErrUnknownUser
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &user)
		})
	})
	if err != nil {
		return "", err
	}
	return user.PasswordHash, nil
}
