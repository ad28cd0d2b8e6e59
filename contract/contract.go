//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
)

// CredentialStore is the durable username -> password-hash mapping.
// Only the auth gateway talks to it; it never sees plaintext passwords.
type CredentialStore interface {
	Exists(username string) (bool, error)
	Insert(username, passwordHash string) error
	FetchHash(username string) (string, error)
}

// PasswordHasher is the pluggable hashing collaborator. Hash is one-way;
// Compare must be constant-time with respect to the stored digest.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(password, encodedHash string) (bool, error)
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself; the supervisor recovers panics and
// restarts it.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker,
// for logging and supervision purposes, avoiding manual naming in the
// Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
