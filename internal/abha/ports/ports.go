// Package ports declares what the orchestrator needs from the outside world.
// Adapters live with the concrete clients; mocks are generated from here.
package ports

//go:generate mockgen -source=ports.go -destination=../mocks/mocks.go -package=mocks Upstream,Encryptor,CredentialProber,AuditPublisher

import (
	"context"

	"healthid/internal/abdm/fieldcrypt"
	"healthid/internal/abdm/upstream"
	"healthid/internal/audit"
	"healthid/pkg/platform/circuit"
)

// Upstream performs authority calls. Every error it returns is already
// normalized.
type Upstream interface {
	Invoke(ctx context.Context, req upstream.Request) (*upstream.Response, error)
	InvokeBinary(ctx context.Context, req upstream.Request) (*upstream.Binary, error)
	CircuitState() circuit.State
}

// Encryptor turns a sensitive field into authority ciphertext.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext string, kind fieldcrypt.Kind) (string, error)
}

// CredentialProber obtains the service credential, used by the health probe.
type CredentialProber interface {
	Token(ctx context.Context) (string, error)
}

// AuditPublisher records one event per operation.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
