// Package service implements the run-completion pipeline: completion,
// callback dispatch, storage version resolution and the worker-facing
// run operations.
package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiaot623/gogo/runhook/internal/config"
	"github.com/xiaot623/gogo/runhook/internal/domain"
	"github.com/xiaot623/gogo/runhook/internal/repository"
	"github.com/xiaot623/gogo/runhook/internal/telemetry"
)

// ObjectStore stores storage archives and manifests.
type ObjectStore interface {
	PresignPut(ctx context.Context, key, contentType string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// SandboxTerminator tears down execution environments. Terminating an
// already terminated sandbox must succeed.
type SandboxTerminator interface {
	Terminate(ctx context.Context, handle string) error
}

// CallbackSender POSTs a signed body and returns the response status.
type CallbackSender interface {
	Send(ctx context.Context, url string, secret, body []byte) (int, error)
}

// SecretsCodec encrypts values at rest.
type SecretsCodec interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
}

// SignalPublisher forwards signals to external consumers.
type SignalPublisher interface {
	Publish(ctx context.Context, runID string, eventType domain.EventType, payload any) (string, error)
}

// TokenIssuer mints sandbox tokens.
type TokenIssuer interface {
	Issue(runID, ownerID string) (string, error)
}

// CallbackPolicy vets callback destinations. A non-empty reason blocks.
type CallbackPolicy interface {
	CheckCallbackURL(ctx context.Context, ownerID, rawURL string) (string, error)
}

// Dependencies are the collaborators of the Service. ObjectStore, Signals
// and Policy are optional.
type Dependencies struct {
	ObjectStore ObjectStore
	Sandbox     SandboxTerminator
	Callbacks   CallbackSender
	Secrets     SecretsCodec
	Signals     SignalPublisher
	Tokens      TokenIssuer
	Policy      CallbackPolicy
	Logger      *log.Logger
	Telemetry   *telemetry.Telemetry
}

type Service struct {
	store     store.Store
	config    *config.Config
	objects   ObjectStore
	sandbox   SandboxTerminator
	callbacks CallbackSender
	secrets   SecretsCodec
	signals   SignalPublisher
	tokens    TokenIssuer
	policy    CallbackPolicy
	logger    *log.Logger
	tel       *telemetry.Telemetry
	now       func() time.Time
}

func New(store store.Store, cfg *config.Config, deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	tel := deps.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}
	return &Service{
		store:     store,
		config:    cfg,
		objects:   deps.ObjectStore,
		sandbox:   deps.Sandbox,
		callbacks: deps.Callbacks,
		secrets:   deps.Secrets,
		signals:   deps.Signals,
		tokens:    deps.Tokens,
		policy:    deps.Policy,
		logger:    logger,
		tel:       tel,
		now:       time.Now,
	}
}

// loadOwnedRun returns the run if it belongs to ownerID. Runs of other
// owners are reported as missing.
func (s *Service) loadOwnedRun(ctx context.Context, ownerID, runID string) (*domain.Run, error) {
	if runID == "" {
		return nil, domain.NewValidationError("runId is required")
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, domain.NewDependencyError("failed to load run", err)
	}
	if run == nil || run.OwnerID != ownerID {
		return nil, domain.NewNotFoundError("run %s not found", runID)
	}
	return run, nil
}
