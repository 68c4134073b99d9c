package service

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiaot623/gogo/runhook/internal/adapter/callback"
	"github.com/xiaot623/gogo/runhook/internal/adapter/secrets"
	"github.com/xiaot623/gogo/runhook/internal/auth"
	"github.com/xiaot623/gogo/runhook/internal/config"
	"github.com/xiaot623/gogo/runhook/internal/domain"
	"github.com/xiaot623/gogo/runhook/internal/repository"
	"github.com/xiaot623/gogo/runhook/policy"
	"github.com/xiaot623/gogo/runhook/tests/helpers"
)

type fakeObjects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	presigned []string
	getErr    error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}}
}

func (f *fakeObjects) PresignPut(_ context.Context, key, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presigned = append(f.presigned, key)
	return "https://objects.test/" + key + "?X-Amz-Signature=stub&type=" + contentType, nil
}

func (f *fakeObjects) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeObjects) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (f *fakeObjects) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

type fakeSandbox struct {
	mu      sync.Mutex
	handles []string
	err     error
}

func (f *fakeSandbox) Terminate(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handles = append(f.handles, handle)
	return f.err
}

func (f *fakeSandbox) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.handles...)
}

type testEnv struct {
	svc     *Service
	db      *store.SQLiteStore
	cfg     *config.Config
	objects *fakeObjects
	sandbox *fakeSandbox
	secrets *secrets.Codec
	tokens  *auth.TokenIssuer
	logs    *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db := helpers.NewTestSQLiteStore(t)
	codec, err := secrets.NewEphemeralCodec()
	if err != nil {
		t.Fatalf("NewEphemeralCodec failed: %v", err)
	}
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	env := &testEnv{
		db: db,
		cfg: &config.Config{
			CallbackConcurrency:      4,
			CallbackTimeoutMS:        2000,
			SandboxTeardownTimeoutMS: 1000,
		},
		objects: newFakeObjects(),
		sandbox: &fakeSandbox{},
		secrets: codec,
		tokens:  auth.NewTokenIssuer("token-secret", time.Hour),
		logs:    &bytes.Buffer{},
	}
	logger := log.NewWithOptions(env.logs, log.Options{Level: log.DebugLevel})

	env.svc = New(db, env.cfg, Dependencies{
		ObjectStore: env.objects,
		Sandbox:     env.sandbox,
		Callbacks:   callback.NewSender(env.cfg.CallbackTimeout()),
		Secrets:     codec,
		Tokens:      env.tokens,
		Policy:      policyEngine,
		Logger:      logger,
	})
	return env
}

func (env *testEnv) seedRun(t *testing.T, runID, ownerID string) {
	t.Helper()
	err := env.db.CreateRun(context.Background(), &domain.Run{
		RunID:         runID,
		OwnerID:       ownerID,
		Status:        domain.RunStatusRunning,
		SandboxHandle: "sbx_" + runID,
		StartedAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
}

func (env *testEnv) seedCheckpoint(t *testing.T, runID string) *domain.Checkpoint {
	t.Helper()
	cp := &domain.Checkpoint{
		CheckpointID:     "ckpt_" + runID,
		RunID:            runID,
		SessionID:        "sess_1",
		ArtifactSnapshot: domain.ArtifactSnapshot{Driver: "s3", VersionID: "v_artifact"},
		VolumeVersions:   map[string]string{"data": "v_volume"},
		CreatedAt:        time.Now(),
	}
	if err := env.db.CreateCheckpoint(context.Background(), cp); err != nil {
		t.Fatalf("CreateCheckpoint failed: %v", err)
	}
	return cp
}

func (env *testEnv) register(t *testing.T, runID, ownerID, url, secret string) string {
	t.Helper()
	resp, err := env.svc.RegisterCallback(context.Background(), ownerID, runID, &domain.RegisterCallbackRequest{
		URL:     url,
		Secret:  secret,
		Payload: []byte(`{"ticket":42}`),
	})
	if err != nil {
		t.Fatalf("RegisterCallback failed: %v", err)
	}
	return resp.CallbackID
}

func (env *testEnv) registration(t *testing.T, callbackID string) *domain.CallbackRegistration {
	t.Helper()
	cb, err := env.db.GetCallback(context.Background(), callbackID)
	if err != nil || cb == nil {
		t.Fatalf("GetCallback(%s) failed: %v", callbackID, err)
	}
	return cb
}

func (env *testEnv) run(t *testing.T, runID string) *domain.Run {
	t.Helper()
	run, err := env.db.GetRun(context.Background(), runID)
	if err != nil || run == nil {
		t.Fatalf("GetRun(%s) failed: %v", runID, err)
	}
	return run
}

// receiver is a callback destination that records what it was sent.
type receiver struct {
	*httptest.Server
	mu     sync.Mutex
	bodies [][]byte
	status int
}

func newReceiver(t *testing.T, status int) *receiver {
	t.Helper()
	r := &receiver{status: status}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(req.Body)
		r.mu.Lock()
		r.bodies = append(r.bodies, buf.Bytes())
		r.mu.Unlock()
		w.WriteHeader(r.status)
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func (r *receiver) last() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.bodies) == 0 {
		return nil
	}
	return r.bodies[len(r.bodies)-1]
}

func exitCode(n int) *int {
	return &n
}
