package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runhook/internal/domain"
	"github.com/xiaot623/gogo/runhook/internal/repository"
)

func TestCompleteWithCheckpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedRun(t, "r1", "u1")
	cp := env.seedCheckpoint(t, "r1")
	dest := newReceiver(t, http.StatusOK)
	cbID := env.register(t, "r1", "u1", dest.URL, "whsec_1")

	res, err := env.svc.Complete(ctx, &domain.CompleteRequest{RunID: "r1", OwnerID: "u1", ExitCode: exitCode(0)})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, res.Status)
	assert.True(t, res.Success)

	run := env.run(t, "r1")
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.NotNil(t, run.CompletedAt)
	assert.Equal(t, []string{"sbx_r1"}, env.sandbox.calls())

	var body domain.CallbackBody
	require.NoError(t, json.Unmarshal(dest.last(), &body))
	assert.Equal(t, "r1", body.RunID)
	assert.Equal(t, domain.RunStatusCompleted, body.Status)
	require.NotNil(t, body.Result)
	assert.Equal(t, cp.CheckpointID, body.Result.CheckpointID)
	assert.Equal(t, "v_artifact", body.Result.ArtifactSnapshot.VersionID)
	assert.Equal(t, map[string]string{"data": "v_volume"}, body.Result.VolumeVersions)
	assert.JSONEq(t, `{"ticket":42}`, string(body.Payload))

	cb := env.registration(t, cbID)
	assert.Equal(t, domain.CallbackStatusDelivered, cb.Status)
	assert.Equal(t, 1, cb.Attempts)

	events, err := env.db.GetEvents(ctx, "r1", 0, []string{string(domain.EventTypeSignalResult)}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	var signal domain.ResultSignal
	require.NoError(t, json.Unmarshal(events[0].Payload, &signal))
	assert.Equal(t, "sess_1", signal.SessionID)
}

func TestCompleteWithoutCheckpointFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedRun(t, "r1", "u1")
	dest := newReceiver(t, http.StatusOK)
	env.register(t, "r1", "u1", dest.URL, "whsec_1")

	_, err := env.svc.Complete(ctx, &domain.CompleteRequest{RunID: "r1", OwnerID: "u1", ExitCode: exitCode(0)})
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	run := env.run(t, "r1")
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "checkpoint not found")
	assert.Equal(t, []string{"sbx_r1"}, env.sandbox.calls())

	require.Equal(t, 1, dest.count())
	var body domain.CallbackBody
	require.NoError(t, json.Unmarshal(dest.last(), &body))
	assert.Equal(t, domain.RunStatusFailed, body.Status)
	assert.Nil(t, body.Result)
	assert.Contains(t, body.Error, "checkpoint not found")

	events, err := env.db.GetEvents(ctx, "r1", 0, []string{string(domain.EventTypeSignalError)}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestCompleteNonZeroExit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedRun(t, "r1", "u1")
	env.seedRun(t, "r2", "u1")
	// A checkpoint does not rescue a failed exit.
	env.seedCheckpoint(t, "r1")

	res, err := env.svc.Complete(ctx, &domain.CompleteRequest{RunID: "r1", OwnerID: "u1", ExitCode: exitCode(137)})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, res.Status)
	assert.Equal(t, "exited with code 137", env.run(t, "r1").Error)

	res, err = env.svc.Complete(ctx, &domain.CompleteRequest{RunID: "r2", OwnerID: "u1", ExitCode: exitCode(1), Error: "agent crashed"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, res.Status)
	assert.Equal(t, "agent crashed", env.run(t, "r2").Error)

	events, err := env.db.GetEvents(ctx, "r2", 0, []string{string(domain.EventTypeSignalError)}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	var signal domain.ErrorSignal
	require.NoError(t, json.Unmarshal(events[0].Payload, &signal))
	assert.Equal(t, domain.ErrorSignal{Message: "agent crashed", ExitCode: 1}, signal)
}

func TestCompleteIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedRun(t, "r1", "u1")
	env.seedCheckpoint(t, "r1")
	dest := newReceiver(t, http.StatusOK)
	cbID := env.register(t, "r1", "u1", dest.URL, "whsec_1")

	first, err := env.svc.Complete(ctx, &domain.CompleteRequest{RunID: "r1", OwnerID: "u1", ExitCode: exitCode(0)})
	require.NoError(t, err)
	second, err := env.svc.Complete(ctx, &domain.CompleteRequest{RunID: "r1", OwnerID: "u1", ExitCode: exitCode(0)})
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, 1, dest.count())
	assert.Equal(t, 1, env.registration(t, cbID).Attempts)
	assert.Len(t, env.sandbox.calls(), 1)

	// A late failure report does not overturn the outcome.
	third, err := env.svc.Complete(ctx, &domain.CompleteRequest{RunID: "r1", OwnerID: "u1", ExitCode: exitCode(2)})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, third.Status)
	assert.Equal(t, 1, dest.count())
}

func TestCompleteConcurrentCallsDispatchOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedRun(t, "r1", "u1")
	env.seedCheckpoint(t, "r1")
	dest := newReceiver(t, http.StatusOK)
	env.register(t, "r1", "u1", dest.URL, "whsec_1")

	var wg sync.WaitGroup
	statuses := make([]domain.RunStatus, 8)
	for i := range statuses {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.svc.Complete(ctx, &domain.CompleteRequest{RunID: "r1", OwnerID: "u1", ExitCode: exitCode(0)})
			if err == nil {
				statuses[i] = res.Status
			}
		}()
	}
	wg.Wait()

	for _, s := range statuses {
		assert.Equal(t, domain.RunStatusCompleted, s)
	}
	assert.Equal(t, 1, dest.count())
}

func TestCompleteScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	env.seedRun(t, "r1", "u1")

	_, err := env.svc.Complete(context.Background(), &domain.CompleteRequest{RunID: "r1", OwnerID: "intruder", ExitCode: exitCode(1)})
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Equal(t, domain.RunStatusRunning, env.run(t, "r1").Status)

	_, err = env.svc.Complete(context.Background(), &domain.CompleteRequest{RunID: "missing", OwnerID: "u1", ExitCode: exitCode(0)})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	_, err = env.svc.Complete(context.Background(), &domain.CompleteRequest{RunID: "r1", OwnerID: "u1"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestCompleteTeardownFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	env.seedRun(t, "r1", "u1")
	env.sandbox.err = errors.New("vmm unreachable")

	res, err := env.svc.Complete(context.Background(), &domain.CompleteRequest{RunID: "r1", OwnerID: "u1", ExitCode: exitCode(3)})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, res.Status)
	assert.Contains(t, env.logs.String(), "sandbox teardown failed")
}

type checkpointErrorStore struct {
	store.Store
}

func (s checkpointErrorStore) GetCheckpointByRun(context.Context, string) (*domain.Checkpoint, error) {
	return nil, errors.New("disk I/O error")
}

func TestCompleteCheckpointReadFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedRun(t, "r1", "u1")
	env.svc.store = checkpointErrorStore{Store: env.db}

	_, err := env.svc.Complete(context.Background(), &domain.CompleteRequest{RunID: "r1", OwnerID: "u1", ExitCode: exitCode(0)})
	require.Error(t, err)
	assert.Equal(t, domain.KindDependency, domain.KindOf(err))
	assert.Equal(t, domain.RunStatusFailed, env.run(t, "r1").Status)
}

// racingStore lets another completion win between the read and the write.
type racingStore struct {
	store.Store
}

func (s racingStore) UpdateRunTerminal(ctx context.Context, runID string, status domain.RunStatus, errMsg string, at time.Time) (bool, error) {
	if _, err := s.Store.UpdateRunTerminal(ctx, runID, domain.RunStatusCompleted, "", at); err != nil {
		return false, err
	}
	return s.Store.UpdateRunTerminal(ctx, runID, status, errMsg, at)
}

func TestCompleteLosingRaceHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t)
	env.seedRun(t, "r1", "u1")
	dest := newReceiver(t, http.StatusOK)
	env.register(t, "r1", "u1", dest.URL, "whsec_1")
	env.svc.store = racingStore{Store: env.db}

	res, err := env.svc.Complete(context.Background(), &domain.CompleteRequest{RunID: "r1", OwnerID: "u1", ExitCode: exitCode(9)})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, res.Status)
	assert.Zero(t, dest.count())
	assert.Empty(t, env.sandbox.calls())
}

type failingUpdateStore struct {
	store.Store
}

func (s failingUpdateStore) UpdateRunTerminal(context.Context, string, domain.RunStatus, string, time.Time) (bool, error) {
	return false, errors.New("database is locked")
}

func TestCompletePersistFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedRun(t, "r1", "u1")
	env.svc.store = failingUpdateStore{Store: env.db}

	_, err := env.svc.Complete(context.Background(), &domain.CompleteRequest{RunID: "r1", OwnerID: "u1", ExitCode: exitCode(1)})
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	// Best-effort cleanup still ran.
	assert.Equal(t, []string{"sbx_r1"}, env.sandbox.calls())
}

type panickingSandbox struct{}

func (panickingSandbox) Terminate(context.Context, string) error {
	panic("sandbox client blew up")
}

func TestCompletePanicAfterStatusWriteStillDispatches(t *testing.T) {
	env := newTestEnv(t)
	env.seedRun(t, "r1", "u1")
	dest := newReceiver(t, http.StatusOK)
	cbID := env.register(t, "r1", "u1", dest.URL, "whsec_1")
	env.svc.sandbox = panickingSandbox{}

	var (
		res *domain.CompleteResult
		err error
	)
	require.NotPanics(t, func() {
		res, err = env.svc.Complete(context.Background(), &domain.CompleteRequest{RunID: "r1", OwnerID: "u1", ExitCode: exitCode(1)})
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))

	assert.Equal(t, domain.RunStatusFailed, env.run(t, "r1").Status)
	assert.Equal(t, 1, dest.count())
	assert.Equal(t, domain.CallbackStatusDelivered, env.registration(t, cbID).Status)
	assert.Contains(t, env.logs.String(), "recovered panic")

	signals, err := env.svc.GetRunEvents(context.Background(), "u1", "r1", 0, []string{string(domain.EventTypeSignalError)}, 10)
	require.NoError(t, err)
	assert.Len(t, signals, 2, "exit signal plus the abort signal")
}

type panickingCheckpointStore struct {
	store.Store
}

func (panickingCheckpointStore) GetCheckpointByRun(context.Context, string) (*domain.Checkpoint, error) {
	panic("driver bug")
}

func TestCompletePanicBeforeStatusWrite(t *testing.T) {
	env := newTestEnv(t)
	env.seedRun(t, "r1", "u1")
	dest := newReceiver(t, http.StatusOK)
	env.register(t, "r1", "u1", dest.URL, "whsec_1")
	env.svc.store = panickingCheckpointStore{Store: env.db}

	_, err := env.svc.Complete(context.Background(), &domain.CompleteRequest{RunID: "r1", OwnerID: "u1", ExitCode: exitCode(0)})
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))

	// Nothing was finalized, so a retry can still complete the run.
	assert.Equal(t, domain.RunStatusRunning, env.run(t, "r1").Status)
	assert.Zero(t, dest.count())
	assert.Equal(t, []string{"sbx_r1"}, env.sandbox.calls())
}

func TestCompleteDetachedDispatch(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.CallbackDetach = true
	env.seedRun(t, "r1", "u1")
	dest := newReceiver(t, http.StatusOK)
	cbID := env.register(t, "r1", "u1", dest.URL, "whsec_1")

	res, err := env.svc.Complete(context.Background(), &domain.CompleteRequest{RunID: "r1", OwnerID: "u1", ExitCode: exitCode(1)})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, res.Status)

	require.Eventually(t, func() bool {
		return env.registration(t, cbID).Status == domain.CallbackStatusDelivered
	}, 2*time.Second, 10*time.Millisecond)
}

type recordedSignal struct {
	runID     string
	eventType domain.EventType
	payload   any
}

type fakeSignals struct {
	mu   sync.Mutex
	sent []recordedSignal
	err  error
}

func (f *fakeSignals) Publish(_ context.Context, runID string, eventType domain.EventType, payload any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recordedSignal{runID: runID, eventType: eventType, payload: payload})
	return "1-0", f.err
}

func TestCompletePublishesSignals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	signals := &fakeSignals{}
	env.svc.signals = signals

	env.seedRun(t, "ok", "u1")
	env.seedCheckpoint(t, "ok")
	_, err := env.svc.Complete(ctx, &domain.CompleteRequest{RunID: "ok", OwnerID: "u1", ExitCode: exitCode(0)})
	require.NoError(t, err)

	env.seedRun(t, "bad", "u1")
	_, err = env.svc.Complete(ctx, &domain.CompleteRequest{RunID: "bad", OwnerID: "u1", ExitCode: exitCode(3)})
	require.NoError(t, err)

	require.Len(t, signals.sent, 2)
	assert.Equal(t, domain.EventTypeSignalResult, signals.sent[0].eventType)
	result, ok := signals.sent[0].payload.(*domain.ResultSignal)
	require.True(t, ok)
	assert.Equal(t, "sess_1", result.SessionID)
	assert.Equal(t, "v_artifact", result.ArtifactSnapshot.VersionID)

	assert.Equal(t, domain.EventTypeSignalError, signals.sent[1].eventType)
	assert.Equal(t, domain.ErrorSignal{Message: "exited with code 3", ExitCode: 3}, signals.sent[1].payload)
}

func TestCompleteSurvivesSignalPublishFailure(t *testing.T) {
	env := newTestEnv(t)
	env.svc.signals = &fakeSignals{err: errors.New("redis down")}
	env.seedRun(t, "r1", "u1")

	res, err := env.svc.Complete(context.Background(), &domain.CompleteRequest{RunID: "r1", OwnerID: "u1", ExitCode: exitCode(1)})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, res.Status)
	assert.Contains(t, env.logs.String(), "failed to publish signal")

	events, err := env.svc.GetRunEvents(context.Background(), "u1", "r1", 0, []string{string(domain.EventTypeSignalError)}, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
