package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/runhook/internal/domain"
)

const defaultCallbackConcurrency = 8

// RegisterCallback subscribes a destination to the outcome of a run.
func (s *Service) RegisterCallback(ctx context.Context, ownerID, runID string, req *domain.RegisterCallbackRequest) (*domain.RegisterCallbackResponse, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return nil, domain.NewValidationError("url is required")
	}
	if req.Secret == "" {
		return nil, domain.NewValidationError("secret is required")
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return nil, domain.NewValidationError("payload must be valid JSON")
	}

	run, err := s.loadOwnedRun(ctx, ownerID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, domain.NewConflictError("run %s already finished", runID)
	}

	if s.policy != nil {
		reason, err := s.policy.CheckCallbackURL(ctx, ownerID, url)
		if err != nil {
			return nil, domain.NewInternalError("failed to evaluate callback policy", err)
		}
		if reason != "" {
			return nil, domain.NewValidationError("%s", reason)
		}
	}

	secret, err := s.secrets.Encrypt([]byte(req.Secret))
	if err != nil {
		return nil, domain.NewInternalError("failed to encrypt callback secret", err)
	}

	cb := &domain.CallbackRegistration{
		CallbackID: "cb_" + uuid.New().String(),
		RunID:      runID,
		URL:        url,
		Secret:     secret,
		Payload:    req.Payload,
		Status:     domain.CallbackStatusPending,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateCallback(ctx, cb); err != nil {
		return nil, domain.NewDependencyError("failed to store callback", err)
	}

	s.logger.Debug("callback registered", "run_id", runID, "callback_id", cb.CallbackID)
	return &domain.RegisterCallbackResponse{CallbackID: cb.CallbackID}, nil
}

// ListCallbacks returns the registrations of a run with their delivery state.
func (s *Service) ListCallbacks(ctx context.Context, ownerID, runID string) ([]domain.CallbackRegistration, error) {
	if _, err := s.loadOwnedRun(ctx, ownerID, runID); err != nil {
		return nil, err
	}
	callbacks, err := s.store.ListCallbacksByRun(ctx, runID)
	if err != nil {
		return nil, domain.NewDependencyError("failed to list callbacks", err)
	}
	if callbacks == nil {
		callbacks = []domain.CallbackRegistration{}
	}
	return callbacks, nil
}

// Dispatch is a pending fan-out of callback deliveries.
type Dispatch struct {
	done    chan struct{}
	results []domain.DispatchResult
	err     error
}

func completedDispatch(err error) *Dispatch {
	d := &Dispatch{done: make(chan struct{}), results: []domain.DispatchResult{}, err: err}
	close(d.done)
	return d
}

// Done is closed once every delivery has finished.
func (d *Dispatch) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until every delivery has finished and returns one result per
// attempted registration, in registration order.
func (d *Dispatch) Wait() []domain.DispatchResult {
	<-d.done
	return d.results
}

// Err reports a failure to load the registrations. Delivery failures are
// carried in the results instead.
func (d *Dispatch) Err() error {
	<-d.done
	return d.err
}

// DispatchAll makes exactly one delivery attempt for every undelivered
// registration of the run. Deliveries run concurrently and fail
// independently; retries are left to the caller.
func (s *Service) DispatchAll(ctx context.Context, runID string, status domain.RunStatus, errMsg string, result *domain.ResultSignal) *Dispatch {
	registrations, err := s.store.ListCallbacksByRun(ctx, runID)
	if err != nil {
		s.logger.Error("failed to load callbacks", "run_id", runID, "err", err)
		return completedDispatch(domain.NewDependencyError("failed to load callbacks", err))
	}

	pending := registrations[:0]
	for _, cb := range registrations {
		if cb.Status != domain.CallbackStatusDelivered {
			pending = append(pending, cb)
		}
	}
	if len(pending) == 0 {
		return completedDispatch(nil)
	}

	d := &Dispatch{
		done:    make(chan struct{}),
		results: make([]domain.DispatchResult, len(pending)),
	}
	body := domain.CallbackBody{RunID: runID, Status: status, Result: result, Error: errMsg}

	limit := s.config.CallbackConcurrency
	if limit <= 0 {
		limit = defaultCallbackConcurrency
	}

	go func() {
		defer close(d.done)
		ctx, span := s.tel.Tracer.Start(ctx, "runhook.callback.dispatch",
			trace.WithAttributes(attribute.String("run.id", runID), attribute.Int("callback.count", len(pending))))
		defer span.End()

		var g errgroup.Group
		g.SetLimit(limit)
		for i, cb := range pending {
			g.Go(func() error {
				d.results[i] = s.deliver(ctx, cb, body)
				return nil
			})
		}
		_ = g.Wait()
	}()
	return d
}

// deliver performs a single attempt. The attempt is persisted before the
// request is sent so a crash mid-delivery is still counted.
func (s *Service) deliver(ctx context.Context, cb domain.CallbackRegistration, body domain.CallbackBody) domain.DispatchResult {
	ctx, span := s.tel.Tracer.Start(ctx, "runhook.callback.deliver",
		trace.WithAttributes(attribute.String("callback.id", cb.CallbackID)))
	defer span.End()

	res := domain.DispatchResult{CallbackID: cb.CallbackID}
	// Bookkeeping must survive a cancelled or timed out delivery.
	bookCtx := context.WithoutCancel(ctx)

	fail := func(msg string) domain.DispatchResult {
		res.Error = msg
		span.SetStatus(codes.Error, msg)
		if err := s.store.MarkCallbackFailed(bookCtx, cb.CallbackID, msg); err != nil {
			s.logger.Error("failed to record callback failure", "callback_id", cb.CallbackID, "err", err)
		}
		s.tel.CallbackDeliveries.Add(bookCtx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
		s.logger.Warn("callback delivery failed", "run_id", cb.RunID, "callback_id", cb.CallbackID, "err", msg)
		return res
	}

	if err := s.store.MarkCallbackAttempt(bookCtx, cb.CallbackID, s.now()); err != nil {
		res.Error = "failed to record attempt: " + err.Error()
		return res
	}

	secret, err := s.secrets.Decrypt(cb.Secret)
	if err != nil {
		return fail("failed to decrypt callback secret")
	}
	body.Payload = cb.Payload
	data, err := json.Marshal(body)
	if err != nil {
		return fail("failed to encode callback body: " + err.Error())
	}

	statusCode, err := s.callbacks.Send(ctx, cb.URL, secret, data)
	res.StatusCode = statusCode
	span.SetAttributes(attribute.Int("http.status_code", statusCode))
	if err != nil {
		return fail(domain.NewDeliveryError("callback delivery failed", err).Error())
	}

	if err := s.store.MarkCallbackDelivered(bookCtx, cb.CallbackID, s.now()); err != nil {
		s.logger.Error("failed to record callback delivery", "callback_id", cb.CallbackID, "err", err)
	}
	s.tel.CallbackDeliveries.Add(bookCtx, 1, metric.WithAttributes(attribute.String("outcome", "delivered")))
	res.Success = true
	return res
}
