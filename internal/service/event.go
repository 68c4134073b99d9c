package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/runhook/internal/domain"
)

// recordEvent records an event to the store.
func (s *Service) recordEvent(ctx context.Context, runID string, eventType domain.EventType, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &domain.Event{
		EventID: "evt_" + uuid.New().String(),
		RunID:   runID,
		Ts:      s.now().UnixMilli(),
		Type:    eventType,
		Payload: payloadBytes,
	}

	return s.store.CreateEvent(ctx, event)
}

// emitSignal records a result or error signal and forwards it to the
// signals stream. Failures are logged only.
func (s *Service) emitSignal(ctx context.Context, runID string, eventType domain.EventType, payload interface{}) {
	if err := s.recordEvent(ctx, runID, eventType, payload); err != nil {
		s.logger.Warn("failed to record signal", "run_id", runID, "type", eventType, "err", err)
	}
	if s.signals == nil {
		return
	}
	if _, err := s.signals.Publish(ctx, runID, eventType, payload); err != nil {
		s.logger.Warn("failed to publish signal", "run_id", runID, "type", eventType, "err", err)
	}
}
