package scheduler

import (
	"context"
	"errors"
	"fmt"

	"invomat/internal/automation"
	"invomat/internal/automation/engine"
)

// Lifecycle operations. These keep the timer set and the persisted status in
// step: every transition goes through the engine first (the store is the
// source of truth), then adjusts the in-memory timers to match.

// CreateAutomation persists a new automation via the engine and arms its
// timer in one step.
func (s *Service) CreateAutomation(ctx context.Context, ownerID, accountID string, cfg *automation.Config) (*engine.CreateResult, error) {
	res, err := s.eng.Create(ctx, ownerID, accountID, cfg)
	if err != nil {
		return nil, err
	}
	a, err := s.eng.Get(ctx, res.ID)
	if err != nil {
		return nil, fmt.Errorf("scheduler: reload created automation: %w", err)
	}
	if err := s.Schedule(ctx, a); err != nil {
		return nil, err
	}
	return res, nil
}

// Pause sets status=paused and disarms the timer.
func (s *Service) Pause(ctx context.Context, id string) error {
	if err := s.eng.Pause(ctx, id); err != nil {
		return err
	}
	s.Unschedule(id)
	return nil
}

// Resume sets status=active and re-arms the timer from the persisted trigger.
func (s *Service) Resume(ctx context.Context, id string) error {
	if err := s.eng.Resume(ctx, id); err != nil {
		return err
	}
	a, err := s.eng.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.Schedule(ctx, a)
}

// Delete disarms the timer and removes the automation; the table cascades
// only when deleteTable is set.
func (s *Service) Delete(ctx context.Context, id string, deleteTable bool) error {
	s.Unschedule(id)
	return s.eng.Delete(ctx, id, deleteTable)
}

// RunNow triggers a run synchronously, bypassing the timer but honoring the
// same per-id serialization as fired runs.
func (s *Service) RunNow(ctx context.Context, id string) (*engine.RunResult, error) {
	st := s.state(id)
	if !st.tryAcquire() {
		return nil, errors.New("scheduler: automation is already running")
	}
	defer st.release()

	if s.cfg.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DefaultTimeout)
		defer cancel()
	}
	return s.eng.Run(ctx, id)
}
