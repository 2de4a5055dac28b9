package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/ports"
)

// SettingAIEnabled is the settings key of the global automation switch
const SettingAIEnabled = "ai_enabled"

// AISwitch is the global kill switch for automated replies. While it is off,
// inbound messages are still logged and surfaced to operators.
type AISwitch struct {
	mu        sync.RWMutex
	enabled   bool
	changedBy string
	changedAt time.Time
	reason    string

	settings ports.SettingsRepository
	events   ports.Broadcaster
}

// NewAISwitch loads the persisted switch position; automation defaults to on
func NewAISwitch(ctx context.Context, settings ports.SettingsRepository, events ports.Broadcaster) (*AISwitch, error) {
	enabled, err := settings.GetBool(ctx, SettingAIEnabled, true)
	if err != nil {
		return nil, fmt.Errorf("load %s setting: %w", SettingAIEnabled, err)
	}
	if !enabled {
		slog.Warn("Automated replies are globally disabled")
	}
	return &AISwitch{enabled: enabled, settings: settings, events: events}, nil
}

// Enabled returns whether automated replies are allowed at all
func (s *AISwitch) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// Set persists and applies the switch position
func (s *AISwitch) Set(ctx context.Context, enabled bool, changedBy, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.settings.SetBool(ctx, SettingAIEnabled, enabled); err != nil {
		return fmt.Errorf("save %s setting: %w", SettingAIEnabled, err)
	}

	duration := time.Since(s.changedAt)
	s.enabled = enabled
	s.changedBy = changedBy
	s.changedAt = time.Now()
	s.reason = reason

	if enabled {
		slog.Info("Automated replies re-enabled",
			"changed_by", changedBy,
			"disabled_for", duration,
		)
	} else {
		slog.Warn("Automated replies disabled",
			"changed_by", changedBy,
			"reason", reason,
		)
	}

	if s.events != nil {
		s.events.Publish(domain.SettingsUpdatedEvent(SettingAIEnabled, enabled, changedBy))
	}
	return nil
}

// Status returns the current switch position for the settings API
func (s *AISwitch) Status() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := map[string]any{
		"ai_enabled": s.enabled,
		"changed_by": s.changedBy,
		"reason":     s.reason,
	}
	if !s.changedAt.IsZero() {
		status["changed_at"] = s.changedAt
	}
	return status
}
