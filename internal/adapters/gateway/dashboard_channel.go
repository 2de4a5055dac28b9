package gateway

import (
	"context"

	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/ports"
)

var _ ports.ChannelAdapter = DashboardChannel{}

// DashboardChannel delivers to the chat widget. The new_message broadcast
// already carries the text, so there is nothing to send.
type DashboardChannel struct{}

// Channel implements ports.ChannelAdapter
func (DashboardChannel) Channel() domain.Channel { return domain.ChannelDashboard }

// Deliver implements ports.ChannelAdapter
func (DashboardChannel) Deliver(context.Context, string, string) error { return nil }
