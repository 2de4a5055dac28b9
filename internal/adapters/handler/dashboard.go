package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"hotel-concierge/internal/adapters/gateway"
	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/ports"
	"hotel-concierge/internal/core/services"
)

// headerOperatorID carries the acting operator's identity
const headerOperatorID = "X-Operator-ID"

// ConversationEngine is what the dashboard drives
type ConversationEngine interface {
	HandleInbound(ctx context.Context, in services.Inbound) (*services.Outcome, error)
	HandleOperatorMessage(ctx context.Context, conversationID, operator, text string) (*services.Outcome, error)
	TakeOver(ctx context.Context, conversationID, operator string) (*domain.Conversation, error)
	HandBack(ctx context.Context, conversationID, operator string) (*domain.Conversation, error)
	SetTyping(ctx context.Context, conversationID, operator string, typing bool) error
	Conversation(ctx context.Context, id string) (*domain.Conversation, error)
	Conversations(ctx context.Context, filter ports.ConversationFilter) ([]*domain.Conversation, error)
	History(ctx context.Context, id string, limit int) ([]*domain.Message, error)
	Purge(ctx context.Context, id, operator string) error
}

// Switch is the global automation switch
type Switch interface {
	Set(ctx context.Context, enabled bool, changedBy, reason string) error
	Status() map[string]any
}

// Pinger reports connectivity of a backing service
type Pinger interface {
	Ping(ctx context.Context) error
}

// EventStats exposes the event hub's counters
type EventStats interface {
	ClientCount() int
	Dropped() int64
}

// DashboardDeps groups the dashboard's collaborators. Redis and Responder
// are optional.
type DashboardDeps struct {
	Engine        ConversationEngine
	AISwitch      Switch
	Events        EventStats
	Redis         Pinger
	Responder     interface{ BreakerState() string }
	DiskPath      string
	DiskThreshold float64
	Version       string
}

// DashboardHandler handles the chat widget and the operator API
type DashboardHandler struct {
	deps      DashboardDeps
	startedAt time.Time
	cpuSample time.Duration
}

// NewDashboardHandler creates a new dashboard handler instance
func NewDashboardHandler(deps DashboardDeps) *DashboardHandler {
	if deps.DiskPath == "" {
		deps.DiskPath = "/"
	}
	if deps.DiskThreshold <= 0 {
		deps.DiskThreshold = 70
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	return &DashboardHandler{deps: deps, startedAt: time.Now(), cpuSample: 500 * time.Millisecond}
}

// ============================================================================
// Chat widget
// ============================================================================

// ChatRequest is a message typed into the website chat widget
type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// ChatResponse carries the automated reply back to the widget
type ChatResponse struct {
	ConversationID string  `json:"conversation_id"`
	Reply          *string `json:"reply"` // null when automation stayed silent
	Escalated      bool    `json:"escalated"`
}

// Chat runs one widget turn and returns the reply inline
// POST /api/chat
func (h *DashboardHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out, err := h.deps.Engine.HandleInbound(r.Context(), services.Inbound{
		Channel:        domain.ChannelDashboard,
		ConversationID: req.ConversationID,
		Text:           req.Message,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := ChatResponse{
		ConversationID: out.Conversation.ID,
		Escalated:      out.Escalated,
	}
	if out.Reply != nil {
		resp.Reply = &out.Reply.Body
	}
	writeJSON(w, NewSuccessResponse(resp))
}

// ============================================================================
// Conversations
// ============================================================================

// ListConversations returns conversations, most recently updated first
// GET /api/conversations[?visible=true][&limit=N]
func (h *DashboardHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ports.ConversationFilter{}
	if v := q.Get("visible"); v != "" {
		visible, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, BadRequestResponse("visible must be true or false"))
			return
		}
		filter.VisibleOnly = visible
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	filter.Limit = limit

	convs, err := h.deps.Engine.Conversations(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if convs == nil {
		convs = []*domain.Conversation{}
	}
	writeJSON(w, NewSuccessResponse(convs))
}

// GetConversation returns one conversation
// GET /api/conversations/{id}
func (h *DashboardHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.deps.Engine.Conversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, NewSuccessResponse(conv))
}

// GetMessages returns a conversation's log in chronological order
// GET /api/conversations/{id}/messages[?limit=N]
func (h *DashboardHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	msgs, err := h.deps.Engine.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	writeJSON(w, NewSuccessResponse(msgs))
}

// SendMessageRequest is an operator reply
type SendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessage logs an operator reply and relays it to the guest. The message
// is stored even when delivery fails; the response says so.
// POST /api/conversations/{id}/messages
func (h *DashboardHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out, err := h.deps.Engine.HandleOperatorMessage(r.Context(), chi.URLParam(r, "id"), operatorID(r), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}

	data := map[string]any{
		"message":   out.Reply,
		"delivered": out.DeliveryErr == nil,
	}
	if out.DeliveryErr != nil {
		data["delivery_error"] = out.DeliveryErr.Error()
		writeJSON(w, APIResponse{
			Code:    http.StatusOK,
			Message: deliveryFailureMessage(out.DeliveryErr),
			Data:    data,
		})
		return
	}
	writeJSON(w, NewSuccessResponse(data))
}

// deliveryFailureMessage explains a failed relay to the operator
func deliveryFailureMessage(err error) string {
	switch {
	case errors.Is(err, gateway.ErrTokenExpired):
		return "Saved, but the channel token has expired. Reconnect the account in settings"
	case errors.Is(err, gateway.ErrRateLimited):
		return "Saved, but the platform is rate limiting us. The guest has not received it yet"
	case errors.Is(err, gateway.ErrPermissionDenied):
		return "Saved, but the account lacks permission to message this guest"
	case errors.Is(err, gateway.ErrInvalidDestination):
		return "Saved, but the guest's address is not valid on this channel"
	default:
		return "Saved, but delivery to the guest failed"
	}
}

// TakeOver gives the calling operator exclusive ownership
// POST /api/conversations/{id}/takeover
func (h *DashboardHandler) TakeOver(w http.ResponseWriter, r *http.Request) {
	conv, err := h.deps.Engine.TakeOver(r.Context(), chi.URLParam(r, "id"), operatorID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, NewSuccessResponse(conv))
}

// HandBack returns the conversation to automation
// POST /api/conversations/{id}/handback
func (h *DashboardHandler) HandBack(w http.ResponseWriter, r *http.Request) {
	conv, err := h.deps.Engine.HandBack(r.Context(), chi.URLParam(r, "id"), operatorID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, NewSuccessResponse(conv))
}

// TypingRequest toggles the operator typing indicator
type TypingRequest struct {
	Typing bool `json:"typing"`
}

// SetTyping relays the operator typing indicator
// POST /api/conversations/{id}/typing
func (h *DashboardHandler) SetTyping(w http.ResponseWriter, r *http.Request) {
	var req TypingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.deps.Engine.SetTyping(r.Context(), chi.URLParam(r, "id"), operatorID(r), req.Typing); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, NewSuccessResponse(map[string]bool{"typing": req.Typing}))
}

// PurgeConversation deletes a conversation and its log
// DELETE /api/conversations/{id}
func (h *DashboardHandler) PurgeConversation(w http.ResponseWriter, r *http.Request) {
	operator := operatorID(r)
	if operator == "" {
		writeError(w, domain.ErrOperatorRequired)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.deps.Engine.Purge(r.Context(), id, operator); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, NewSuccessResponse(map[string]string{"deleted": id}))
}

// ============================================================================
// Settings
// ============================================================================

// SettingsRequest changes the global automation switch
type SettingsRequest struct {
	AIEnabled *bool  `json:"ai_enabled"`
	Reason    string `json:"reason"`
}

// GetSettings returns the global switch position
// GET /api/settings
func (h *DashboardHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, NewSuccessResponse(h.deps.AISwitch.Status()))
}

// UpdateSettings flips the global switch
// POST /api/settings
func (h *DashboardHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	operator := operatorID(r)
	if operator == "" {
		writeError(w, domain.ErrOperatorRequired)
		return
	}
	var req SettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AIEnabled == nil {
		writeJSON(w, BadRequestResponse("ai_enabled is required"))
		return
	}
	if err := h.deps.AISwitch.Set(r.Context(), *req.AIEnabled, operator, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, NewSuccessResponse(h.deps.AISwitch.Status()))
}

// ============================================================================
// System Health & Metrics
// ============================================================================

// SystemMetricsResponse represents system health data
type SystemMetricsResponse struct {
	CPUPercent        float64 `json:"cpu_percent"`
	RAMUsedGB         float64 `json:"ram_used_gb"`
	RAMTotalGB        float64 `json:"ram_total_gb"`
	RAMPercent        float64 `json:"ram_percent"`
	DiskUsedGB        float64 `json:"disk_used_gb"`
	DiskTotalGB       float64 `json:"disk_total_gb"`
	DiskPercent       float64 `json:"disk_percent"`
	GoroutinesCount   int     `json:"goroutines_count"`
	WatchdogActive    bool    `json:"watchdog_active"`
	WatchdogThreshold float64 `json:"watchdog_threshold"`
	DiskWarningLevel  string  `json:"disk_warning_level"` // "safe" | "warning" | "critical"
}

// GetSystemMetrics returns current host metrics. Unreadable metrics read as zero.
// GET /api/system/metrics
func (h *DashboardHandler) GetSystemMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	const gb = 1024 * 1024 * 1024

	var resp SystemMetricsResponse
	if percents, err := cpu.PercentWithContext(ctx, h.cpuSample, false); err == nil && len(percents) > 0 {
		resp.CPUPercent = roundTo2Decimals(percents[0])
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.RAMUsedGB = roundTo2Decimals(float64(vm.Used) / gb)
		resp.RAMTotalGB = roundTo2Decimals(float64(vm.Total) / gb)
		resp.RAMPercent = roundTo2Decimals(vm.UsedPercent)
	}
	if du, err := disk.UsageWithContext(ctx, h.deps.DiskPath); err == nil {
		resp.DiskUsedGB = roundTo2Decimals(float64(du.Used) / gb)
		resp.DiskTotalGB = roundTo2Decimals(float64(du.Total) / gb)
		resp.DiskPercent = roundTo2Decimals(du.UsedPercent)
	}

	resp.GoroutinesCount = runtime.NumGoroutine()
	resp.WatchdogThreshold = h.deps.DiskThreshold
	resp.WatchdogActive = resp.DiskPercent > h.deps.DiskThreshold
	resp.DiskWarningLevel = diskWarningLevel(resp.DiskPercent, h.deps.DiskThreshold)

	writeJSON(w, NewSuccessResponse(resp))
}

func diskWarningLevel(percent, threshold float64) string {
	switch {
	case percent < threshold:
		return "safe"
	case percent < threshold+10:
		return "warning"
	default:
		return "critical"
	}
}

// SystemStatusResponse represents overall system status
type SystemStatusResponse struct {
	Online         bool   `json:"online"`
	Uptime         string `json:"uptime"`
	Version        string `json:"version"`
	AIEnabled      any    `json:"ai_enabled"`
	EventClients   int    `json:"event_clients"`
	EventsDropped  int64  `json:"events_dropped"`
	RedisReachable *bool  `json:"redis_reachable,omitempty"`
	ResponderState string `json:"responder_circuit,omitempty"`
}

// GetStatus returns process status
// GET /api/status
func (h *DashboardHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := SystemStatusResponse{
		Online:    true,
		Uptime:    formatDuration(time.Since(h.startedAt)),
		Version:   h.deps.Version,
		AIEnabled: h.deps.AISwitch.Status()["ai_enabled"],
	}
	if h.deps.Events != nil {
		resp.EventClients = h.deps.Events.ClientCount()
		resp.EventsDropped = h.deps.Events.Dropped()
	}
	if h.deps.Redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.deps.Redis.Ping(ctx)
		cancel()
		reachable := err == nil
		if err != nil {
			slog.Warn("Redis ping failed", "error", err)
		}
		resp.RedisReachable = &reachable
	}
	if h.deps.Responder != nil {
		resp.ResponderState = h.deps.Responder.BreakerState()
	}
	writeJSON(w, NewSuccessResponse(resp))
}

// ============================================================================
// Helpers
// ============================================================================

func operatorID(r *http.Request) string {
	return r.Header.Get(headerOperatorID)
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeJSON(w, BadRequestResponse("limit must be a non-negative integer"))
		return 0, false
	}
	return n, true
}

func roundTo2Decimals(val float64) float64 {
	return float64(int(val*100)) / 100
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 24 {
		days := hours / 24
		hours = hours % 24
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}

	return fmt.Sprintf("%dh %dm", hours, minutes)
}
