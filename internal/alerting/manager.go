package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/Faraz1608/IMOS-sub000/internal/config"
	"github.com/Faraz1608/IMOS-sub000/internal/database"
	"github.com/Faraz1608/IMOS-sub000/internal/hub"
	"github.com/Faraz1608/IMOS-sub000/internal/metrics"
)

var validate = validator.New()

// Store is the persistence gateway the manager drives. Implemented by
// database.AlertRepository; tests swap in an in-memory fake.
type Store interface {
	Create(ctx context.Context, alert *database.Alert) error
	GetByID(ctx context.Context, id string) (*database.Alert, error)
	FindOpen(ctx context.Context, alertType, entityID string) (*database.Alert, error)
	List(ctx context.Context, filter database.AlertFilter) ([]*database.Alert, int, error)
	ListByEntity(ctx context.Context, entityType, entityID, status string) ([]*database.Alert, error)
	Acknowledge(ctx context.Context, id, actor string) (int64, error)
	Resolve(ctx context.Context, id, actor string, actionTaken *string) (int64, error)
	Dismiss(ctx context.Context, id string) (int64, error)
	BulkAcknowledge(ctx context.Context, ids []string, actor string) (int64, error)
	BulkResolve(ctx context.Context, ids []string, actor string, actionTaken *string) (int64, error)
	BulkDismiss(ctx context.Context, ids []string) (int64, error)
	Stats(ctx context.Context) (*database.AlertStats, error)
	ActiveByType(ctx context.Context) ([]database.TypeCount, error)
	Trend(ctx context.Context, days int) ([]database.TrendPoint, error)
	DismissExpired(ctx context.Context) (int64, error)
}

// Broadcaster delivers real-time events to connected sessions. Delivery is
// fire-and-forget; the manager never blocks on it.
type Broadcaster interface {
	BroadcastToAll(eventType hub.EventType, data interface{})
	BroadcastExcept(eventType hub.EventType, data interface{}, excludedUserID string)
	SendToUser(userID string, eventType hub.EventType, data interface{})
}

// Publisher emits alert lifecycle events onto the event bus for other
// warehouse services. May be nil when the bus is disabled.
type Publisher interface {
	PublishAlertEvent(ctx context.Context, action string, alert *database.Alert)
}

// Manager owns the alert lifecycle: creation, deduplication and state
// transitions. It is the single writer of alert status fields.
type Manager struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     Store
	hub       Broadcaster
	publisher Publisher
	metrics   *metrics.Collector
	dedup     *gocache.Cache
}

// NewManager creates an alert manager
func NewManager(
	cfg *config.Config,
	logger *slog.Logger,
	store Store,
	broadcaster Broadcaster,
	publisher Publisher,
	collector *metrics.Collector,
) *Manager {
	return &Manager{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		hub:       broadcaster,
		publisher: publisher,
		metrics:   collector,
		dedup:     gocache.New(cfg.Alerting.DedupCacheTTL, 2*cfg.Alerting.DedupCacheTTL),
	}
}

// CreateInput holds the fields of a manual alert creation request
type CreateInput struct {
	Type       string                 `json:"type" validate:"required"`
	Priority   string                 `json:"priority" validate:"required,oneof=CRITICAL HIGH MEDIUM LOW"`
	Title      string                 `json:"title" validate:"required"`
	Message    string                 `json:"message"`
	EntityType string                 `json:"entityType"`
	EntityID   string                 `json:"entityId"`
	Details    map[string]interface{} `json:"details"`
	AssignedTo *string                `json:"assignedTo"`
	ExpiresAt  *time.Time             `json:"expiresAt"`
	Tags       []string               `json:"tags"`
	CreatedBy  string                 `json:"createdBy"`
}

// CreateManual inserts a user-raised alert unconditionally. Manual alerts
// are exempt from the open-alert dedup invariant.
func (m *Manager) CreateManual(ctx context.Context, in CreateInput) (*database.Alert, error) {
	if err := validate.Struct(in); err != nil {
		return nil, validationErrorf(fmt.Sprintf("invalid alert: %v", err))
	}

	alert := &database.Alert{
		ID:            uuid.New().String(),
		Type:          in.Type,
		Priority:      in.Priority,
		Status:        database.StatusActive,
		Title:         in.Title,
		Message:       in.Message,
		EntityType:    in.EntityType,
		EntityID:      in.EntityID,
		Details:       in.Details,
		AutoGenerated: false,
		AssignedTo:    in.AssignedTo,
		ExpiresAt:     in.ExpiresAt,
		Tags:          in.Tags,
	}
	if alert.Tags == nil {
		alert.Tags = []string{}
	}

	if err := m.store.Create(ctx, alert); err != nil {
		return nil, err
	}

	m.logger.Info("Manual alert created", "alert_id", alert.ID, "type", alert.Type, "priority", alert.Priority)
	m.metrics.AlertCreated(alert.Type, alert.Priority, false)
	m.broadcastAlert(hub.ActionCreated, alert, in.CreatedBy)
	m.notifyAssignee(alert)
	m.publish(ctx, hub.ActionCreated, alert)
	return alert, nil
}

// notifyAssignee sends a personal notification to the assigned user's
// sessions. No-op for unassigned alerts.
func (m *Manager) notifyAssignee(alert *database.Alert) {
	if m.hub == nil || alert.AssignedTo == nil || *alert.AssignedTo == "" {
		return
	}
	m.hub.SendToUser(*alert.AssignedTo, hub.EventPersonalNotification, hub.NotificationPayload{
		Title:    "Alert assigned to you",
		Message:  alert.Title,
		Priority: alert.Priority,
	})
}

// AutoProposal is a candidate alert emitted by the automated rule engine
type AutoProposal struct {
	Type       string
	EntityType string
	EntityID   string
	Priority   string
	Title      string
	Message    string
	Details    map[string]interface{}
	ExpiresAt  *time.Time
	Tags       []string
}

// CreateAutomated inserts a system-raised alert unless an ACTIVE or
// ACKNOWLEDGED alert with the same (type, entity) already exists, in which
// case the existing alert is returned untouched and no event is emitted.
// The returned bool reports whether a new alert was created.
//
// The in-process cache and the FindOpen query are fast paths only; the
// partial unique index on the alerts table is the authoritative guard
// against concurrent duplicate scans.
func (m *Manager) CreateAutomated(ctx context.Context, p AutoProposal) (*database.Alert, bool, error) {
	if p.Type == "" || p.EntityID == "" {
		return nil, false, validationErrorf("automated alert requires type and entity id")
	}

	key := p.Type + "|" + p.EntityID

	if cached, ok := m.dedup.Get(key); ok {
		if alert, err := m.store.GetByID(ctx, cached.(string)); err == nil && !alert.Terminal() {
			m.metrics.DedupHit(p.Type)
			return alert, false, nil
		}
		m.dedup.Delete(key)
	}

	existing, err := m.store.FindOpen(ctx, p.Type, p.EntityID)
	if err == nil {
		m.dedup.Set(key, existing.ID, gocache.DefaultExpiration)
		m.metrics.DedupHit(p.Type)
		return existing, false, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, false, err
	}

	alert := &database.Alert{
		ID:            uuid.New().String(),
		Type:          p.Type,
		Priority:      p.Priority,
		Status:        database.StatusActive,
		Title:         p.Title,
		Message:       p.Message,
		EntityType:    p.EntityType,
		EntityID:      p.EntityID,
		Details:       p.Details,
		AutoGenerated: true,
		ExpiresAt:     p.ExpiresAt,
		Tags:          p.Tags,
	}
	if alert.Tags == nil {
		alert.Tags = []string{}
	}

	if err := m.store.Create(ctx, alert); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			// A concurrent scan won the insert race; its alert is the truth
			winner, ferr := m.store.FindOpen(ctx, p.Type, p.EntityID)
			if ferr != nil {
				return nil, false, fmt.Errorf("duplicate insert but no open alert found: %w", ferr)
			}
			m.dedup.Set(key, winner.ID, gocache.DefaultExpiration)
			m.metrics.DedupHit(p.Type)
			return winner, false, nil
		}
		return nil, false, err
	}

	m.dedup.Set(key, alert.ID, gocache.DefaultExpiration)
	m.logger.Info("Automated alert created",
		"alert_id", alert.ID, "type", alert.Type, "entity_id", alert.EntityID, "priority", alert.Priority)
	m.metrics.AlertCreated(alert.Type, alert.Priority, true)
	m.publish(ctx, hub.ActionCreated, alert)
	return alert, true, nil
}

// Acknowledge transitions an ACTIVE alert to ACKNOWLEDGED. Acknowledging an
// alert in any other state fails with ErrInvalidTransition.
func (m *Manager) Acknowledge(ctx context.Context, id, actor string) (*database.Alert, error) {
	if actor == "" {
		return nil, validationErrorf("acknowledgedBy is required")
	}
	return m.transition(ctx, id, hub.ActionAcknowledged, actor, func() (int64, error) {
		return m.store.Acknowledge(ctx, id, actor)
	})
}

// Resolve transitions an ACTIVE or ACKNOWLEDGED alert to RESOLVED,
// optionally recording the action taken.
func (m *Manager) Resolve(ctx context.Context, id, actor string, actionTaken *string) (*database.Alert, error) {
	if actor == "" {
		return nil, validationErrorf("resolvedBy is required")
	}
	return m.transition(ctx, id, hub.ActionResolved, actor, func() (int64, error) {
		return m.store.Resolve(ctx, id, actor, actionTaken)
	})
}

// Dismiss transitions an ACTIVE or ACKNOWLEDGED alert to DISMISSED.
// No actor is recorded.
func (m *Manager) Dismiss(ctx context.Context, id string) (*database.Alert, error) {
	return m.transition(ctx, id, hub.ActionDismissed, "", func() (int64, error) {
		return m.store.Dismiss(ctx, id)
	})
}

// transition runs a compare-and-swap status update and disambiguates a
// zero-row result into not-found vs invalid-transition.
func (m *Manager) transition(ctx context.Context, id, action, actor string, apply func() (int64, error)) (*database.Alert, error) {
	rows, err := apply()
	if err != nil {
		return nil, err
	}

	if rows == 0 {
		alert, gerr := m.store.GetByID(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("cannot %s alert %s in status %s: %w", action, id, alert.Status, ErrInvalidTransition)
	}

	alert, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Alert transition applied", "alert_id", id, "action", action, "actor", actor)
	m.metrics.TransitionApplied(action)
	m.broadcastAlert(action, alert, actor)
	m.publish(ctx, action, alert)
	return alert, nil
}

// BulkInput holds a bulk transition request
type BulkInput struct {
	AlertIDs    []string
	Action      string
	ActorID     string
	ActionTaken *string
}

// Bulk applies one transition to a set of alerts and returns the count
// actually modified. Unlike the single-alert operations, targets already in
// a terminal or incompatible state are silently skipped; callers detect
// partial application from the count.
func (m *Manager) Bulk(ctx context.Context, in BulkInput) (int64, error) {
	if len(in.AlertIDs) == 0 {
		return 0, validationErrorf("alertIds must not be empty")
	}

	var modified int64
	var err error
	switch in.Action {
	case "acknowledge":
		if in.ActorID == "" {
			return 0, validationErrorf("actorId is required for acknowledge")
		}
		modified, err = m.store.BulkAcknowledge(ctx, in.AlertIDs, in.ActorID)
	case "resolve":
		if in.ActorID == "" {
			return 0, validationErrorf("actorId is required for resolve")
		}
		modified, err = m.store.BulkResolve(ctx, in.AlertIDs, in.ActorID, in.ActionTaken)
	case "dismiss":
		modified, err = m.store.BulkDismiss(ctx, in.AlertIDs)
	default:
		return 0, validationErrorf(fmt.Sprintf("unknown bulk action %q", in.Action))
	}
	if err != nil {
		return 0, err
	}

	m.logger.Info("Bulk transition applied",
		"action", in.Action, "requested", len(in.AlertIDs), "modified", modified, "actor", in.ActorID)
	m.metrics.TransitionApplied(in.Action)
	if m.hub != nil {
		m.hub.BroadcastExcept(hub.EventAlertUpdate, hub.AlertUpdatePayload{
			Action:      hub.ActionBulk + "-" + in.Action,
			AlertIDs:    in.AlertIDs,
			Modified:    modified,
			TriggeredBy: in.ActorID,
		}, in.ActorID)
	}
	return modified, nil
}

// Page is one page of a filtered alert listing
type Page struct {
	Alerts []*database.Alert `json:"alerts"`
	Total  int               `json:"total"`
	Page   int               `json:"page"`
	Limit  int               `json:"limit"`
	Pages  int               `json:"pages"`
}

// List returns alerts filtered by status (default ACTIVE, "ALL" bypasses),
// priority and type, sorted by priority severity then creation time.
func (m *Manager) List(ctx context.Context, filter database.AlertFilter) (*Page, error) {
	if filter.Status == "" {
		filter.Status = database.StatusActive
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = m.cfg.Alerting.DefaultPageLimit
	}
	if filter.Limit > m.cfg.Alerting.MaxPageLimit {
		filter.Limit = m.cfg.Alerting.MaxPageLimit
	}

	alerts, total, err := m.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []*database.Alert{}
	}

	pages := total / filter.Limit
	if total%filter.Limit > 0 {
		pages++
	}

	return &Page{
		Alerts: alerts,
		Total:  total,
		Page:   filter.Page,
		Limit:  filter.Limit,
		Pages:  pages,
	}, nil
}

// Get retrieves a single alert by id
func (m *Manager) Get(ctx context.Context, id string) (*database.Alert, error) {
	return m.store.GetByID(ctx, id)
}

// ListForEntity returns alerts whose related entity matches
func (m *Manager) ListForEntity(ctx context.Context, entityType, entityID, status string) ([]*database.Alert, error) {
	alerts, err := m.store.ListByEntity(ctx, entityType, entityID, status)
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []*database.Alert{}
	}
	return alerts, nil
}

// Stats bundles the read-side aggregations for the alerts dashboard
type Stats struct {
	Summary *database.AlertStats  `json:"summary"`
	ByType  []database.TypeCount  `json:"byType"`
	Trend   []database.TrendPoint `json:"trend"`
}

// GetStats returns counts by status, the active-by-type breakdown and the
// daily creation trend over the configured trailing window.
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	summary, err := m.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	byType, err := m.store.ActiveByType(ctx)
	if err != nil {
		return nil, err
	}
	trend, err := m.store.Trend(ctx, m.cfg.Alerting.TrendWindowDays)
	if err != nil {
		return nil, err
	}
	if byType == nil {
		byType = []database.TypeCount{}
	}
	if trend == nil {
		trend = []database.TrendPoint{}
	}
	return &Stats{Summary: summary, ByType: byType, Trend: trend}, nil
}

// DismissExpired dismisses open alerts past their expiry and returns the
// count modified. Invoked by the scheduler's expiry sweep.
func (m *Manager) DismissExpired(ctx context.Context) (int64, error) {
	return m.store.DismissExpired(ctx)
}

func (m *Manager) broadcastAlert(action string, alert *database.Alert, actor string) {
	if m.hub == nil {
		return
	}
	m.hub.BroadcastExcept(hub.EventAlertUpdate, hub.AlertUpdatePayload{
		Action:      action,
		Alert:       alert,
		TriggeredBy: actor,
	}, actor)
}

func (m *Manager) publish(ctx context.Context, action string, alert *database.Alert) {
	if m.publisher == nil {
		return
	}
	m.publisher.PublishAlertEvent(ctx, action, alert)
}
