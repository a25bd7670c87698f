package alerting

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faraz1608/IMOS-sub000/internal/config"
	"github.com/Faraz1608/IMOS-sub000/internal/database"
	"github.com/Faraz1608/IMOS-sub000/internal/hub"
)

// fakeStore is an in-memory Store mirroring the repository's compare-and-swap
// transition semantics and the open-alert unique index.
type fakeStore struct {
	mu     sync.Mutex
	alerts map[string]*database.Alert
}

func newFakeStore() *fakeStore {
	return &fakeStore{alerts: make(map[string]*database.Alert)}
}

func (s *fakeStore) Create(ctx context.Context, alert *database.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alert.AutoGenerated {
		for _, a := range s.alerts {
			if a.AutoGenerated && a.Type == alert.Type && a.EntityID == alert.EntityID && !a.Terminal() {
				return database.ErrDuplicate
			}
		}
	}
	alert.CreatedAt = time.Now()
	alert.UpdatedAt = alert.CreatedAt
	s.alerts[alert.ID] = alert
	return nil
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (*database.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *alert
	return &copied, nil
}

func (s *fakeStore) FindOpen(ctx context.Context, alertType, entityID string) (*database.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.AutoGenerated && a.Type == alertType && a.EntityID == entityID && !a.Terminal() {
			copied := *a
			return &copied, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *fakeStore) List(ctx context.Context, filter database.AlertFilter) ([]*database.Alert, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*database.Alert
	for _, a := range s.alerts {
		if filter.Status != "" && filter.Status != "ALL" && a.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && a.Priority != filter.Priority {
			continue
		}
		if filter.Type != "" && a.Type != filter.Type {
			continue
		}
		copied := *a
		matched = append(matched, &copied)
	}
	return matched, len(matched), nil
}

func (s *fakeStore) ListByEntity(ctx context.Context, entityType, entityID, status string) ([]*database.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*database.Alert
	for _, a := range s.alerts {
		if a.EntityType != entityType || a.EntityID != entityID {
			continue
		}
		if status != "" && status != "ALL" && a.Status != status {
			continue
		}
		copied := *a
		matched = append(matched, &copied)
	}
	return matched, nil
}

func (s *fakeStore) Acknowledge(ctx context.Context, id, actor string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || a.Status != database.StatusActive {
		return 0, nil
	}
	now := time.Now()
	a.Status = database.StatusAcknowledged
	a.AcknowledgedBy = &actor
	a.AcknowledgedAt = &now
	a.UpdatedAt = now
	return 1, nil
}

func (s *fakeStore) Resolve(ctx context.Context, id, actor string, actionTaken *string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || a.Terminal() {
		return 0, nil
	}
	now := time.Now()
	a.Status = database.StatusResolved
	a.ResolvedBy = &actor
	a.ResolvedAt = &now
	a.ActionTaken = actionTaken
	a.UpdatedAt = now
	return 1, nil
}

func (s *fakeStore) Dismiss(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || a.Terminal() {
		return 0, nil
	}
	a.Status = database.StatusDismissed
	a.UpdatedAt = time.Now()
	return 1, nil
}

func (s *fakeStore) BulkAcknowledge(ctx context.Context, ids []string, actor string) (int64, error) {
	var n int64
	for _, id := range ids {
		rows, _ := s.Acknowledge(ctx, id, actor)
		n += rows
	}
	return n, nil
}

func (s *fakeStore) BulkResolve(ctx context.Context, ids []string, actor string, actionTaken *string) (int64, error) {
	var n int64
	for _, id := range ids {
		rows, _ := s.Resolve(ctx, id, actor, actionTaken)
		n += rows
	}
	return n, nil
}

func (s *fakeStore) BulkDismiss(ctx context.Context, ids []string) (int64, error) {
	var n int64
	for _, id := range ids {
		rows, _ := s.Dismiss(ctx, id)
		n += rows
	}
	return n, nil
}

func (s *fakeStore) Stats(ctx context.Context) (*database.AlertStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &database.AlertStats{}
	for _, a := range s.alerts {
		stats.Total++
		switch a.Status {
		case database.StatusActive:
			stats.Active++
			if a.Priority == database.PriorityCritical {
				stats.Critical++
			}
			if a.Priority == database.PriorityHigh {
				stats.High++
			}
		case database.StatusAcknowledged:
			stats.Acknowledged++
		case database.StatusResolved:
			stats.Resolved++
		}
	}
	return stats, nil
}

func (s *fakeStore) ActiveByType(ctx context.Context) ([]database.TypeCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, a := range s.alerts {
		if a.Status == database.StatusActive {
			counts[a.Type]++
		}
	}
	var out []database.TypeCount
	for t, c := range counts {
		out = append(out, database.TypeCount{Type: t, Count: c})
	}
	return out, nil
}

func (s *fakeStore) Trend(ctx context.Context, days int) ([]database.TrendPoint, error) {
	return nil, nil
}

func (s *fakeStore) DismissExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := time.Now()
	for _, a := range s.alerts {
		if !a.Terminal() && a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
			a.Status = database.StatusDismissed
			n++
		}
	}
	return n, nil
}

// recordingHub captures broadcasts for assertions
type recordingHub struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	eventType hub.EventType
	data      interface{}
	excluded  string
	toUser    string
}

func (h *recordingHub) BroadcastToAll(eventType hub.EventType, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, recordedEvent{eventType: eventType, data: data})
}

func (h *recordingHub) BroadcastExcept(eventType hub.EventType, data interface{}, excludedUserID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, recordedEvent{eventType: eventType, data: data, excluded: excludedUserID})
}

func (h *recordingHub) SendToUser(userID string, eventType hub.EventType, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, recordedEvent{eventType: eventType, data: data, excluded: "", toUser: userID})
}

func (h *recordingHub) all() []recordedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]recordedEvent(nil), h.events...)
}

func testConfig() *config.Config {
	return &config.Config{
		Alerting: config.AlertingConfig{
			DefaultPageLimit: 20,
			MaxPageLimit:     100,
			DedupCacheTTL:    time.Minute,
			TrendWindowDays:  30,
		},
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeStore, *recordingHub) {
	t.Helper()
	store := newFakeStore()
	rec := &recordingHub{}
	mgr := NewManager(testConfig(), slog.Default(), store, rec, nil, nil)
	return mgr, store, rec
}

func seedActive(t *testing.T, store *fakeStore, alertType, entityID string, auto bool) *database.Alert {
	t.Helper()
	alert := &database.Alert{
		ID:            uuid.New().String(),
		Type:          alertType,
		Priority:      database.PriorityHigh,
		Status:        database.StatusActive,
		Title:         "seeded",
		EntityType:    database.EntityTypeSKU,
		EntityID:      entityID,
		AutoGenerated: auto,
	}
	require.NoError(t, store.Create(context.Background(), alert))
	return alert
}

func TestCreateManual(t *testing.T) {
	mgr, _, rec := newTestManager(t)
	ctx := context.Background()

	t.Run("creates active alert", func(t *testing.T) {
		alert, err := mgr.CreateManual(ctx, CreateInput{
			Type:      "CUSTOM",
			Priority:  database.PriorityHigh,
			Title:     "Dock door jammed",
			CreatedBy: "u1",
		})
		require.NoError(t, err)
		assert.Equal(t, database.StatusActive, alert.Status)
		assert.False(t, alert.AutoGenerated)
		assert.NotEmpty(t, alert.ID)

		events := rec.all()
		require.Len(t, events, 1)
		assert.Equal(t, hub.EventAlertUpdate, events[0].eventType)
		assert.Equal(t, "u1", events[0].excluded)
	})

	t.Run("rejects unknown priority", func(t *testing.T) {
		_, err := mgr.CreateManual(ctx, CreateInput{
			Type:     "CUSTOM",
			Priority: "SEVERE",
			Title:    "bad",
		})
		var valErr *ValidationError
		require.ErrorAs(t, err, &valErr)
	})

	t.Run("rejects missing title", func(t *testing.T) {
		_, err := mgr.CreateManual(ctx, CreateInput{
			Type:     "CUSTOM",
			Priority: database.PriorityLow,
		})
		var valErr *ValidationError
		require.ErrorAs(t, err, &valErr)
	})

	t.Run("assignee gets personal notification", func(t *testing.T) {
		mgr, _, rec := newTestManager(t)
		assignee := "u7"
		_, err := mgr.CreateManual(ctx, CreateInput{
			Type:       "CUSTOM",
			Priority:   database.PriorityHigh,
			Title:      "Cycle count needed",
			AssignedTo: &assignee,
			CreatedBy:  "u1",
		})
		require.NoError(t, err)

		events := rec.all()
		require.Len(t, events, 2)
		assert.Equal(t, hub.EventPersonalNotification, events[1].eventType)
		assert.Equal(t, "u7", events[1].toUser)
	})

	t.Run("duplicate manual alerts allowed", func(t *testing.T) {
		in := CreateInput{
			Type:       database.TypeLowStock,
			Priority:   database.PriorityMedium,
			Title:      "Check SKU-9",
			EntityType: database.EntityTypeSKU,
			EntityID:   "SKU-9",
		}
		first, err := mgr.CreateManual(ctx, in)
		require.NoError(t, err)
		second, err := mgr.CreateManual(ctx, in)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
	})
}

func TestCreateAutomatedDedup(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	proposal := AutoProposal{
		Type:       database.TypeLowStock,
		EntityType: database.EntityTypeSKU,
		EntityID:   "SKU-1",
		Priority:   database.PriorityHigh,
		Title:      "Low stock: widget",
	}

	first, created, err := mgr.CreateAutomated(ctx, proposal)
	require.NoError(t, err)
	assert.True(t, created)

	t.Run("second proposal suppressed", func(t *testing.T) {
		second, created, err := mgr.CreateAutomated(ctx, proposal)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("suppressed while acknowledged", func(t *testing.T) {
		_, err := mgr.Acknowledge(ctx, first.ID, "u1")
		require.NoError(t, err)

		again, created, err := mgr.CreateAutomated(ctx, proposal)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)
	})

	t.Run("new alert after resolution", func(t *testing.T) {
		_, err := mgr.Resolve(ctx, first.ID, "u1", nil)
		require.NoError(t, err)

		fresh, created, err := mgr.CreateAutomated(ctx, proposal)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ID, fresh.ID)
	})

	t.Run("different entity not suppressed", func(t *testing.T) {
		other := proposal
		other.EntityID = "SKU-2"
		_, created, err := mgr.CreateAutomated(ctx, other)
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("requires type and entity", func(t *testing.T) {
		_, _, err := mgr.CreateAutomated(ctx, AutoProposal{Type: database.TypeLowStock})
		var valErr *ValidationError
		require.ErrorAs(t, err, &valErr)
	})
}

func TestTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("acknowledge active", func(t *testing.T) {
		mgr, store, _ := newTestManager(t)
		seeded := seedActive(t, store, "CUSTOM", "E1", false)

		alert, err := mgr.Acknowledge(ctx, seeded.ID, "u1")
		require.NoError(t, err)
		assert.Equal(t, database.StatusAcknowledged, alert.Status)
		require.NotNil(t, alert.AcknowledgedBy)
		assert.Equal(t, "u1", *alert.AcknowledgedBy)
		assert.NotNil(t, alert.AcknowledgedAt)
	})

	t.Run("acknowledge requires actor", func(t *testing.T) {
		mgr, store, _ := newTestManager(t)
		seeded := seedActive(t, store, "CUSTOM", "E1", false)

		_, err := mgr.Acknowledge(ctx, seeded.ID, "")
		var valErr *ValidationError
		require.ErrorAs(t, err, &valErr)
	})

	t.Run("acknowledge twice conflicts", func(t *testing.T) {
		mgr, store, _ := newTestManager(t)
		seeded := seedActive(t, store, "CUSTOM", "E1", false)

		_, err := mgr.Acknowledge(ctx, seeded.ID, "u1")
		require.NoError(t, err)
		_, err = mgr.Acknowledge(ctx, seeded.ID, "u2")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("acknowledge missing alert", func(t *testing.T) {
		mgr, _, _ := newTestManager(t)
		_, err := mgr.Acknowledge(ctx, uuid.New().String(), "u1")
		assert.ErrorIs(t, err, database.ErrNotFound)
	})

	t.Run("resolve from active", func(t *testing.T) {
		mgr, store, _ := newTestManager(t)
		seeded := seedActive(t, store, "CUSTOM", "E1", false)

		action := "restocked"
		alert, err := mgr.Resolve(ctx, seeded.ID, "u1", &action)
		require.NoError(t, err)
		assert.Equal(t, database.StatusResolved, alert.Status)
		require.NotNil(t, alert.ActionTaken)
		assert.Equal(t, "restocked", *alert.ActionTaken)
	})

	t.Run("resolve from acknowledged", func(t *testing.T) {
		mgr, store, _ := newTestManager(t)
		seeded := seedActive(t, store, "CUSTOM", "E1", false)

		_, err := mgr.Acknowledge(ctx, seeded.ID, "u1")
		require.NoError(t, err)
		alert, err := mgr.Resolve(ctx, seeded.ID, "u2", nil)
		require.NoError(t, err)
		assert.Equal(t, database.StatusResolved, alert.Status)
	})

	t.Run("resolve terminal conflicts", func(t *testing.T) {
		mgr, store, _ := newTestManager(t)
		seeded := seedActive(t, store, "CUSTOM", "E1", false)

		_, err := mgr.Resolve(ctx, seeded.ID, "u1", nil)
		require.NoError(t, err)
		_, err = mgr.Resolve(ctx, seeded.ID, "u2", nil)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("dismiss from acknowledged", func(t *testing.T) {
		mgr, store, _ := newTestManager(t)
		seeded := seedActive(t, store, "CUSTOM", "E1", false)

		_, err := mgr.Acknowledge(ctx, seeded.ID, "u1")
		require.NoError(t, err)
		alert, err := mgr.Dismiss(ctx, seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, database.StatusDismissed, alert.Status)
	})

	t.Run("dismiss terminal conflicts", func(t *testing.T) {
		mgr, store, _ := newTestManager(t)
		seeded := seedActive(t, store, "CUSTOM", "E1", false)

		_, err := mgr.Dismiss(ctx, seeded.ID)
		require.NoError(t, err)
		_, err = mgr.Dismiss(ctx, seeded.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestBulk(t *testing.T) {
	ctx := context.Background()

	t.Run("partial application reports modified count", func(t *testing.T) {
		mgr, store, rec := newTestManager(t)
		active := seedActive(t, store, "CUSTOM", "E1", false)
		resolved := seedActive(t, store, "CUSTOM", "E2", false)
		_, err := mgr.Resolve(ctx, resolved.ID, "u1", nil)
		require.NoError(t, err)

		modified, err := mgr.Bulk(ctx, BulkInput{
			AlertIDs: []string{active.ID, resolved.ID, uuid.New().String()},
			Action:   "acknowledge",
			ActorID:  "u1",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), modified)

		events := rec.all()
		last := events[len(events)-1]
		payload, ok := last.data.(hub.AlertUpdatePayload)
		require.True(t, ok)
		assert.Equal(t, "bulk-acknowledge", payload.Action)
		assert.Equal(t, int64(1), payload.Modified)
		assert.Equal(t, "u1", last.excluded)
	})

	t.Run("bulk dismiss needs no actor", func(t *testing.T) {
		mgr, store, _ := newTestManager(t)
		a := seedActive(t, store, "CUSTOM", "E1", false)
		b := seedActive(t, store, "CUSTOM", "E2", false)

		modified, err := mgr.Bulk(ctx, BulkInput{
			AlertIDs: []string{a.ID, b.ID},
			Action:   "dismiss",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), modified)
	})

	t.Run("empty ids rejected", func(t *testing.T) {
		mgr, _, _ := newTestManager(t)
		_, err := mgr.Bulk(ctx, BulkInput{Action: "dismiss"})
		var valErr *ValidationError
		require.ErrorAs(t, err, &valErr)
	})

	t.Run("unknown action rejected", func(t *testing.T) {
		mgr, _, _ := newTestManager(t)
		_, err := mgr.Bulk(ctx, BulkInput{AlertIDs: []string{"x"}, Action: "archive"})
		var valErr *ValidationError
		require.ErrorAs(t, err, &valErr)
	})

	t.Run("acknowledge without actor rejected", func(t *testing.T) {
		mgr, _, _ := newTestManager(t)
		_, err := mgr.Bulk(ctx, BulkInput{AlertIDs: []string{"x"}, Action: "acknowledge"})
		var valErr *ValidationError
		require.ErrorAs(t, err, &valErr)
	})
}

func TestList(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	seedActive(t, store, "CUSTOM", "E1", false)
	seedActive(t, store, "CUSTOM", "E2", false)

	t.Run("defaults applied", func(t *testing.T) {
		page, err := mgr.List(ctx, database.AlertFilter{})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
		assert.Equal(t, 1, page.Page)
		assert.Equal(t, 20, page.Limit)
		assert.Equal(t, 1, page.Pages)
	})

	t.Run("limit clamped to maximum", func(t *testing.T) {
		page, err := mgr.List(ctx, database.AlertFilter{Limit: 5000})
		require.NoError(t, err)
		assert.Equal(t, 100, page.Limit)
	})

	t.Run("empty result is empty slice", func(t *testing.T) {
		page, err := mgr.List(ctx, database.AlertFilter{Status: database.StatusResolved})
		require.NoError(t, err)
		assert.NotNil(t, page.Alerts)
		assert.Empty(t, page.Alerts)
	})
}

func TestGetStats(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	seedActive(t, store, database.TypeLowStock, "E1", true)
	seedActive(t, store, database.TypeLowStock, "E2", true)

	stats, err := mgr.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Summary.Total)
	assert.Equal(t, 2, stats.Summary.Active)
	require.Len(t, stats.ByType, 1)
	assert.Equal(t, database.TypeLowStock, stats.ByType[0].Type)
	assert.Equal(t, 2, stats.ByType[0].Count)
	assert.NotNil(t, stats.Trend)
}

func TestDismissExpired(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	expired := seedActive(t, store, database.TypeSlowMoving, "E1", true)
	expired.ExpiresAt = &past
	seedActive(t, store, database.TypeSlowMoving, "E2", true)

	dismissed, err := mgr.DismissExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dismissed)
}
