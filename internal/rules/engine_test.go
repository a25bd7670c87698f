package rules

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faraz1608/IMOS-sub000/internal/alerting"
	"github.com/Faraz1608/IMOS-sub000/internal/config"
	"github.com/Faraz1608/IMOS-sub000/internal/database"
	"github.com/Faraz1608/IMOS-sub000/internal/hub"
)

// fakeInventory returns canned records per query, or an error per rule
type fakeInventory struct {
	belowThreshold    []*database.InventoryRecord
	stagnant          []*database.InventoryRecord
	belowReorderPoint []*database.InventoryRecord
	abcMismatches     []*database.InventoryRecord

	belowThresholdErr    error
	stagnantErr          error
	belowReorderPointErr error
	abcMismatchesErr     error
}

func (f *fakeInventory) ListBelowThreshold(ctx context.Context, threshold int) ([]*database.InventoryRecord, error) {
	return f.belowThreshold, f.belowThresholdErr
}

func (f *fakeInventory) ListStagnant(ctx context.Context, window time.Duration) ([]*database.InventoryRecord, error) {
	return f.stagnant, f.stagnantErr
}

func (f *fakeInventory) ListBelowReorderPoint(ctx context.Context) ([]*database.InventoryRecord, error) {
	return f.belowReorderPoint, f.belowReorderPointErr
}

func (f *fakeInventory) ListABCMismatches(ctx context.Context, minTransactions int) ([]*database.InventoryRecord, error) {
	return f.abcMismatches, f.abcMismatchesErr
}

// fakeSink records proposals and simulates the manager's dedup by
// (type, entity) key. err fails every proposal; failType fails only
// proposals of that alert type.
type fakeSink struct {
	mu        sync.Mutex
	open      map[string]*database.Alert
	proposals []alerting.AutoProposal
	err       error
	failType  string
}

func newFakeSink() *fakeSink {
	return &fakeSink{open: make(map[string]*database.Alert)}
}

func (f *fakeSink) CreateAutomated(ctx context.Context, p alerting.AutoProposal) (*database.Alert, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	if f.failType != "" && p.Type == f.failType {
		return nil, false, errors.New("persistence failure")
	}
	f.proposals = append(f.proposals, p)
	key := p.Type + "|" + p.EntityID
	if existing, ok := f.open[key]; ok {
		return existing, false, nil
	}
	alert := &database.Alert{
		ID:            key,
		Type:          p.Type,
		Priority:      p.Priority,
		Status:        database.StatusActive,
		EntityType:    p.EntityType,
		EntityID:      p.EntityID,
		AutoGenerated: true,
	}
	f.open[key] = alert
	return alert, true, nil
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []hub.EventType
	data   []interface{}
}

func (b *recordingBroadcaster) BroadcastToAll(eventType hub.EventType, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
	b.data = append(b.data, data)
}

func rulesConfig() *config.Config {
	return &config.Config{
		Rules: config.RulesConfig{
			LowStockThreshold:   10,
			CriticalDaysOfStock: 3,
			StagnantWindow:      60 * 24 * time.Hour,
			StagnantAlertTTL:    14 * 24 * time.Hour,
			ABCMinTransactions:  5,
		},
	}
}

func newTestEngine(inv *fakeInventory, sink *fakeSink, b *recordingBroadcaster) *Engine {
	var broadcaster Broadcaster
	if b != nil {
		broadcaster = b
	}
	return NewEngine(rulesConfig(), slog.Default(), inv, sink, broadcaster, nil, nil)
}

func ruleCount(t *testing.T, result *SweepResult, rule string) RuleResult {
	t.Helper()
	for _, rr := range result.Rules {
		if rr.Rule == rule {
			return rr
		}
	}
	t.Fatalf("no result for rule %s", rule)
	return RuleResult{}
}

func record(sku string, qty int, days float64) *database.InventoryRecord {
	return &database.InventoryRecord{
		SKU:            sku,
		Name:           "item " + sku,
		Quantity:       qty,
		DaysOfStock:    days,
		LastMovementAt: time.Now().Add(-90 * 24 * time.Hour),
	}
}

func TestLowStockRule(t *testing.T) {
	ctx := context.Background()

	t.Run("raises one alert per matching item", func(t *testing.T) {
		inv := &fakeInventory{belowThreshold: []*database.InventoryRecord{record("S1", 5, 10)}}
		sink := newFakeSink()
		result, err := newTestEngine(inv, sink, nil).RunSweep(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
		assert.Empty(t, result.Failures)
		require.Len(t, sink.proposals, 1)
		p := sink.proposals[0]
		assert.Equal(t, database.TypeLowStock, p.Type)
		assert.Equal(t, "S1", p.EntityID)
		assert.Equal(t, database.PriorityHigh, p.Priority)
	})

	t.Run("rerun suppressed by dedup", func(t *testing.T) {
		inv := &fakeInventory{belowThreshold: []*database.InventoryRecord{record("S1", 5, 10)}}
		sink := newFakeSink()
		engine := newTestEngine(inv, sink, nil)

		first, err := engine.RunSweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, first.Created)
		assert.Equal(t, 1, ruleCount(t, first, "low-stock").Created)

		second, err := engine.RunSweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, second.Created)
		assert.Equal(t, 1, second.Suppressed)
		assert.Equal(t, 0, ruleCount(t, second, "low-stock").Created)
		assert.Equal(t, 1, ruleCount(t, second, "low-stock").Suppressed)
	})

	t.Run("escalates to critical near stockout", func(t *testing.T) {
		inv := &fakeInventory{belowThreshold: []*database.InventoryRecord{record("S2", 2, 2)}}
		sink := newFakeSink()
		_, err := newTestEngine(inv, sink, nil).RunSweep(ctx)

		require.NoError(t, err)
		require.Len(t, sink.proposals, 1)
		assert.Equal(t, database.PriorityCritical, sink.proposals[0].Priority)
	})
}

func TestStockoutRiskRule(t *testing.T) {
	ctx := context.Background()

	rec := record("S3", 0, 0)
	rec.ReorderPoint = 20
	inv := &fakeInventory{belowReorderPoint: []*database.InventoryRecord{rec}}
	sink := newFakeSink()

	result, err := newTestEngine(inv, sink, nil).RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	require.Len(t, sink.proposals, 1)
	assert.Equal(t, database.TypeStockoutRisk, sink.proposals[0].Type)
	assert.Equal(t, database.PriorityCritical, sink.proposals[0].Priority)
}

func TestSlowMovingRule(t *testing.T) {
	ctx := context.Background()

	inv := &fakeInventory{stagnant: []*database.InventoryRecord{record("S4", 40, 200)}}
	sink := newFakeSink()

	result, err := newTestEngine(inv, sink, nil).RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	require.Len(t, sink.proposals, 1)
	p := sink.proposals[0]
	assert.Equal(t, database.TypeSlowMoving, p.Type)
	assert.Equal(t, database.PriorityMedium, p.Priority)
	require.NotNil(t, p.ExpiresAt)
	assert.True(t, p.ExpiresAt.After(time.Now()))
}

func TestABCReclassificationRule(t *testing.T) {
	ctx := context.Background()

	rec := record("S5", 100, 50)
	rec.ABCClass = "A"
	rec.TransactionCount = 2
	inv := &fakeInventory{abcMismatches: []*database.InventoryRecord{rec}}
	sink := newFakeSink()

	result, err := newTestEngine(inv, sink, nil).RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	require.Len(t, sink.proposals, 1)
	assert.Equal(t, database.TypeABCReclassification, sink.proposals[0].Type)
}

func TestSweepFailureIsolation(t *testing.T) {
	ctx := context.Background()

	t.Run("one failing rule does not stop the rest", func(t *testing.T) {
		inv := &fakeInventory{
			belowThresholdErr: errors.New("inventory query timeout"),
			stagnant:          []*database.InventoryRecord{record("S6", 40, 200)},
		}
		sink := newFakeSink()

		result, err := newTestEngine(inv, sink, nil).RunSweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
		require.Len(t, result.Failures, 1)
		assert.Equal(t, "low-stock", result.Failures[0].Rule)
		assert.Equal(t, 1, result.FailedRules())
		assert.True(t, result.Partial())
		assert.Equal(t, 1, ruleCount(t, result, "slow-moving").Created)
	})

	t.Run("all rules failing is an error", func(t *testing.T) {
		boom := errors.New("database down")
		inv := &fakeInventory{
			belowThresholdErr:    boom,
			stagnantErr:          boom,
			belowReorderPointErr: boom,
			abcMismatchesErr:     boom,
		}
		sink := newFakeSink()

		result, err := newTestEngine(inv, sink, nil).RunSweep(ctx)
		require.Error(t, err)
		assert.Len(t, result.Failures, 4)
		assert.False(t, result.Partial())
	})

	t.Run("sink failure recorded per proposal", func(t *testing.T) {
		inv := &fakeInventory{belowThreshold: []*database.InventoryRecord{record("S7", 1, 1)}}
		sink := newFakeSink()
		sink.err = errors.New("persistence failure")

		result, err := newTestEngine(inv, sink, nil).RunSweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Created)
		require.Len(t, result.Failures, 1)
		assert.Equal(t, "low-stock", result.Failures[0].Rule)
		assert.Equal(t, 1, ruleCount(t, result, "low-stock").Failed)
		assert.Empty(t, ruleCount(t, result, "low-stock").Error, "persistence failures do not fail the rule")
	})

	t.Run("one rule failing all its proposals is still partial", func(t *testing.T) {
		inv := &fakeInventory{
			belowThreshold: []*database.InventoryRecord{
				record("S1", 1, 1), record("S2", 2, 2), record("S3", 3, 2), record("S4", 4, 2),
			},
			stagnant: []*database.InventoryRecord{record("S9", 40, 200)},
		}
		sink := newFakeSink()
		sink.failType = database.TypeLowStock

		result, err := newTestEngine(inv, sink, nil).RunSweep(ctx)
		require.NoError(t, err, "persistence failures in one rule must not count as all rules failing")
		assert.Equal(t, 1, result.Created)
		assert.Equal(t, 0, result.FailedRules())
		assert.True(t, result.Partial())
		assert.Len(t, result.Failures, 4)
		assert.Equal(t, 4, ruleCount(t, result, "low-stock").Failed)
		assert.Equal(t, 1, ruleCount(t, result, "slow-moving").Created)
	})
}

func TestSweepBroadcastsSingleSummary(t *testing.T) {
	ctx := context.Background()

	inv := &fakeInventory{
		belowThreshold: []*database.InventoryRecord{record("S1", 5, 10), record("S2", 3, 2)},
		stagnant:       []*database.InventoryRecord{record("S3", 40, 200)},
	}
	sink := newFakeSink()
	broadcaster := &recordingBroadcaster{}

	result, err := newTestEngine(inv, sink, broadcaster).RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Created)

	require.Len(t, broadcaster.events, 1)
	assert.Equal(t, hub.EventDashboardUpdate, broadcaster.events[0])
	summary, ok := broadcaster.data[0].(*SweepResult)
	require.True(t, ok)
	assert.Equal(t, 3, summary.Created)
}
