// Package rules implements the automated alert rules that scan the
// inventory projection and raise alerts through the alert manager.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Faraz1608/IMOS-sub000/internal/alerting"
	"github.com/Faraz1608/IMOS-sub000/internal/config"
	"github.com/Faraz1608/IMOS-sub000/internal/database"
	"github.com/Faraz1608/IMOS-sub000/internal/hub"
	"github.com/Faraz1608/IMOS-sub000/internal/metrics"
)

// Inventory is the read side the rules scan. Implemented by
// database.InventoryRepository.
type Inventory interface {
	ListBelowThreshold(ctx context.Context, threshold int) ([]*database.InventoryRecord, error)
	ListStagnant(ctx context.Context, window time.Duration) ([]*database.InventoryRecord, error)
	ListBelowReorderPoint(ctx context.Context) ([]*database.InventoryRecord, error)
	ListABCMismatches(ctx context.Context, minTransactions int) ([]*database.InventoryRecord, error)
}

// AlertSink accepts deduplicated automated alert proposals
type AlertSink interface {
	CreateAutomated(ctx context.Context, p alerting.AutoProposal) (*database.Alert, bool, error)
}

// Broadcaster delivers the sweep summary to connected sessions
type Broadcaster interface {
	BroadcastToAll(eventType hub.EventType, data interface{})
}

// SweepPublisher emits sweep summaries onto the event bus. May be nil.
type SweepPublisher interface {
	PublishSweepResult(ctx context.Context, result *SweepResult)
}

// RuleFailure records one failure during a sweep, either a rule evaluation
// or a single proposal that could not be persisted
type RuleFailure struct {
	Rule  string `json:"rule"`
	Error string `json:"error"`
}

// RuleResult summarizes one rule's outcome within a sweep. Error is set only
// when the rule evaluation itself failed; Failed counts proposals the rule
// produced that could not be persisted.
type RuleResult struct {
	Rule       string `json:"rule"`
	Created    int    `json:"created"`
	Suppressed int    `json:"suppressed"`
	Failed     int    `json:"failed,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SweepResult summarizes one full rule sweep
type SweepResult struct {
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
	RulesRun   int           `json:"rulesRun"`
	Created    int           `json:"created"`
	Suppressed int           `json:"suppressed"`
	Rules      []RuleResult  `json:"rules"`
	Failures   []RuleFailure `json:"failures,omitempty"`
}

// FailedRules counts rules whose evaluation failed. Persistence failures of
// individual proposals do not fail the rule that produced them.
func (r *SweepResult) FailedRules() int {
	n := 0
	for _, rr := range r.Rules {
		if rr.Error != "" {
			n++
		}
	}
	return n
}

// Partial reports whether the sweep completed with some failures but at
// least one rule still ran
func (r *SweepResult) Partial() bool {
	return len(r.Failures) > 0 && r.FailedRules() < r.RulesRun
}

type rule struct {
	name string
	run  func(ctx context.Context) ([]alerting.AutoProposal, error)
}

// Engine evaluates the automated alert rules against the inventory
// projection. Rules are independent; one rule failing never stops the
// others from running.
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	inventory Inventory
	sink      AlertSink
	hub       Broadcaster
	publisher SweepPublisher
	metrics   *metrics.Collector
	rules     []rule
}

// NewEngine creates a rule engine
func NewEngine(
	cfg *config.Config,
	logger *slog.Logger,
	inventory Inventory,
	sink AlertSink,
	broadcaster Broadcaster,
	publisher SweepPublisher,
	collector *metrics.Collector,
) *Engine {
	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		inventory: inventory,
		sink:      sink,
		hub:       broadcaster,
		publisher: publisher,
		metrics:   collector,
	}
	e.rules = []rule{
		{name: "low-stock", run: e.lowStock},
		{name: "stockout-risk", run: e.stockoutRisk},
		{name: "slow-moving", run: e.slowMoving},
		{name: "abc-reclassification", run: e.abcReclassification},
	}
	return e
}

// RunSweep evaluates every rule, feeds the resulting proposals through the
// alert manager's dedup path and broadcasts a single summary event. Failed
// rules are reported in the result instead of aborting the sweep.
func (e *Engine) RunSweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	result := &SweepResult{
		StartedAt: start,
		RulesRun:  len(e.rules),
	}

	for _, r := range e.rules {
		ruleResult := RuleResult{Rule: r.name}

		proposals, err := r.run(ctx)
		if err != nil {
			e.logger.Error("Rule evaluation failed", "rule", r.name, "error", err)
			e.metrics.RuleFailed(r.name)
			ruleResult.Error = err.Error()
			result.Rules = append(result.Rules, ruleResult)
			result.Failures = append(result.Failures, RuleFailure{Rule: r.name, Error: err.Error()})
			continue
		}

		for _, p := range proposals {
			alert, created, err := e.sink.CreateAutomated(ctx, p)
			if err != nil {
				e.logger.Error("Failed to raise automated alert",
					"rule", r.name, "type", p.Type, "entityId", p.EntityID, "error", err)
				ruleResult.Failed++
				result.Failures = append(result.Failures, RuleFailure{
					Rule:  r.name,
					Error: fmt.Sprintf("alert for %s: %v", p.EntityID, err),
				})
				continue
			}
			if created {
				ruleResult.Created++
				e.logger.Info("Automated alert raised",
					"rule", r.name, "alertId", alert.ID, "entityId", p.EntityID, "priority", p.Priority)
			} else {
				ruleResult.Suppressed++
			}
		}

		result.Created += ruleResult.Created
		result.Suppressed += ruleResult.Suppressed
		result.Rules = append(result.Rules, ruleResult)
	}

	result.Duration = time.Since(start)
	e.metrics.SweepCompleted(result.Duration, result.Created)

	if e.hub != nil {
		e.hub.BroadcastToAll(hub.EventDashboardUpdate, result)
	}
	if e.publisher != nil {
		e.publisher.PublishSweepResult(ctx, result)
	}

	e.logger.Info("Rule sweep completed",
		"duration", result.Duration,
		"created", result.Created,
		"suppressed", result.Suppressed,
		"failures", len(result.Failures))

	if failed := result.FailedRules(); failed == result.RulesRun && result.RulesRun > 0 {
		return result, fmt.Errorf("all %d rules failed", failed)
	}
	return result, nil
}

// lowStock raises an alert per item at or below the stock threshold.
// Items projected to run out within the critical window escalate to CRITICAL.
func (e *Engine) lowStock(ctx context.Context) ([]alerting.AutoProposal, error) {
	records, err := e.inventory.ListBelowThreshold(ctx, e.cfg.Rules.LowStockThreshold)
	if err != nil {
		return nil, err
	}

	proposals := make([]alerting.AutoProposal, 0, len(records))
	for _, rec := range records {
		priority := database.PriorityHigh
		if rec.DaysOfStock > 0 && rec.DaysOfStock <= float64(e.cfg.Rules.CriticalDaysOfStock) {
			priority = database.PriorityCritical
		}
		proposals = append(proposals, alerting.AutoProposal{
			Type:       database.TypeLowStock,
			EntityType: database.EntityTypeSKU,
			EntityID:   rec.SKU,
			Priority:   priority,
			Title:      fmt.Sprintf("Low stock: %s", rec.Name),
			Message: fmt.Sprintf("%s has %d units on hand, at or below the threshold of %d",
				rec.Name, rec.Quantity, e.cfg.Rules.LowStockThreshold),
			Details: map[string]interface{}{
				"sku":         rec.SKU,
				"quantity":    rec.Quantity,
				"threshold":   e.cfg.Rules.LowStockThreshold,
				"daysOfStock": rec.DaysOfStock,
			},
			Tags: []string{"inventory", "low-stock"},
		})
	}
	return proposals, nil
}

// stockoutRisk raises an alert per item at or below its reorder point
func (e *Engine) stockoutRisk(ctx context.Context) ([]alerting.AutoProposal, error) {
	records, err := e.inventory.ListBelowReorderPoint(ctx)
	if err != nil {
		return nil, err
	}

	proposals := make([]alerting.AutoProposal, 0, len(records))
	for _, rec := range records {
		priority := database.PriorityHigh
		if rec.Quantity == 0 || (rec.DaysOfStock > 0 && rec.DaysOfStock <= float64(e.cfg.Rules.CriticalDaysOfStock)) {
			priority = database.PriorityCritical
		}
		proposals = append(proposals, alerting.AutoProposal{
			Type:       database.TypeStockoutRisk,
			EntityType: database.EntityTypeSKU,
			EntityID:   rec.SKU,
			Priority:   priority,
			Title:      fmt.Sprintf("Stockout risk: %s", rec.Name),
			Message: fmt.Sprintf("%s is at %d units, at or below its reorder point of %d",
				rec.Name, rec.Quantity, rec.ReorderPoint),
			Details: map[string]interface{}{
				"sku":          rec.SKU,
				"quantity":     rec.Quantity,
				"reorderPoint": rec.ReorderPoint,
				"daysOfStock":  rec.DaysOfStock,
			},
			Tags: []string{"inventory", "stockout"},
		})
	}
	return proposals, nil
}

// slowMoving raises a MEDIUM alert per stocked item with no movement in
// the configured window. These alerts expire so resolved stagnation does
// not leave them open forever.
func (e *Engine) slowMoving(ctx context.Context) ([]alerting.AutoProposal, error) {
	records, err := e.inventory.ListStagnant(ctx, e.cfg.Rules.StagnantWindow)
	if err != nil {
		return nil, err
	}

	proposals := make([]alerting.AutoProposal, 0, len(records))
	for _, rec := range records {
		expires := time.Now().Add(e.cfg.Rules.StagnantAlertTTL)
		proposals = append(proposals, alerting.AutoProposal{
			Type:       database.TypeSlowMoving,
			EntityType: database.EntityTypeSKU,
			EntityID:   rec.SKU,
			Priority:   database.PriorityMedium,
			Title:      fmt.Sprintf("Slow-moving stock: %s", rec.Name),
			Message: fmt.Sprintf("%s has not moved since %s with %d units on hand",
				rec.Name, rec.LastMovementAt.Format("2006-01-02"), rec.Quantity),
			Details: map[string]interface{}{
				"sku":            rec.SKU,
				"quantity":       rec.Quantity,
				"lastMovementAt": rec.LastMovementAt,
				"windowHours":    int(e.cfg.Rules.StagnantWindow.Hours()),
			},
			ExpiresAt: &expires,
			Tags:      []string{"inventory", "slow-moving"},
		})
	}
	return proposals, nil
}

// abcReclassification flags A-class items whose transaction volume no
// longer supports the classification
func (e *Engine) abcReclassification(ctx context.Context) ([]alerting.AutoProposal, error) {
	records, err := e.inventory.ListABCMismatches(ctx, e.cfg.Rules.ABCMinTransactions)
	if err != nil {
		return nil, err
	}

	proposals := make([]alerting.AutoProposal, 0, len(records))
	for _, rec := range records {
		proposals = append(proposals, alerting.AutoProposal{
			Type:       database.TypeABCReclassification,
			EntityType: database.EntityTypeSKU,
			EntityID:   rec.SKU,
			Priority:   database.PriorityMedium,
			Title:      fmt.Sprintf("ABC reclassification candidate: %s", rec.Name),
			Message: fmt.Sprintf("%s is A-class but recorded only %d transactions in the analysis window",
				rec.Name, rec.TransactionCount),
			Details: map[string]interface{}{
				"sku":              rec.SKU,
				"abcClass":         rec.ABCClass,
				"transactionCount": rec.TransactionCount,
				"minTransactions":  e.cfg.Rules.ABCMinTransactions,
			},
			Tags: []string{"inventory", "abc-analysis"},
		})
	}
	return proposals, nil
}
