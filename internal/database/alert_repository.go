package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// AlertRepository handles alert data operations
type AlertRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *sqlx.DB, logger *slog.Logger) *AlertRepository {
	return &AlertRepository{db: db, logger: logger}
}

// priorityOrder sorts CRITICAL first. Keep in sync with the priority constants.
const priorityOrder = `CASE priority
		WHEN 'CRITICAL' THEN 0
		WHEN 'HIGH' THEN 1
		WHEN 'MEDIUM' THEN 2
		ELSE 3
	END`

// Create inserts a new alert. A violation of the open-alert dedup index is
// returned as ErrDuplicate so the caller can fetch the existing alert.
func (r *AlertRepository) Create(ctx context.Context, alert *Alert) error {
	query := `
		INSERT INTO alerts (
			id, type, priority, status, title, message, entity_type, entity_id,
			details, auto_generated, assigned_to, expires_at, tags,
			created_at, updated_at
		) VALUES (
			:id, :type, :priority, :status, :title, :message, :entity_type, :entity_id,
			:details, :auto_generated, :assigned_to, :expires_at, :tags,
			:created_at, :updated_at
		)`

	alert.CreatedAt = time.Now()
	alert.UpdatedAt = alert.CreatedAt

	_, err := r.db.NamedExecContext(ctx, query, alert)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("open alert exists for (%s, %s): %w", alert.Type, alert.EntityID, ErrDuplicate)
		}
		r.logger.Error("Failed to create alert", "alert_id", alert.ID, "error", err)
		return fmt.Errorf("failed to create alert: %w", err)
	}

	r.logger.Info("Alert created", "alert_id", alert.ID, "type", alert.Type, "entity_id", alert.EntityID)
	return nil
}

// GetByID retrieves an alert by ID
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*Alert, error) {
	query := `SELECT * FROM alerts WHERE id = $1`

	var alert Alert
	err := r.db.GetContext(ctx, &alert, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
		}
		r.logger.Error("Failed to get alert by ID", "alert_id", id, "error", err)
		return nil, fmt.Errorf("failed to get alert by ID: %w", err)
	}

	return &alert, nil
}

// FindOpen retrieves the ACTIVE or ACKNOWLEDGED auto-generated alert for a
// (type, entity) pair, if one exists. The dedup index guarantees at most one
// such row. Manual alerts are not considered; they never suppress automated
// ones.
func (r *AlertRepository) FindOpen(ctx context.Context, alertType, entityID string) (*Alert, error) {
	query := `
		SELECT * FROM alerts
		WHERE type = $1 AND entity_id = $2
		AND status IN ('ACTIVE', 'ACKNOWLEDGED')
		AND auto_generated
		ORDER BY created_at DESC
		LIMIT 1`

	var alert Alert
	err := r.db.GetContext(ctx, &alert, query, alertType, entityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no open alert for (%s, %s): %w", alertType, entityID, ErrNotFound)
		}
		r.logger.Error("Failed to find open alert", "type", alertType, "entity_id", entityID, "error", err)
		return nil, fmt.Errorf("failed to find open alert: %w", err)
	}

	return &alert, nil
}

// List retrieves alerts with filtering and pagination, sorted by priority
// severity then creation time, both descending.
func (r *AlertRepository) List(ctx context.Context, filter AlertFilter) ([]*Alert, int, error) {
	var conditions []string
	var args []interface{}
	argIndex := 0

	if filter.Status != "" && filter.Status != "ALL" {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, filter.Status)
	}
	if filter.Priority != "" {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("priority = $%d", argIndex))
		args = append(args, filter.Priority)
	}
	if filter.Type != "" {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIndex))
		args = append(args, filter.Type)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM alerts %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		r.logger.Error("Failed to count alerts", "error", err)
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	offset := (filter.Page - 1) * filter.Limit
	dataQuery := fmt.Sprintf(`
		SELECT * FROM alerts %s
		ORDER BY %s, created_at DESC
		LIMIT $%d OFFSET $%d`,
		whereClause, priorityOrder, argIndex+1, argIndex+2)
	args = append(args, filter.Limit, offset)

	var alerts []*Alert
	if err := r.db.SelectContext(ctx, &alerts, dataQuery, args...); err != nil {
		r.logger.Error("Failed to list alerts", "error", err)
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}

	return alerts, total, nil
}

// ListByEntity retrieves alerts whose related entity matches, for an entity
// detail view. An empty or "ALL" status bypasses the status filter.
func (r *AlertRepository) ListByEntity(ctx context.Context, entityType, entityID, status string) ([]*Alert, error) {
	query := `
		SELECT * FROM alerts
		WHERE entity_type = $1 AND entity_id = $2`
	args := []interface{}{entityType, entityID}

	if status != "" && status != "ALL" {
		query += " AND status = $3"
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY %s, created_at DESC", priorityOrder)

	var alerts []*Alert
	if err := r.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		r.logger.Error("Failed to list alerts by entity", "entity_type", entityType, "entity_id", entityID, "error", err)
		return nil, fmt.Errorf("failed to list alerts by entity: %w", err)
	}

	return alerts, nil
}

// Acknowledge transitions an ACTIVE alert to ACKNOWLEDGED. The status
// predicate makes the transition a compare-and-swap: zero rows affected
// means the alert is missing or not in a state that allows the transition.
func (r *AlertRepository) Acknowledge(ctx context.Context, alertID, acknowledgedBy string) (int64, error) {
	query := `
		UPDATE alerts SET
			status = 'ACKNOWLEDGED',
			acknowledged_at = NOW(),
			acknowledged_by = $2,
			updated_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE'`

	result, err := r.db.ExecContext(ctx, query, alertID, acknowledgedBy)
	if err != nil {
		r.logger.Error("Failed to acknowledge alert", "alert_id", alertID, "error", err)
		return 0, fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		r.logger.Info("Alert acknowledged", "alert_id", alertID, "acknowledged_by", acknowledgedBy)
	}
	return rowsAffected, nil
}

// Resolve transitions an ACTIVE or ACKNOWLEDGED alert to RESOLVED.
func (r *AlertRepository) Resolve(ctx context.Context, alertID, resolvedBy string, actionTaken *string) (int64, error) {
	query := `
		UPDATE alerts SET
			status = 'RESOLVED',
			resolved_at = NOW(),
			resolved_by = $2,
			action_taken = $3,
			updated_at = NOW()
		WHERE id = $1 AND status IN ('ACTIVE', 'ACKNOWLEDGED')`

	result, err := r.db.ExecContext(ctx, query, alertID, resolvedBy, actionTaken)
	if err != nil {
		r.logger.Error("Failed to resolve alert", "alert_id", alertID, "error", err)
		return 0, fmt.Errorf("failed to resolve alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		r.logger.Info("Alert resolved", "alert_id", alertID, "resolved_by", resolvedBy)
	}
	return rowsAffected, nil
}

// Dismiss transitions an ACTIVE or ACKNOWLEDGED alert to DISMISSED.
// No actor is recorded; dismissal is a status change, not a resolution.
func (r *AlertRepository) Dismiss(ctx context.Context, alertID string) (int64, error) {
	query := `
		UPDATE alerts SET
			status = 'DISMISSED',
			updated_at = NOW()
		WHERE id = $1 AND status IN ('ACTIVE', 'ACKNOWLEDGED')`

	result, err := r.db.ExecContext(ctx, query, alertID)
	if err != nil {
		r.logger.Error("Failed to dismiss alert", "alert_id", alertID, "error", err)
		return 0, fmt.Errorf("failed to dismiss alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		r.logger.Info("Alert dismissed", "alert_id", alertID)
	}
	return rowsAffected, nil
}

// BulkAcknowledge acknowledges every ACTIVE alert in ids and returns the
// count actually modified. Targets in other states are skipped, not errors.
func (r *AlertRepository) BulkAcknowledge(ctx context.Context, ids []string, acknowledgedBy string) (int64, error) {
	query := `
		UPDATE alerts SET
			status = 'ACKNOWLEDGED',
			acknowledged_at = NOW(),
			acknowledged_by = $2,
			updated_at = NOW()
		WHERE id = ANY($1) AND status = 'ACTIVE'`

	result, err := r.db.ExecContext(ctx, query, pq.Array(ids), acknowledgedBy)
	if err != nil {
		r.logger.Error("Failed to bulk acknowledge alerts", "count", len(ids), "error", err)
		return 0, fmt.Errorf("failed to bulk acknowledge alerts: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("Alerts bulk acknowledged", "requested", len(ids), "modified", rowsAffected)
	return rowsAffected, nil
}

// BulkResolve resolves every ACTIVE or ACKNOWLEDGED alert in ids.
func (r *AlertRepository) BulkResolve(ctx context.Context, ids []string, resolvedBy string, actionTaken *string) (int64, error) {
	query := `
		UPDATE alerts SET
			status = 'RESOLVED',
			resolved_at = NOW(),
			resolved_by = $2,
			action_taken = $3,
			updated_at = NOW()
		WHERE id = ANY($1) AND status IN ('ACTIVE', 'ACKNOWLEDGED')`

	result, err := r.db.ExecContext(ctx, query, pq.Array(ids), resolvedBy, actionTaken)
	if err != nil {
		r.logger.Error("Failed to bulk resolve alerts", "count", len(ids), "error", err)
		return 0, fmt.Errorf("failed to bulk resolve alerts: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("Alerts bulk resolved", "requested", len(ids), "modified", rowsAffected)
	return rowsAffected, nil
}

// BulkDismiss dismisses every ACTIVE or ACKNOWLEDGED alert in ids.
func (r *AlertRepository) BulkDismiss(ctx context.Context, ids []string) (int64, error) {
	query := `
		UPDATE alerts SET
			status = 'DISMISSED',
			updated_at = NOW()
		WHERE id = ANY($1) AND status IN ('ACTIVE', 'ACKNOWLEDGED')`

	result, err := r.db.ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		r.logger.Error("Failed to bulk dismiss alerts", "count", len(ids), "error", err)
		return 0, fmt.Errorf("failed to bulk dismiss alerts: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("Alerts bulk dismissed", "requested", len(ids), "modified", rowsAffected)
	return rowsAffected, nil
}

// Stats retrieves alert counts by status and severity
func (r *AlertRepository) Stats(ctx context.Context) (*AlertStats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COUNT(CASE WHEN status = 'ACTIVE' THEN 1 END) as active,
			COUNT(CASE WHEN status = 'ACTIVE' AND priority = 'CRITICAL' THEN 1 END) as critical,
			COUNT(CASE WHEN status = 'ACTIVE' AND priority = 'HIGH' THEN 1 END) as high,
			COUNT(CASE WHEN status = 'ACKNOWLEDGED' THEN 1 END) as acknowledged,
			COUNT(CASE WHEN status = 'RESOLVED' THEN 1 END) as resolved
		FROM alerts`

	var stats AlertStats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		r.logger.Error("Failed to get alert stats", "error", err)
		return nil, fmt.Errorf("failed to get alert stats: %w", err)
	}

	return &stats, nil
}

// ActiveByType retrieves the breakdown of ACTIVE alerts grouped by type
func (r *AlertRepository) ActiveByType(ctx context.Context) ([]TypeCount, error) {
	query := `
		SELECT type, COUNT(*) as count
		FROM alerts
		WHERE status = 'ACTIVE'
		GROUP BY type
		ORDER BY count DESC`

	var counts []TypeCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		r.logger.Error("Failed to get active alerts by type", "error", err)
		return nil, fmt.Errorf("failed to get active alerts by type: %w", err)
	}

	return counts, nil
}

// Trend retrieves daily alert creation counts by priority over a trailing window
func (r *AlertRepository) Trend(ctx context.Context, days int) ([]TrendPoint, error) {
	query := `
		SELECT date_trunc('day', created_at) as day, priority, COUNT(*) as count
		FROM alerts
		WHERE created_at > NOW() - INTERVAL '%d days'
		GROUP BY day, priority
		ORDER BY day ASC`

	queryFormatted := fmt.Sprintf(query, days)

	var points []TrendPoint
	if err := r.db.SelectContext(ctx, &points, queryFormatted); err != nil {
		r.logger.Error("Failed to get alert trend", "error", err)
		return nil, fmt.Errorf("failed to get alert trend: %w", err)
	}

	return points, nil
}

// DismissExpired dismisses open alerts whose expires_at has passed and
// returns the count modified.
func (r *AlertRepository) DismissExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE alerts SET
			status = 'DISMISSED',
			updated_at = NOW()
		WHERE expires_at IS NOT NULL
		AND expires_at < NOW()
		AND status IN ('ACTIVE', 'ACKNOWLEDGED')`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to dismiss expired alerts", "error", err)
		return 0, fmt.Errorf("failed to dismiss expired alerts: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		r.logger.Info("Expired alerts dismissed", "count", rowsAffected)
	}
	return rowsAffected, nil
}
