package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Sentinel errors shared by repositories and their fakes.
var (
	// ErrNotFound indicates the referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates an insert violated the open-alert dedup index.
	ErrDuplicate = errors.New("duplicate open alert")
)

// Alert statuses. RESOLVED and DISMISSED are terminal.
const (
	StatusActive       = "ACTIVE"
	StatusAcknowledged = "ACKNOWLEDGED"
	StatusResolved     = "RESOLVED"
	StatusDismissed    = "DISMISSED"
)

// Alert priorities, ordered by severity.
const (
	PriorityCritical = "CRITICAL"
	PriorityHigh     = "HIGH"
	PriorityMedium   = "MEDIUM"
	PriorityLow      = "LOW"
)

// Well-known alert types. The column is free text so new types can be
// introduced without a migration.
const (
	TypeLowStock            = "LOW_STOCK"
	TypeStockoutRisk        = "STOCKOUT_RISK"
	TypeSlowMoving          = "SLOW_MOVING"
	TypeABCReclassification = "ABC_RECLASSIFICATION"
)

// Entity types an alert can reference.
const (
	EntityTypeSKU      = "SKU"
	EntityTypeLocation = "LOCATION"
	EntityTypeOrder    = "ORDER"
)

// Alert represents a persisted alert record
type Alert struct {
	ID             string         `db:"id" json:"id"`
	Type           string         `db:"type" json:"type"`
	Priority       string         `db:"priority" json:"priority"`
	Status         string         `db:"status" json:"status"`
	Title          string         `db:"title" json:"title"`
	Message        string         `db:"message" json:"message"`
	EntityType     string         `db:"entity_type" json:"entityType"`
	EntityID       string         `db:"entity_id" json:"entityId"`
	Details        JSONB          `db:"details" json:"details,omitempty"`
	AutoGenerated  bool           `db:"auto_generated" json:"autoGenerated"`
	AcknowledgedBy *string        `db:"acknowledged_by" json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time     `db:"acknowledged_at" json:"acknowledgedAt,omitempty"`
	ResolvedBy     *string        `db:"resolved_by" json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time     `db:"resolved_at" json:"resolvedAt,omitempty"`
	ActionTaken    *string        `db:"action_taken" json:"actionTaken,omitempty"`
	AssignedTo     *string        `db:"assigned_to" json:"assignedTo,omitempty"`
	ExpiresAt      *time.Time     `db:"expires_at" json:"expiresAt,omitempty"`
	Tags           pq.StringArray `db:"tags" json:"tags"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updatedAt"`
}

// Terminal reports whether the alert is in a terminal state.
func (a *Alert) Terminal() bool {
	return a.Status == StatusResolved || a.Status == StatusDismissed
}

// AlertFilter holds list query parameters
type AlertFilter struct {
	Status   string
	Priority string
	Type     string
	Page     int
	Limit    int
}

// AlertStats holds counts by status and severity
type AlertStats struct {
	Total        int `db:"total" json:"total"`
	Active       int `db:"active" json:"active"`
	Critical     int `db:"critical" json:"critical"`
	High         int `db:"high" json:"high"`
	Acknowledged int `db:"acknowledged" json:"acknowledged"`
	Resolved     int `db:"resolved" json:"resolved"`
}

// TypeCount is one bucket of the active-alerts-by-type breakdown
type TypeCount struct {
	Type  string `db:"type" json:"type"`
	Count int    `db:"count" json:"count"`
}

// TrendPoint is one daily bucket of alert creation grouped by priority
type TrendPoint struct {
	Day      time.Time `db:"day" json:"day"`
	Priority string    `db:"priority" json:"priority"`
	Count    int       `db:"count" json:"count"`
}

// InventoryRecord is the read-side projection of an inventory row the
// rule engine scans. The table is owned by the core inventory service.
type InventoryRecord struct {
	SKU              string    `db:"sku" json:"sku"`
	Name             string    `db:"name" json:"name"`
	Quantity         int       `db:"quantity" json:"quantity"`
	DaysOfStock      float64   `db:"days_of_stock" json:"daysOfStock"`
	ReorderPoint     int       `db:"reorder_point" json:"reorderPoint"`
	ABCClass         string    `db:"abc_class" json:"abcClass"`
	TransactionCount int       `db:"transaction_count" json:"transactionCount"`
	LastMovementAt   time.Time `db:"last_movement_at" json:"lastMovementAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}

// JSONB implements driver.Valuer and sql.Scanner for jsonb columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// IsUniqueViolation reports whether err is a Postgres unique constraint error.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
