package hub

import (
	"time"

	"github.com/Faraz1608/IMOS-sub000/internal/database"
)

// EventType identifies a real-time event kind
type EventType string

// Server-to-client event types
const (
	EventUserJoined           EventType = "user-joined"
	EventUserLeft             EventType = "user-left"
	EventUsersOnline          EventType = "users-online"
	EventAlertUpdate          EventType = "alert-update"
	EventInventoryUpdate      EventType = "inventory-update"
	EventDashboardUpdate      EventType = "dashboard-update"
	EventPersonalNotification EventType = "personal-notification"
	EventGlobalNotification   EventType = "global-notification"
	EventSystemStatus         EventType = "system-status"
)

// EventUserConnected is the client-to-server handshake that binds an
// identity to a session. Before it arrives the session is anonymous.
const EventUserConnected EventType = "user-connected"

// Envelope wraps every broadcast payload
type Envelope struct {
	EventType EventType   `json:"eventType"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Identity describes a user bound to a session
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// PresencePayload is the data of user-joined and user-left events
type PresencePayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// UsersOnlinePayload is the data of users-online events
type UsersOnlinePayload struct {
	Count int        `json:"count"`
	Users []Identity `json:"users"`
}

// Alert actions carried by alert-update events
const (
	ActionCreated      = "created"
	ActionAcknowledged = "acknowledged"
	ActionResolved     = "resolved"
	ActionDismissed    = "dismissed"
	ActionBulk         = "bulk"
)

// AlertUpdatePayload is the data of alert-update events
type AlertUpdatePayload struct {
	Action      string          `json:"action"`
	Alert       *database.Alert `json:"alert,omitempty"`
	AlertIDs    []string        `json:"alertIds,omitempty"`
	Modified    int64           `json:"modified,omitempty"`
	TriggeredBy string          `json:"triggeredBy,omitempty"`
}

// NotificationPayload is the data of personal and global notifications
type NotificationPayload struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority string `json:"priority,omitempty"`
}

// SystemStatusPayload is the data of system-status events
type SystemStatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
