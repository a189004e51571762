package notify

import (
	"database/sql"
	"encoding/json"
	"slices"

	"github.com/pitabwire/frame/data"

	"github.com/tablecall/tablecall/pkg/events"
)

// DefaultEventTypes are delivered to endpoints that do not choose their own.
var DefaultEventTypes = EventTypesJSON{
	events.OrderCompleted,
	events.ReservationCompleted,
	events.PersistenceFailed,
}

// StaffEndpoint is a kitchen display, front desk tablet or chat bridge that
// receives completed orders and reservations.
type StaffEndpoint struct {
	data.BaseModel

	Name          string         `gorm:"type:varchar(255);not null"        json:"name"`
	URL           string         `gorm:"type:varchar(2048);not null"       json:"url"`
	Secret        string         `gorm:"type:varchar(512);not null"        json:"-"`
	EventTypes    EventTypesJSON `gorm:"type:jsonb;default:'[]'"           json:"event_types"`
	IsActive      bool           `gorm:"default:true"                      json:"is_active"`
	Description   string         `gorm:"type:text"                         json:"description,omitempty"`
	FailureCount  int            `gorm:"default:0"                         json:"failure_count"`
	LastFailureAt sql.NullTime   `json:"last_failure_at,omitempty"`
	CircuitState  string         `gorm:"type:varchar(20);default:'closed'" json:"circuit_state"`
}

func (StaffEndpoint) TableName() string { return "staff_endpoints" }

// EventTypesJSON is a custom GORM type for JSONB storage of event types.
type EventTypesJSON []events.EventType

func (e EventTypesJSON) Value() (any, error) {
	b, err := json.Marshal(e)
	return string(b), err
}

func (e *EventTypesJSON) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, e)
	case string:
		return json.Unmarshal([]byte(v), e)
	default:
		*e = EventTypesJSON{}
		return nil
	}
}

// Contains checks whether the list includes the given event type.
func (e EventTypesJSON) Contains(et events.EventType) bool {
	return slices.Contains(e, et)
}

// Delivery statuses.
const (
	DeliverySuccess = "success"
	DeliveryFailed  = "failed"
)

// DeliveryAttempt records one attempt to deliver an event to an endpoint.
type DeliveryAttempt struct {
	data.BaseModel

	EndpointID    string `gorm:"type:varchar(50);not null;index:idx_da_endpoint" json:"endpoint_id"`
	EventID       string `gorm:"type:varchar(50);not null"                        json:"event_id"`
	EventType     string `gorm:"type:varchar(100);not null"                       json:"event_type"`
	ResponseCode  int    `gorm:"default:0"                                        json:"response_code"`
	ResponseBody  string `gorm:"type:text"                                        json:"-"`
	AttemptNumber int    `gorm:"default:1"                                        json:"attempt_number"`
	Status        string `gorm:"type:varchar(20);not null;index:idx_da_status"    json:"status"`
	Error         string `gorm:"type:text"                                        json:"error,omitempty"`
	DurationMs    int64  `gorm:"default:0"                                        json:"duration_ms"`
}

func (DeliveryAttempt) TableName() string { return "delivery_attempts" }

// DeadLetter holds events that exhausted all delivery retries.
type DeadLetter struct {
	data.BaseModel

	EndpointID string `gorm:"type:varchar(50);not null;index:idx_dl_endpoint" json:"endpoint_id"`
	EventID    string `gorm:"type:varchar(50);not null"                        json:"event_id"`
	EventType  string `gorm:"type:varchar(100);not null"                       json:"event_type"`
	Payload    string `gorm:"type:text;not null"                               json:"payload"`
	LastError  string `gorm:"type:text"                                        json:"last_error"`
	Attempts   int    `gorm:"default:0"                                        json:"attempts"`
	Replayable bool   `gorm:"default:true"                                     json:"replayable"`
}

func (DeadLetter) TableName() string { return "dead_letters" }
