package models

import (
	"fmt"
	"time"
)

// Service identifies a remote system the core talks to.
type Service string

const (
	ServiceMail     Service = "mail"
	ServiceDocStore Service = "docstore"
	ServiceCalendar Service = "calendar"
	ServiceAI       Service = "ai"
)

// Services lists every remote service in a stable order.
var Services = []Service{ServiceMail, ServiceDocStore, ServiceCalendar, ServiceAI}

func (s Service) Valid() bool {
	switch s {
	case ServiceMail, ServiceDocStore, ServiceCalendar, ServiceAI:
		return true
	default:
		return false
	}
}

func ParseService(raw string) (Service, error) {
	s := Service(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown service %q", raw)
	}
	return s, nil
}

// OperationContext describes one logical operation inside a unit of work.
type OperationContext struct {
	CorrelationID string    `json:"correlation_id"`
	Service       Service   `json:"service,omitempty"`
	Operation     string    `json:"operation"`
	StartedAt     time.Time `json:"started_at"`
}
