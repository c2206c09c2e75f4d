package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type Type string

const (
	Activated Type = "activated"
	Renewed   Type = "renewed"
	Revoked   Type = "revoked"
	Enabled   Type = "enabled"
)

// LicenseEvent is published after a lifecycle transaction commits.
type LicenseEvent struct {
	Type        Type       `json:"type"`
	LicenseKey  string     `json:"license_key"`
	ProductID   int64      `json:"software_id"`
	ProductName string     `json:"software_name"`
	MachineID   string     `json:"machine_id"`
	AdapterID   string     `json:"mac_address"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Active      bool       `json:"is_active"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
}

type NATSPublisher struct {
	conn          Conn
	subjectPrefix string
	maxRetries    int
}

func NewNATSPublisher(conn Conn, subjectPrefix string, maxRetries int) *NATSPublisher {
	if subjectPrefix == "" {
		subjectPrefix = "license.events"
	}
	return &NATSPublisher{
		conn:          conn,
		subjectPrefix: subjectPrefix,
		maxRetries:    maxRetries,
	}
}

func (p *NATSPublisher) Subject(t Type) string {
	return p.subjectPrefix + "." + string(t)
}

func (p *NATSPublisher) Publish(ctx context.Context, evt LicenseEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	subject := p.Subject(evt.Type)
	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(subject, data)
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
		}
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}

// Connect dials NATS with the service name attached.
func Connect(url, name string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	return nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
}
