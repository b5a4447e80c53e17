package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultRoute = "default"

// SummarySender delivers a consultation summary to the team identified by
// routingKey.
type SummarySender interface {
	SendSummary(ctx context.Context, appointmentID uuid.UUID, documentRefs []string, routingKey string) error
}

// RoutingTable maps a patient's organizational affiliation to a routing key.
// Lookups are case-insensitive and fall back to the "default" entry.
type RoutingTable struct {
	routes map[string]string
}

func NewRoutingTable(routes map[string]string) RoutingTable {
	t := RoutingTable{routes: make(map[string]string, len(routes))}
	for k, v := range routes {
		t.routes[normalize(k)] = v
	}
	return t
}

// ParseRoutingTable reads a JSON object such as
// {"north-health":"summaries-north@clinic.example","default":"records@clinic.example"}.
// An empty string yields an empty table.
func ParseRoutingTable(raw string) (RoutingTable, error) {
	if strings.TrimSpace(raw) == "" {
		return NewRoutingTable(nil), nil
	}
	var routes map[string]string
	if err := json.Unmarshal([]byte(raw), &routes); err != nil {
		return RoutingTable{}, fmt.Errorf("parse summary routing table: %w", err)
	}
	return NewRoutingTable(routes), nil
}

// RouteFor returns the routing key for an affiliation, the default route when
// the affiliation is unknown or empty, and false when neither exists.
func (t RoutingTable) RouteFor(affiliation string) (string, bool) {
	if key, ok := t.routes[normalize(affiliation)]; ok && affiliation != "" {
		return key, true
	}
	key, ok := t.routes[defaultRoute]
	return key, ok
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NoopSender logs and drops summaries. Used when no sender address is set.
type NoopSender struct {
	Logger zerolog.Logger
}

func (n NoopSender) SendSummary(_ context.Context, appointmentID uuid.UUID, documentRefs []string, routingKey string) error {
	n.Logger.Debug().
		Str("appointment_id", appointmentID.String()).
		Int("documents", len(documentRefs)).
		Str("routing_key", routingKey).
		Msg("summary notification disabled, dropping")
	return nil
}
