package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"donorlink.org/internal/api"
	"donorlink.org/internal/domain"
)

const (
	EventContributionStatus = "contribution:status-updated"
	EventNotificationNew    = "notification:new"
	statsSuffix             = ":stats:updated"
)

var (
	ErrUnknownEvent   = errors.New("realtime: unknown event")
	ErrMalformedEvent = errors.New("realtime: malformed event payload")
)

// Envelope is the wire frame of the push channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Event is the closed set of push deltas.
type Event interface {
	Name() string
}

// StatsUpdated replaces the aggregate counters of one scope.
type StatsUpdated struct {
	Stats *domain.Stats
}

func (e StatsUpdated) Name() string { return e.Stats.Scope + statsSuffix }

// ContributionStatusUpdated carries the new status of one contribution.
type ContributionStatusUpdated struct {
	Contribution domain.Contribution
}

func (ContributionStatusUpdated) Name() string { return EventContributionStatus }

// NotificationNew carries a freshly created notification.
type NotificationNew struct {
	Notification domain.Notification
}

func (NotificationNew) Name() string { return EventNotificationNew }

// StatsEvent returns the event name for scope, e.g. "donor:stats:updated".
func StatsEvent(scope string) string { return scope + statsSuffix }

// Decode turns an envelope into a typed event.
func Decode(env Envelope) (Event, error) {
	name := strings.TrimSpace(env.Event)
	switch {
	case name == EventContributionStatus:
		c, ok := api.DecodeContribution(env.Data)
		if !ok || c.Status == "" {
			return nil, fmt.Errorf("%w: %s", ErrMalformedEvent, name)
		}
		return ContributionStatusUpdated{Contribution: c}, nil
	case name == EventNotificationNew:
		n, ok := api.DecodeNotification(env.Data)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMalformedEvent, name)
		}
		return NotificationNew{Notification: n}, nil
	case strings.HasSuffix(name, statsSuffix) && len(name) > len(statsSuffix):
		s, ok := api.DecodeStats(env.Data)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMalformedEvent, name)
		}
		if s.Scope == "" {
			s.Scope = strings.TrimSuffix(name, statsSuffix)
		}
		return StatsUpdated{Stats: s}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

// Encode builds the wire envelope for ev. The reference backend uses it to
// publish deltas.
func Encode(ev Event) (Envelope, error) {
	var payload any
	switch e := ev.(type) {
	case StatsUpdated:
		payload = e.Stats
	case ContributionStatusUpdated:
		payload = e.Contribution
	case NotificationNew:
		payload = e.Notification
	default:
		return Envelope{}, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: ev.Name(), Data: data}, nil
}
