package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sentinel"

const (
	EventRegister = "register"
	EventLogin    = "login"
	EventToken    = "token"
)

// Auth counts authentication outcomes by event and outcome label.
type Auth struct {
	events *prometheus.CounterVec
}

func NewAuth(registerer prometheus.Registerer) (*Auth, error) {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "events_total",
		Help:      "Authentication events by type and outcome.",
	}, []string{"event", "outcome"})

	if err := registerer.Register(events); err != nil {
		return nil, err
	}
	return &Auth{events: events}, nil
}

// Record is safe on a nil receiver so callers without metrics need no guard.
func (a *Auth) Record(event, outcome string) {
	if a == nil {
		return
	}
	a.events.WithLabelValues(event, outcome).Inc()
}
