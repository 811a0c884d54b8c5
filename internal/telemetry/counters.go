// Package telemetry holds the sign-in counters and the OpenTelemetry setup.
//
// Counting goes through the Sink interface so the sign-in flow never touches
// a global registry. Production wires an OTel meter; tests pass a fake.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// Counter names as they appear on dashboards.
const (
	SignInAttempts         = "itmo-auth.sign_in_attempts"
	TokenNotReceived       = "itmo-auth.token_not_received"
	UserProfileNotReceived = "itmo-auth.user_profile_not_received"
	Sessions               = "auth.sessions"
	UniqueUsers            = "users.unique"
)

// Names lists every counter the service emits.
var Names = []string{
	SignInAttempts,
	TokenNotReceived,
	UserProfileNotReceived,
	Sessions,
	UniqueUsers,
}

var descriptions = map[string]string{
	SignInAttempts:         "Authorization code exchanges attempted",
	TokenNotReceived:       "Exchanges that did not yield an access token",
	UserProfileNotReceived: "Profile fetches that failed or returned no ISU",
	Sessions:               "Sign-in attempts audited",
	UniqueUsers:            "Users created on their first sign-in",
}

// Sink receives counter increments.
type Sink interface {
	Increment(ctx context.Context, name string)
}

// Nop discards every increment.
type Nop struct{}

func (Nop) Increment(context.Context, string) {}

var (
	_ Sink = Nop{}
	_ Sink = (*MeterSink)(nil)
)

// MeterSink records counters as OTel Int64Counters. Instruments are created
// once per name and reused.
type MeterSink struct {
	meter metric.Meter

	mu       sync.RWMutex
	counters map[string]metric.Int64Counter
}

// NewMeterSink registers the known counters on meter up front so they are
// exported at zero before the first sign-in.
func NewMeterSink(meter metric.Meter) (*MeterSink, error) {
	s := &MeterSink{
		meter:    meter,
		counters: make(map[string]metric.Int64Counter, len(Names)),
	}
	for _, name := range Names {
		if _, err := s.counter(name); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Increment adds one to the named counter. Unknown names get a counter on
// first use. Instrument errors are dropped; a broken meter must not fail a
// sign-in.
func (s *MeterSink) Increment(ctx context.Context, name string) {
	c, err := s.counter(name)
	if err != nil {
		return
	}
	c.Add(ctx, 1)
}

func (s *MeterSink) counter(name string) (metric.Int64Counter, error) {
	s.mu.RLock()
	c, ok := s.counters[name]
	s.mu.RUnlock()
	if ok {
		return c, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[name]; ok {
		return c, nil
	}

	c, err := s.meter.Int64Counter(name,
		metric.WithDescription(descriptions[name]),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	s.counters[name] = c
	return c, nil
}
