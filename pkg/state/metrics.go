package state

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks registry runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Event counters
	EventsApplied atomic.Int64 // update events routed to entities
	EventsSkipped atomic.Int64 // events dropped for missing addressing

	// Resolution counters
	ServerRecomputes  atomic.Int64 // server-scope commits
	ChannelRecomputes atomic.Int64 // channel-scope commits
	ShortCircuits     atomic.Int64 // recomputations that produced unchanged bits
	Invalidations     atomic.Int64 // member-cache invalidation signals sent
	UnresolvedRefs    atomic.Int64 // reference lookups that found no target

	// Entity counters
	ServersTracked  atomic.Int64 // current servers in the registry
	UsersTracked    atomic.Int64 // current user instances in the registry
	ChannelsTracked atomic.Int64 // current channels in the registry
	RolesTracked    atomic.Int64 // current roles in the registry
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable
// struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	EventsApplied int64 `json:"events_applied"`
	EventsSkipped int64 `json:"events_skipped"`

	ServerRecomputes  int64 `json:"server_recomputes"`
	ChannelRecomputes int64 `json:"channel_recomputes"`
	ShortCircuits     int64 `json:"short_circuits"`
	Invalidations     int64 `json:"invalidations"`
	UnresolvedRefs    int64 `json:"unresolved_refs"`

	ServersTracked  int64 `json:"servers_tracked"`
	UsersTracked    int64 `json:"users_tracked"`
	ChannelsTracked int64 `json:"channels_tracked"`
	RolesTracked    int64 `json:"roles_tracked"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		EventsApplied:     m.EventsApplied.Load(),
		EventsSkipped:     m.EventsSkipped.Load(),
		ServerRecomputes:  m.ServerRecomputes.Load(),
		ChannelRecomputes: m.ChannelRecomputes.Load(),
		ShortCircuits:     m.ShortCircuits.Load(),
		Invalidations:     m.Invalidations.Load(),
		UnresolvedRefs:    m.UnresolvedRefs.Load(),
		ServersTracked:    m.ServersTracked.Load(),
		UsersTracked:      m.UsersTracked.Load(),
		ChannelsTracked:   m.ChannelsTracked.Load(),
		RolesTracked:      m.RolesTracked.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"events", s.EventsApplied,
		"server_recomputes", s.ServerRecomputes,
		"channel_recomputes", s.ChannelRecomputes,
		"short_circuits", s.ShortCircuits,
		"invalidations", s.Invalidations,
		"unresolved_refs", s.UnresolvedRefs,
		"users", s.UsersTracked,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
