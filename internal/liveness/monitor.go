// Package liveness reclaims connections that stopped answering heartbeats.
package liveness

import (
	"context"
	"time"

	"github.com/me-niyas-ali/stream/internal/domain"
	"github.com/me-niyas-ali/stream/internal/metrics"
	pkglog "github.com/me-niyas-ali/stream/pkg/log"
)

// ConnectionSource lists the connections to probe.
type ConnectionSource interface {
	Connections() []domain.Connection
}

// Monitor pings every connection once per interval. A connection that has
// not confirmed liveness since the previous sweep is terminated, so a dead
// peer is gone within two intervals.
type Monitor struct {
	source   ConnectionSource
	interval time.Duration
}

// NewMonitor creates a new Monitor.
func NewMonitor(source ConnectionSource, interval time.Duration) *Monitor {
	return &Monitor{
		source:   source,
		interval: interval,
	}
}

// Run sweeps until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	l := pkglog.L()
	l.Info().Dur("interval", m.interval).Msg("liveness monitor started")

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("liveness monitor stopped")
			return
		case <-ticker.C:
			probed, terminated := m.Sweep()
			if terminated > 0 {
				l.Info().Int("probed", probed).Int("terminated", terminated).Msg("liveness sweep")
			}
		}
	}
}

// Sweep runs one probe round.
func (m *Monitor) Sweep() (probed, terminated int) {
	l := pkglog.L()

	for _, c := range m.source.Connections() {
		if !c.Session().TakeAlive() {
			l.Info().Str(pkglog.FieldClientID, c.ID()).Msg("connection missed heartbeat, terminating")
			m.terminate(c)
			terminated++
			continue
		}
		if err := c.Ping(); err != nil {
			l.Debug().Err(err).Str(pkglog.FieldClientID, c.ID()).Msg("ping failed, terminating")
			m.terminate(c)
			terminated++
			continue
		}
		probed++
	}
	return probed, terminated
}

func (m *Monitor) terminate(c domain.Connection) {
	metrics.LivenessTerminations.Inc()
	c.Terminate()
}
