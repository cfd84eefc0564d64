package hub

import (
	"github.com/charmbracelet/log"

	"node.town/hark/metrics"
)

type Broadcaster struct {
	registry *Registry
	logger   *log.Logger
	metrics  *metrics.Metrics
}

func NewBroadcaster(
	registry *Registry,
	logger *log.Logger,
	m *metrics.Metrics,
) *Broadcaster {
	return &Broadcaster{registry: registry, logger: logger, metrics: m}
}

// Broadcast sends ev once to every registered connection and returns how
// many received it. Connections whose send fails are removed and closed
// after the pass; they never stop delivery to the rest.
func (b *Broadcaster) Broadcast(ev Event) int {
	data, err := ev.Marshal()
	if err != nil {
		b.logger.Error("encode event", "type", ev.Type, "error", err)
		return 0
	}

	var failed []Conn
	delivered := 0
	for _, c := range b.registry.Snapshot() {
		if err := c.Send(data); err != nil {
			b.logger.Warn(
				"send failed",
				"client", c.ID(),
				"addr", c.RemoteAddr(),
				"error", err,
			)
			failed = append(failed, c)
			continue
		}
		delivered++
	}

	for _, c := range failed {
		b.registry.Remove(c)
		_ = c.Close()
		b.metrics.SendFailures.Inc()
	}
	if len(failed) > 0 {
		b.metrics.Clients.Set(float64(b.registry.Len()))
	}

	b.metrics.RecordEvent(string(ev.Type))
	b.logger.Debug(
		"broadcast",
		"type", ev.Type,
		"text", ev.Text,
		"delivered", delivered,
		"failed", len(failed),
	)
	return delivered
}
