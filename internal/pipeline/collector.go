package pipeline

import (
	"slices"
	"time"

	"github.com/couchcryptid/me-compute/internal/domain"
	"github.com/couchcryptid/me-compute/internal/observability"
)

// released is an event whose measurements are ready to aggregate.
type released struct {
	event        domain.EventInfo
	measurements []domain.WaveformMeasurement
	outcome      string
	sources      []*trackedMessage
}

type pendingEvent struct {
	event        domain.EventInfo
	expected     int
	measurements []domain.WaveformMeasurement
	sources      []*trackedMessage
	lastSeen     time.Time
}

// collector holds station outcomes per event until the event is complete,
// idle for longer than timeout, or drained. It is not safe for concurrent
// use; the pipeline loop owns it.
type collector struct {
	timeout time.Duration
	pending map[string]*pendingEvent
}

func newCollector(timeout time.Duration) *collector {
	return &collector{
		timeout: timeout,
		pending: make(map[string]*pendingEvent),
	}
}

// add records one outcome, rejections included, and the message it came
// from. A repeated channel replaces the earlier outcome. The event is
// released once it holds as many outcomes as the input's EventWaveformCount.
func (c *collector) add(in domain.WaveformInput, m domain.WaveformMeasurement, src *trackedMessage, now time.Time) (released, bool) {
	p, ok := c.pending[in.Event.ID]
	if !ok {
		p = &pendingEvent{event: in.Event}
		c.pending[in.Event.ID] = p
	}
	if p.expected == 0 {
		p.expected = in.EventWaveformCount
	}
	p.lastSeen = now
	if src != nil {
		p.sources = append(p.sources, src)
	}

	id := m.ChannelID()
	if i := slices.IndexFunc(p.measurements, func(x domain.WaveformMeasurement) bool { return x.ChannelID() == id }); i >= 0 {
		p.measurements[i] = m
	} else {
		p.measurements = append(p.measurements, m)
	}

	if p.expected > 0 && len(p.measurements) >= p.expected {
		delete(c.pending, in.Event.ID)
		return p.release(observability.OutcomeComplete), true
	}
	return released{}, false
}

// expire releases every event that has seen no outcome for timeout.
func (c *collector) expire(now time.Time) []released {
	var out []released
	for _, id := range c.ids() {
		p := c.pending[id]
		if now.Sub(p.lastSeen) < c.timeout {
			continue
		}
		delete(c.pending, id)
		out = append(out, p.release(observability.OutcomeTimeout))
	}
	return out
}

// drain releases every pending event.
func (c *collector) drain() []released {
	out := make([]released, 0, len(c.pending))
	for _, id := range c.ids() {
		p := c.pending[id]
		delete(c.pending, id)
		out = append(out, p.release(observability.OutcomeDrained))
	}
	return out
}

func (p *pendingEvent) release(outcome string) released {
	return released{event: p.event, measurements: p.measurements, outcome: outcome, sources: p.sources}
}

func (c *collector) size() int {
	return len(c.pending)
}

// ids returns the pending event ids sorted, so releases are ordered.
func (c *collector) ids() []string {
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
