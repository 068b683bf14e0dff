package acquisition

import "github.com/racepulse/telemetry-relay-go/pkg/model"

// ring is a bounded buffer of the most recent samples, kept locally
// for after-the-fact analysis independent of the transport.
type ring struct {
	buf  []*model.TelemetrySample
	next int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]*model.TelemetrySample, size)}
}

func (r *ring) add(s *model.TelemetrySample) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns the buffered samples in insertion order.
func (r *ring) snapshot() []*model.TelemetrySample {
	if !r.full {
		out := make([]*model.TelemetrySample, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]*model.TelemetrySample, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
