package fastnet

import (
	"time"

	"github.com/google/uuid"
)

// RoundtripEstimator tracks outstanding echo probes and maintains a
// rolling average RTT (C6). One instance lives per established
// connection.
type RoundtripEstimator struct {
	outstanding map[uuid.UUID]time.Time
	samples     []uint32
	required    int
	lastEstimate *uint32
}

// NewRoundtripEstimator builds an estimator requiring the default number
// of samples per estimate.
func NewRoundtripEstimator() *RoundtripEstimator {
	return &RoundtripEstimator{
		outstanding: make(map[uuid.UUID]time.Time),
		required:    RTTRequiredSamples,
	}
}

// Tick drops probes older than RTTProbeTTL and, if fewer than required
// probes are outstanding, returns new probe UUIDs to transmit as Echo
// packets (up to RTTOutstandingCap at a time).
func (r *RoundtripEstimator) Tick(now time.Time) []uuid.UUID {
	for id, sentAt := range r.outstanding {
		if now.Sub(sentAt) > RTTProbeTTL {
			delete(r.outstanding, id)
		}
	}

	need := r.required - len(r.outstanding)
	if need <= 0 {
		return nil
	}
	if need > RTTOutstandingCap {
		need = RTTOutstandingCap
	}

	var probes []uuid.UUID
	for i := 0; i < need; i++ {
		id := uuid.New()
		r.outstanding[id] = now
		probes = append(probes, id)
	}
	return probes
}

// HandleEcho records the roundtrip of a returned probe. Once enough
// samples have accumulated, it returns the mean RTT in milliseconds and
// clears the sample window; otherwise it returns (0, false).
func (r *RoundtripEstimator) HandleEcho(probe uuid.UUID, now time.Time) (uint32, bool) {
	sentAt, ok := r.outstanding[probe]
	if !ok {
		return 0, false
	}
	delete(r.outstanding, probe)

	elapsed := uint32(now.Sub(sentAt).Milliseconds())
	r.samples = append(r.samples, elapsed)

	if len(r.samples) < r.required {
		return 0, false
	}

	var sum uint32
	for _, s := range r.samples {
		sum += s
	}
	mean := sum / uint32(len(r.samples))
	r.samples = r.samples[:0]
	r.lastEstimate = &mean
	return mean, true
}

// LastEstimate returns the most recent roundtrip estimate, if any.
func (r *RoundtripEstimator) LastEstimate() (uint32, bool) {
	if r.lastEstimate == nil {
		return 0, false
	}
	return *r.lastEstimate, true
}
