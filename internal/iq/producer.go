// Package iq implements the IQ Streaming Core (C7-C9): a real-time
// paced sample producer, a signal mixer that overlays a jamming
// waveform, and an RTL-TCP broadcaster that fans frames out to
// connected clients. It mirrors the exercise engine's shape — a
// clocked producer feeding many subscribers with mid-stream control
// updates — grounded on the same producer/scheduler/fan-out pattern.
package iq

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"
	"time"
)

// ProducerState is the SampleProducer lifecycle of §4.6.
type ProducerState int

const (
	Stopped ProducerState = iota
	Playing
	Paused
)

// Producer loads a file of complex 32-bit-float pairs (8 bytes per
// sample, little-endian, I then Q) into memory and serves fixed-size
// chunks at real-time rate, looping seamlessly at end of file.
type Producer struct {
	mu         sync.Mutex
	samples    []complex64
	pos        int
	sampleRate int
	state      ProducerState

	// sleep is time.Sleep by default; tests override it to avoid real
	// pacing delays while still exercising the real chunk/wrap logic.
	sleep func(time.Duration)
}

// LoadProducer reads path as interleaved little-endian float32 I/Q
// pairs, matching the .iq format read by np.fromfile(dtype=complex64)
// in the original source.
func LoadProducer(path string, sampleRate int) (*Producer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read iq file %s: %w", path, err)
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("iq file %s: length %d not a multiple of 8 bytes", path, len(raw))
	}

	n := len(raw) / 8
	samples := make([]complex64, n)
	for i := 0; i < n; i++ {
		off := i * 8
		re := math.Float32frombits(binary.LittleEndian.Uint32(raw[off : off+4]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		samples[i] = complex(re, im)
	}

	return &Producer{
		samples:    samples,
		sampleRate: sampleRate,
		state:      Stopped,
		sleep:      time.Sleep,
	}, nil
}

// Play transitions the producer to Playing.
func (p *Producer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Playing
}

// Pause transitions the producer to Paused without resetting position.
func (p *Producer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Paused
}

// Stop transitions the producer to Stopped and rewinds to position 0.
func (p *Producer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Stopped
	p.pos = 0
}

// State returns the current ProducerState.
func (p *Producer) State() ProducerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// NextChunk returns the next n samples and advances position, wrapping
// to 0 at end of file for a seamless loop. When not Playing it sleeps
// a 100ms backoff and returns (nil, false), per §4.6. Pacing: on a
// successful chunk it sleeps n/sample_rate seconds before returning,
// giving real-time rate.
func (p *Producer) NextChunk(n int) ([]complex64, bool) {
	p.mu.Lock()
	if p.state != Playing {
		p.mu.Unlock()
		p.sleep(100 * time.Millisecond)
		return nil, false
	}

	chunk := make([]complex64, n)
	filled := 0
	for filled < n {
		remaining := len(p.samples) - p.pos
		take := n - filled
		if take > remaining {
			take = remaining
		}
		copy(chunk[filled:filled+take], p.samples[p.pos:p.pos+take])
		p.pos += take
		filled += take
		if p.pos >= len(p.samples) {
			p.pos = 0
		}
	}
	p.mu.Unlock()

	p.sleep(time.Duration(float64(n) / float64(p.sampleRate) * float64(time.Second)))
	return chunk, true
}

// Len returns the total sample count, for test assertions about wraps.
func (p *Producer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.samples)
}
