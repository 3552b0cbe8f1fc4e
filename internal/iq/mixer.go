package iq

import (
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
)

// JammingMode selects the waveform SignalMixer overlays onto the
// clean signal. None means pass-through.
type JammingMode string

const (
	JammingNone  JammingMode = "none"
	JammingCW    JammingMode = "cw"
	JammingNoise JammingMode = "noise"
	JammingSweep JammingMode = "sweep"
	JammingPulse JammingMode = "pulse"
	JammingChirp JammingMode = "chirp"
)

// Waveform reference constants, grounded on the original signal
// mixer's generator functions.
const (
	cwOffsetHz      = 50_000.0
	sweepRateHzPerS = 1_000_000.0
	chirpRateHzPerS = 500_000.0
	pulseOnSamples  = 1024
	pulsePeriod     = 4096
	pulseCarrierHz  = 1_000.0

	cwAmplitude    = 0.5
	noiseAmplitude = 0.5
	sweepAmplitude = 0.5
	chirpAmplitude = 0.5
	pulseAmplitude = 0.7
)

type jammingConfig struct {
	mode      JammingMode
	amplitude float64 // linear, derived from dB via 10^(dB/20)
}

// Mixer applies an active jamming waveform to each frame it mixes.
// Mode updates are safe to call concurrently with Mix: the config is
// swapped via an atomic pointer, so an in-flight Mix call always sees
// a consistent (mode, amplitude) pair and never a torn update
// mid-frame, per §4.6/§5.
type Mixer struct {
	cfg atomic.Pointer[jammingConfig]
	idx atomic.Int64 // running sample index, for phase continuity across frames

	sampleRate float64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewMixer creates a Mixer with jamming cleared.
func NewMixer(sampleRate float64, seed int64) *Mixer {
	m := &Mixer{sampleRate: sampleRate, rng: rand.New(rand.NewSource(seed))}
	m.cfg.Store(&jammingConfig{mode: JammingNone})
	return m
}

// Set installs a jamming mode at the given power in dB. Takes effect
// on the next Mix call.
func (m *Mixer) Set(mode JammingMode, powerDB float64) {
	m.cfg.Store(&jammingConfig{mode: mode, amplitude: math.Pow(10, powerDB/20)})
}

// Clear removes any active jamming; subsequent frames pass through
// bit-exact.
func (m *Mixer) Clear() {
	m.cfg.Store(&jammingConfig{mode: JammingNone})
}

// Mode returns the currently configured jamming mode.
func (m *Mixer) Mode() JammingMode {
	return m.cfg.Load().mode
}

// Mix returns frame unchanged if jamming is None, otherwise a new
// slice with amplitude*jamming added to each sample.
func (m *Mixer) Mix(frame []complex64) []complex64 {
	cfg := m.cfg.Load()
	if cfg.mode == JammingNone {
		return frame
	}

	start := m.idx.Add(int64(len(frame))) - int64(len(frame))
	jam := m.generate(cfg.mode, start, len(frame))

	out := make([]complex64, len(frame))
	for i, v := range frame {
		out[i] = v + complex64(complex(real(jam[i])*cfg.amplitude, imag(jam[i])*cfg.amplitude))
	}
	return out
}

func (m *Mixer) generate(mode JammingMode, start int64, n int) []complex128 {
	out := make([]complex128, n)
	switch mode {
	case JammingCW:
		for i := 0; i < n; i++ {
			t := float64(start+int64(i)) / m.sampleRate
			phase := 2 * math.Pi * cwOffsetHz * t
			out[i] = complex(cwAmplitude*math.Cos(phase), cwAmplitude*math.Sin(phase))
		}
	case JammingNoise:
		m.rngMu.Lock()
		for i := 0; i < n; i++ {
			out[i] = complex(noiseAmplitude*m.rng.NormFloat64(), noiseAmplitude*m.rng.NormFloat64())
		}
		m.rngMu.Unlock()
	case JammingSweep:
		for i := 0; i < n; i++ {
			t := float64(start+int64(i)) / m.sampleRate
			// Instantaneous frequency f(t) = sweepRate*t is linear in
			// sample index; phase is its integral.
			phase := math.Pi * sweepRateHzPerS * t * t
			out[i] = complex(sweepAmplitude*math.Cos(phase), sweepAmplitude*math.Sin(phase))
		}
	case JammingPulse:
		for i := 0; i < n; i++ {
			idx := start + int64(i)
			t := float64(idx) / m.sampleRate
			phase := 2 * math.Pi * pulseCarrierHz * t
			gate := 0.0
			if mod := idx % pulsePeriod; mod < pulseOnSamples {
				gate = 1.0
			}
			out[i] = complex(pulseAmplitude*gate*math.Cos(phase), pulseAmplitude*gate*math.Sin(phase))
		}
	case JammingChirp:
		for i := 0; i < n; i++ {
			t := float64(start+int64(i)) / m.sampleRate
			// Quadratic phase (linear FM): instantaneous frequency
			// f(t) = chirpRate*t, phase(t) = pi*chirpRate*t^2.
			phase := math.Pi * chirpRateHzPerS * t * t
			out[i] = complex(chirpAmplitude*math.Cos(phase), chirpAmplitude*math.Sin(phase))
		}
	}
	return out
}
