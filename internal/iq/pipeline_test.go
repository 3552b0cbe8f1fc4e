package iq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/scip-range/exercise-orchestrator/internal/bus"
	"github.com/scip-range/exercise-orchestrator/internal/events"
)

// TestPipelineJammingControlUpdatesMixer matches the §8 concrete
// scenario: with the pipeline running, a jamming_set control message
// causes subsequent frames to carry added content, and jamming_clear
// returns subsequent frames to bit-exact input.
func TestPipelineJammingControlUpdatesMixer(t *testing.T) {
	samples := make([]complex64, 256)
	path := writeIQFile(t, samples)
	producer, err := LoadProducer(path, 100_000)
	if err != nil {
		t.Fatalf("LoadProducer: %v", err)
	}
	producer.sleep = func(time.Duration) {}
	producer.Play()

	mixer := NewMixer(100_000, 1)
	memBus := bus.NewMemoryBus()
	evBus := events.New()

	pipeline := &Pipeline{
		Producer: producer,
		Mixer:    mixer,
		Bus:      memBus,
		Scenario: "drill",
	}

	// Exercise the control handler directly (same code path Run wires
	// to the bus subscription) rather than racing a background loop.
	handler := pipeline.handleControl(evBus)

	before := mixer.Mix(make([]complex64, 4))
	for _, s := range before {
		if s != 0 {
			t.Fatalf("expected clean passthrough before any control message, got %v", s)
		}
	}

	setMsg, _ := json.Marshal(controlMessage{Kind: "jamming_set", Mode: JammingNoise, PowerDB: -10})
	handler(setMsg)

	jammed := mixer.Mix(make([]complex64, 4))
	allZero := true
	for _, s := range jammed {
		if s != 0 {
			allZero = false
		}
	}
	if allZero {
		t.Fatal("expected jamming_set to cause subsequent frames to carry added content")
	}

	clearMsg, _ := json.Marshal(controlMessage{Kind: "jamming_clear"})
	handler(clearMsg)

	after := mixer.Mix(make([]complex64, 4))
	for _, s := range after {
		if s != 0 {
			t.Fatalf("expected bit-exact passthrough after jamming_clear, got %v", s)
		}
	}
}

func TestPipelineRunRespectsContextCancellation(t *testing.T) {
	samples := make([]complex64, 64)
	path := writeIQFile(t, samples)
	producer, err := LoadProducer(path, 100_000)
	if err != nil {
		t.Fatalf("LoadProducer: %v", err)
	}
	producer.sleep = func(time.Duration) {}
	producer.Play()

	broadcaster, err := NewBroadcaster("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("NewBroadcaster: %v", err)
	}
	defer broadcaster.Close()

	pipeline := &Pipeline{
		Producer:    producer,
		Mixer:       NewMixer(100_000, 1),
		Broadcaster: broadcaster,
		Bus:         bus.NewMemoryBus(),
		Scenario:    "drill",
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pipeline.Run(ctx, events.New()) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop after context cancellation")
	}
}
