package iq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/scip-range/exercise-orchestrator/internal/bus"
	"github.com/scip-range/exercise-orchestrator/internal/events"
)

// ChunkSize is the fixed frame size pulled from the producer each
// streaming iteration.
const ChunkSize = 16384

// controlMessage is the wire shape accepted on the IQ control topic.
// Kind selects which field is meaningful: "play", "pause", "stop",
// "jamming_set" (Mode + PowerDB), or "jamming_clear".
type controlMessage struct {
	Kind    string      `json:"kind"`
	Mode    JammingMode `json:"mode,omitempty"`
	PowerDB float64     `json:"power_db,omitempty"`
}

// Pipeline wires SampleProducer → SignalMixer → RTLBroadcaster and a
// control-channel subscriber that mutates producer/mixer state from
// MessageBus commands, matching the concurrency model of §5: a
// streaming loop task plus a control task, sharing the mixer's mode
// (guarded by its atomic swap) and the producer's play state (guarded
// by the producer's mutex).
type Pipeline struct {
	Producer    *Producer
	Mixer       *Mixer
	Broadcaster *Broadcaster
	Bus         bus.Bus
	Scenario    string
	Logger      *slog.Logger
}

// Run starts the streaming loop and the control subscriber; it blocks
// until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, eventBus *events.Bus) error {
	unsubscribe, err := p.Bus.Subscribe(ctx, p.controlTopic(), p.handleControl(eventBus))
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		chunk, ok := p.Producer.NextChunk(ChunkSize)
		if !ok {
			continue
		}
		mixed := p.Mixer.Mix(chunk)
		p.Broadcaster.Broadcast(mixed)
	}
}

func (p *Pipeline) controlTopic() string {
	return fmt.Sprintf(bus.TopicIQCtrl, p.Scenario)
}

func (p *Pipeline) handleControl(eventBus *events.Bus) func(payload []byte) {
	return func(payload []byte) {
		var msg controlMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			p.logger().Warn("malformed iq control message", "scenario", p.Scenario, "error", err)
			return
		}

		switch msg.Kind {
		case "play":
			p.Producer.Play()
		case "pause":
			p.Producer.Pause()
		case "stop":
			p.Producer.Stop()
		case "jamming_set":
			p.Mixer.Set(msg.Mode, msg.PowerDB)
			eventBus.Publish(events.Event{
				Source: events.SourceIQ,
				Kind:   events.KindJammingChanged,
				Data:   map[string]any{"scenario": p.Scenario, "jamming_type": string(msg.Mode), "power_db": msg.PowerDB},
			})
		case "jamming_clear":
			p.Mixer.Clear()
			eventBus.Publish(events.Event{
				Source: events.SourceIQ,
				Kind:   events.KindJammingChanged,
				Data:   map[string]any{"scenario": p.Scenario, "jamming_type": string(JammingNone)},
			})
		}
	}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
