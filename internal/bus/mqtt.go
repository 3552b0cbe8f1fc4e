package bus

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// Config holds connection settings for the MQTT-backed Bus.
type Config struct {
	Broker   string // e.g. "mqtt://mqtt:1883"
	ClientID string
	Username string
	Password string
}

// MQTTBus is the production Bus implementation, backed by
// github.com/eclipse/paho.golang's auto-reconnecting connection
// manager the same way the teacher's internal/mqtt.Publisher is.
type MQTTBus struct {
	logger *slog.Logger
	cm     *autopaho.ConnectionManager

	mu   sync.Mutex
	subs map[string][]func(payload []byte)
}

// Connect dials the broker and waits up to 10 seconds (or until ctx
// ends) for the initial connection (mirroring autopaho's
// AwaitConnection pattern in the teacher's Publisher.Start). If the
// connection is not up by then it logs a warning and still returns the
// bus; autopaho keeps retrying in the background.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*MQTTBus, error) {
	if logger == nil {
		logger = slog.Default()
	}

	brokerURL, err := url.Parse(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	b := &MQTTBus{
		logger: logger,
		subs:   make(map[string][]func(payload []byte)),
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: cfg.Username,
		ConnectPassword: []byte(cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			logger.Info("mqtt bus connected", "broker", cfg.Broker)
			b.resubscribeAll(cm)
		},
		OnConnectError: func(err error) {
			logger.Warn("mqtt bus connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					b.dispatch(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	b.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	return b, nil
}

// Publish implements Bus.
func (b *MQTTBus) Publish(ctx context.Context, topic string, payload []byte, qos QoS) error {
	if b.cm == nil {
		return fmt.Errorf("mqtt bus not connected")
	}
	_, err := b.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     byte(qos),
	})
	if err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe implements Bus.
func (b *MQTTBus) Subscribe(ctx context.Context, topic string, handler func(payload []byte)) (func(), error) {
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], handler)
	b.mu.Unlock()

	if b.cm != nil {
		if _, err := b.cm.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
		}); err != nil {
			return nil, fmt.Errorf("mqtt subscribe %s: %w", topic, err)
		}
	}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subs[topic]
		for i, h := range handlers {
			if fmt.Sprintf("%p", h) == fmt.Sprintf("%p", handler) {
				b.subs[topic] = append(handlers[:i], handlers[i+1:]...)
				break
			}
		}
	}, nil
}

// Close implements Bus.
func (b *MQTTBus) Close() error {
	if b.cm == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.cm.Disconnect(ctx)
}

func (b *MQTTBus) dispatch(topic string, payload []byte) {
	b.mu.Lock()
	handlers := append([]func(payload []byte){}, b.subs[topic]...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}

func (b *MQTTBus) resubscribeAll(cm *autopaho.ConnectionManager) {
	b.mu.Lock()
	topics := make([]string, 0, len(b.subs))
	for topic := range b.subs {
		topics = append(topics, topic)
	}
	b.mu.Unlock()

	for _, topic := range topics {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := cm.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
		})
		cancel()
		if err != nil {
			b.logger.Warn("mqtt resubscribe failed", "topic", topic, "error", err)
		}
	}
}
