package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/stackmat-terminal/internal/logic"
	"github.com/sweeney/stackmat-terminal/internal/metrics"
)

// BufferCapacity is how many messages are kept while the broker is away.
const BufferCapacity = 256

const publishTimeout = 5 * time.Second

var errPublishTimeout = errors.New("publish timeout")

// RealPublisher publishes to an actual MQTT broker. Messages published while
// disconnected are buffered and replayed, oldest first, on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	log    zerolog.Logger

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher starts connecting to broker in the background. The broker
// is told to publish a SHUTDOWN event if the terminal drops off.
func NewRealPublisher(broker, clientID string, topics Topics, log zerolog.Logger) *RealPublisher {
	p := &RealPublisher{
		topics: topics,
		log:    log,
		buf:    newRingBuffer(BufferCapacity, log),
	}

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(topics.System, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warn().Err(err).Msg("broker connection lost")
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	pending := p.buf.drainAll()
	p.mu.Unlock()

	p.log.Info().Int("replay", len(pending)).Msg("broker connected")
	reconnected, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
	msgs := append([]bufferedMsg{{topic: p.topics.System, payload: reconnected, qos: 1}}, pending...)
	// Replay off the paho callback goroutine; publish tokens would block it.
	go func() {
		for _, m := range msgs {
			if err := p.send(m); err != nil {
				p.log.Warn().Err(err).Str("topic", m.topic).Msg("replay failed")
			}
		}
	}()
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		metrics.MQTTPublishTotal.WithLabelValues("buffered").Inc()
		return nil
	}
	return p.send(msg)
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		metrics.MQTTPublishTotal.WithLabelValues("failed").Inc()
		return errPublishTimeout
	}
	if err := token.Error(); err != nil {
		metrics.MQTTPublishTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("publish: %w", err)
	}
	metrics.MQTTPublishTotal.WithLabelValues("sent").Inc()
	return nil
}

// Publish sends a transition event. QoS 0, not retained.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.topics.Events, payload: payload})
}

// PublishSystem sends a system lifecycle event. QoS 1 so shutdown events
// are delivered.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
