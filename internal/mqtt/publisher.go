package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/homelab-assistant/internal/audit"
	"github.com/nugget/homelab-assistant/internal/config"
)

// ErrNotConnected is returned by Write before Start has created a
// connection.
var ErrNotConnected = errors.New("mqtt publisher not started")

// initialConnectTimeout bounds the first connection attempt in Start.
// Later attempts are autopaho's business.
const initialConnectTimeout = 30 * time.Second

// Publisher is an audit sink backed by a retained MQTT topic.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     Device
	logger     *slog.Logger

	mu sync.RWMutex
	cm *autopaho.ConnectionManager
}

// New creates a Publisher. Nothing connects until Start.
func New(cfg config.MQTTConfig, instanceID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     newDevice(instanceID, cfg.DeviceName),
		logger:     logger.With("component", "mqtt"),
	}
}

// Start connects and blocks until ctx is cancelled. A broker that is
// down at startup is logged, not fatal; autopaho keeps redialing.
func (p *Publisher) Start(ctx context.Context) error {
	cc, err := p.clientConfig(ctx)
	if err != nil {
		return err
	}

	cm, err := autopaho.NewConnection(ctx, cc)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.mu.Lock()
	p.cm = cm
	p.mu.Unlock()

	first, cancel := context.WithTimeout(ctx, initialConnectTimeout)
	err = cm.AwaitConnection(first)
	cancel()
	if err != nil && ctx.Err() == nil {
		p.logger.Warn("broker not reachable yet, retrying in background", "broker", p.cfg.Broker, "error", err)
	}

	<-ctx.Done()
	return nil
}

// clientConfig builds the autopaho settings. The last will marks the
// orchestrator offline; every (re)connect republishes discovery and
// availability since both are retained and the broker may have lost them.
func (p *Publisher) clientConfig(ctx context.Context) (autopaho.ClientConfig, error) {
	u, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return autopaho.ClientConfig{}, fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	cc := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{u},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte(availabilityOffline),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("connected to broker", "broker", p.cfg.Broker)
			p.announce(ctx, cm)
			p.setAvailability(ctx, cm, availabilityOnline)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("broker connection failed", "error", err)
		},
		ClientConfig: paho.ClientConfig{ClientID: p.clientID()},
	}
	switch u.Scheme {
	case "mqtts", "ssl", "tls":
		cc.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return cc, nil
}

// Stop marks the orchestrator offline and disconnects cleanly, which
// suppresses the last will.
func (p *Publisher) Stop(ctx context.Context) error {
	cm := p.conn()
	if cm == nil {
		return nil
	}
	p.setAvailability(ctx, cm, availabilityOffline)
	return cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires. It serves as a connwatch probe.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	cm := p.conn()
	if cm == nil {
		return ErrNotConnected
	}
	return cm.AwaitConnection(ctx)
}

// Write publishes rec, retained, to the audit topic. It implements
// audit.Sink.
func (p *Publisher) Write(ctx context.Context, rec audit.Record) error {
	cm := p.conn()
	if cm == nil {
		return ErrNotConnected
	}
	payload, err := AuditPayload(rec)
	if err != nil {
		return err
	}
	if err := p.publish(ctx, cm, p.auditTopic(), payload); err != nil {
		return fmt.Errorf("mqtt publish audit: %w", err)
	}
	return nil
}

// AuditPayload renders rec exactly as it appears in the JSONL log.
func AuditPayload(rec audit.Record) ([]byte, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal audit payload: %w", err)
	}
	return payload, nil
}

func (p *Publisher) conn() *autopaho.ConnectionManager {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cm
}

// publish sends a retained QoS 1 message; every topic this package
// writes is state, not an event stream.
func (p *Publisher) publish(ctx context.Context, cm *autopaho.ConnectionManager, topic string, payload []byte) error {
	_, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  true,
	})
	return err
}

func (p *Publisher) announce(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, a := range p.announcements() {
		payload, err := json.Marshal(a.Entity)
		if err != nil {
			p.logger.Error("marshal discovery payload", "entity", a.Entity.ObjectID, "error", err)
			continue
		}
		if err := p.publish(ctx, cm, a.Topic, payload); err != nil {
			p.logger.Warn("discovery publish failed", "topic", a.Topic, "error", err)
			continue
		}
		p.logger.Debug("discovery published", "topic", a.Topic)
	}
}

func (p *Publisher) setAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if err := p.publish(ctx, cm, p.availabilityTopic(), []byte(status)); err != nil {
		p.logger.Warn("availability publish failed", "status", status, "error", err)
		return
	}
	p.logger.Info("availability published", "status", status)
}

func (p *Publisher) clientID() string          { return "homelab-" + p.cfg.DeviceName }
func (p *Publisher) availabilityTopic() string { return p.cfg.TopicPrefix + "/availability" }
func (p *Publisher) auditTopic() string        { return p.cfg.TopicPrefix + "/audit" }
