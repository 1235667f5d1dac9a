package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"geomonitor/internal/logger"
	"geomonitor/internal/metrics"
	"geomonitor/internal/usecase/location"
	pkgmqtt "geomonitor/pkg/mqtt"
)

// Parser validates a decoded payload into a report.
type Parser interface {
	Parse(fields location.IngestFields) (*location.IngestCommand, error)
}

// MQTTIngestionConfig describes the topic and MQTT connection parameters.
type MQTTIngestionConfig struct {
	ClientConfig  *pkgmqtt.Config
	LocationTopic string
	QoS           byte
}

// MQTTIngestionClient feeds location reports published on LocationTopic into
// the processor. Payloads use the same fields as HTTP ingestion. When the
// topic has a wildcard and the payload carries no user_id, the last topic
// level is the device id.
type MQTTIngestionClient struct {
	cfg       *MQTTIngestionConfig
	parser    Parser
	processor *Processor

	mu      sync.Mutex
	client  *pkgmqtt.Client
	started bool
}

// NewMQTTIngestionClient builds a new MQTT client for ingestion.
func NewMQTTIngestionClient(cfg *MQTTIngestionConfig, parser Parser, processor *Processor) (*MQTTIngestionClient, error) {
	if cfg == nil || cfg.ClientConfig == nil {
		return nil, errors.New("mqtt ingestion config is not configured")
	}
	if cfg.LocationTopic == "" {
		return nil, errors.New("no MQTT location topic configured")
	}
	if parser == nil || processor == nil {
		return nil, errors.New("parser and processor are required")
	}

	c := &MQTTIngestionClient{
		cfg:       cfg,
		parser:    parser,
		processor: processor,
	}

	clientCfg := *cfg.ClientConfig
	clientCfg.OnConnect = c.resubscribe
	c.client = pkgmqtt.NewClient(&clientCfg, logger.Named("mqtt"))
	return c, nil
}

// Start establishes the MQTT connection. Subscription happens in the
// on-connect callback so it is renewed after every reconnect.
func (c *MQTTIngestionClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}
	if err := c.client.Connect(); err != nil {
		return err
	}
	c.started = true
	return nil
}

func (c *MQTTIngestionClient) resubscribe() {
	if err := c.client.Subscribe(c.cfg.LocationTopic, c.cfg.QoS, c.handleLocationMessage); err != nil {
		logger.Error("MQTT subscribe failed",
			zap.String("topic", c.cfg.LocationTopic),
			zap.Error(err),
		)
	}
}

// Stop unsubscribes and disconnects from the broker.
func (c *MQTTIngestionClient) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}
	if err := c.client.Unsubscribe(c.cfg.LocationTopic); err != nil {
		logger.Warn("Failed to unsubscribe from MQTT topic",
			zap.String("topic", c.cfg.LocationTopic),
			zap.Error(err),
		)
	}
	c.client.Disconnect()
	c.started = false
}

// Serve connects, waits for ctx and disconnects. A failed connect is
// returned so the supervisor retries with backoff.
func (c *MQTTIngestionClient) Serve(ctx context.Context) error {
	if err := c.Start(); err != nil {
		return fmt.Errorf("mqtt ingestion start: %w", err)
	}
	<-ctx.Done()
	c.Stop()
	return ctx.Err()
}

// Connected reports whether the broker connection is currently up.
func (c *MQTTIngestionClient) Connected() bool {
	return c.client.IsConnected()
}

func (c *MQTTIngestionClient) String() string {
	return "mqtt-ingestion"
}

// handleLocationMessage decodes a report and hands it to the processor.
func (c *MQTTIngestionClient) handleLocationMessage(topic string, payload []byte) {
	fields := location.FieldsFromJSON(payload)
	if _, ok := fields["user_id"]; !ok && hasWildcard(c.cfg.LocationTopic) {
		if i := strings.LastIndexByte(topic, '/'); i >= 0 && i < len(topic)-1 {
			fields["user_id"] = topic[i+1:]
		}
	}

	cmd, err := c.parser.Parse(fields)
	if err != nil {
		metrics.IngestTotal.WithLabelValues(metrics.SourceMQTT, metrics.IngestInvalid).Inc()
		logger.Warn("Invalid location payload",
			zap.String("topic", topic),
			zap.Int("bytes", len(payload)),
			zap.Error(err),
		)
		return
	}

	c.processor.Submit(cmd)
}

func hasWildcard(topic string) bool {
	return strings.ContainsAny(topic, "+#")
}
