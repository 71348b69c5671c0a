// Package mqttc wraps the paho MQTT client with the topic layout and
// connectivity tracking the bridge needs.
package mqttc

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotConnected is returned by Publish while the session is down.
	ErrNotConnected = errors.New("mqtt not connected")
	// ErrPublishTimeout is logged when the broker does not confirm a publish in time.
	ErrPublishTimeout = errors.New("mqtt publish timed out")
)

const (
	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

// Config contains broker connection settings.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Topic          string // command topic; status and availability hang off it
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// StatusTopic returns the telemetry topic.
func (c Config) StatusTopic() string { return c.Topic + "/status" }

// AvailabilityTopic returns the retained online/offline topic.
func (c Config) AvailabilityTopic() string { return c.Topic + "/availability" }

// Client is a connected-on-demand MQTT session subscribed to the command topic.
type Client struct {
	cfg       Config
	client    mqtt.Client
	connected atomic.Bool
}

// New builds the client. onMessage receives command topic messages;
// onConnectivity is called on every connect and connection loss.
func New(cfg Config, onMessage mqtt.MessageHandler, onConnectivity func(bool)) *Client {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	c := &Client{cfg: cfg}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "lightshowd"
	}
	// Brokers kick the older session on duplicate ids.
	clientID = fmt.Sprintf("%s-%s", clientID, uuid.NewString()[:8])

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetOrderMatters(true)
	opts.SetWill(cfg.AvailabilityTopic(), availabilityOffline, cfg.QoS, true)

	opts.SetOnConnectHandler(func(mc mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Str("client_id", clientID).Msg("Connected to MQTT broker")

		token := mc.Subscribe(cfg.Topic, cfg.QoS, onMessage)
		switch {
		case !token.WaitTimeout(cfg.ConnectTimeout):
			log.Warn().Str("topic", cfg.Topic).Msg("Subscription not confirmed in time")
		case token.Error() != nil:
			log.Error().Err(token.Error()).Str("topic", cfg.Topic).Msg("Failed to subscribe")
		default:
			log.Info().Str("topic", cfg.Topic).Msg("Subscribed to command topic")
		}
		mc.Publish(cfg.AvailabilityTopic(), cfg.QoS, true, availabilityOnline)

		c.connected.Store(true)
		if onConnectivity != nil {
			onConnectivity(true)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
		c.connected.Store(false)
		if onConnectivity != nil {
			onConnectivity(false)
		}
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Debug().Msg("Reconnecting to MQTT broker")
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect starts connecting in the background. With connect-retry enabled
// the token only completes once the broker is reached, so it is not awaited.
func (c *Client) Connect() {
	log.Info().Str("broker", c.cfg.Broker).Msg("Connecting to MQTT broker")
	token := c.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			log.Error().Err(err).Msg("MQTT connect failed")
		}
	}()
}

// Connected reports the last observed connectivity.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Publish queues a non-retained message. It does not wait for the broker;
// delivery failures are logged. Safe to call from the control loop.
func (c *Client) Publish(topic, payload string) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, c.cfg.QoS, false, payload)
	go func() {
		switch {
		case !token.WaitTimeout(c.cfg.PublishTimeout):
			log.Warn().Err(ErrPublishTimeout).Str("topic", topic).Msg("MQTT publish not confirmed")
		case token.Error() != nil:
			log.Error().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
	return nil
}

// Close marks the bridge offline and disconnects.
func (c *Client) Close() {
	if c.Connected() {
		token := c.client.Publish(c.cfg.AvailabilityTopic(), c.cfg.QoS, true, availabilityOffline)
		token.WaitTimeout(c.cfg.PublishTimeout)
	}
	c.client.Disconnect(250)
	c.connected.Store(false)
}
