package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"carguard-backend/config"
)

// MessageHandler processes one inbound message. Handlers run on their own
// goroutine so a slow handler never stalls the broker reader loop.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

type subscriptionEntry struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client wraps an autopaho connection with a subscription registry so
// handlers survive reconnects.
type Client struct {
	cfg config.MQTTConfig
	cm  *autopaho.ConnectionManager

	// subscriptions holds the registered handlers.
	// Key: topic filter (string), Value: subscriptionEntry
	subscriptions sync.Map
}

// NewClient creates an MQTT client for the given broker settings.
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{cfg: cfg}
}

// Start connects to the broker. autopaho keeps reconnecting in the
// background; a transient broker outage is not an error here.
func (c *Client) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(c.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("invalid broker url %q: %w", c.cfg.BrokerURL, err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     uint16(c.cfg.KeepAliveSeconds),
		CleanStartOnInitialConnection: true,
		ReconnectBackoff:              autopaho.NewConstantBackoff(time.Duration(c.cfg.ReconnectSeconds) * time.Second),
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		TlsCfg: &tls.Config{
			InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		},
		ClientConfig: paho.ClientConfig{
			ClientID:           c.cfg.ClientID,
			OnClientError:      func(err error) { log.Printf("MQTT client error: %v", err) },
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.router,
			},
		},
		OnConnectionUp: c.onConnectionUp,
		OnConnectError: func(err error) { log.Printf("MQTT connect failed, retrying: %v", err) },
	}

	log.Printf("Starting MQTT client (broker %s, client id %s)", c.cfg.BrokerURL, c.cfg.ClientID)

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return err
	}
	c.cm = cm
	return nil
}

// Disconnect closes the broker connection.
func (c *Client) Disconnect(ctx context.Context) {
	if c.cm != nil {
		_ = c.cm.Disconnect(ctx)
		log.Println("MQTT client disconnected")
	}
}

// Publish sends a payload to a topic.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
	if c.cm == nil {
		return fmt.Errorf("mqtt client not started")
	}
	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     qos,
		Retain:  retain,
		Payload: payload,
	})
	return err
}

// Subscribe registers a handler for a topic filter and sends the SUBSCRIBE
// packet. The registration survives reconnects; OnConnectionUp re-subscribes.
func (c *Client) Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	if c.cm == nil {
		return fmt.Errorf("mqtt client not started")
	}

	c.subscriptions.Store(topic, subscriptionEntry{topic: topic, qos: qos, handler: handler})

	_, err := c.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: qos},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send subscription packet: %w", err)
	}

	log.Printf("Subscribed to topic %s", topic)
	return nil
}

// AwaitConnection blocks until the first connection is up or ctx is done.
func (c *Client) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return fmt.Errorf("mqtt client not started")
	}
	return c.cm.AwaitConnection(ctx)
}

// onConnectionUp re-subscribes every registered topic after a (re)connect.
func (c *Client) onConnectionUp(cm *autopaho.ConnectionManager, ack *paho.Connack) {
	log.Println("MQTT connection established")

	c.subscriptions.Range(func(key, value any) bool {
		entry := value.(subscriptionEntry)
		if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{
				{Topic: entry.topic, QoS: entry.qos},
			},
		}); err != nil {
			log.Printf("Failed to re-subscribe to %s: %v", entry.topic, err)
		}
		return true
	})
}

func (c *Client) onServerDisconnect(d *paho.Disconnect) {
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	log.Printf("MQTT server requested disconnect: %s", reason)
}

// router dispatches an inbound message to every matching handler. The O(N)
// scan over registered filters is fine for the handful of subscriptions this
// service holds.
func (c *Client) router(p paho.PublishReceived) (bool, error) {
	matched := false
	c.subscriptions.Range(func(key, value any) bool {
		entry := value.(subscriptionEntry)
		if topicMatches(entry.topic, p.Packet.Topic) {
			matched = true
			go entry.handler(context.Background(), p.Packet.Topic, p.Packet.Payload)
		}
		return true
	})
	return matched, nil
}

// topicMatches applies MQTT filter semantics: + matches one level, # matches
// the remainder.
func topicMatches(filter, topic string) bool {
	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, part := range filterParts {
		if part == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if part != "+" && part != topicParts[i] {
			return false
		}
	}
	return len(filterParts) == len(topicParts)
}
