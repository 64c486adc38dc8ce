package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/camera"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Client veröffentlicht Anwesenheits-Events an einen MQTT-Broker, damit
// externe Systeme (Anzeigetafeln, Verwaltungssoftware) sie abonnieren können
type Client struct {
	config config.MQTTConfig
	client mqtt.Client
}

// NewClient erstellt einen neuen MQTT-Client
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{config: cfg}
}

// Start verbindet den Client mit dem Broker
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()

	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)

	// Optionale Authentifizierung
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info("Connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warnf("MQTT connection lost: %v", err)
	})

	// Automatische Wiederverbindung
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	c.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	log.Info("MQTT client connected successfully")
	return nil
}

// Stop beendet den MQTT-Client
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		c.client.Disconnect(250) // 250ms Wartezeit
	}
}

// PublishAttendance implementiert camera.EventPublisher. Die Veröffentlichung
// läuft asynchron über die paho-Token-API und blockiert den Kamera-Worker
// nicht.
func (c *Client) PublishAttendance(event camera.AttendanceEvent) {
	if c.client == nil || !c.client.IsConnected() {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Failed to marshal attendance event for MQTT: %v", err)
		return
	}

	topic := fmt.Sprintf("%s/attendance/%s", c.config.Topic, event.Camera)
	token := c.client.Publish(topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Errorf("Failed to publish attendance event: %v", token.Error())
		}
	}()
}
