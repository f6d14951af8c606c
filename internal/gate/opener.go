// Package gate sends open commands to barrier controllers at checkpoints.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/gatepass/access-server/internal/config"
	"github.com/gatepass/access-server/internal/model"
)

var ErrPublishTimeout = errors.New("gate command publish timed out")

// Opener opens a gate after an access grant.
type Opener interface {
	Open(ctx context.Context, cmd OpenCommand) error
}

type OpenCommand struct {
	OrganizationID string          `json:"organization_id"`
	GateID         string          `json:"gate_id"`
	LogID          string          `json:"log_id"`
	Direction      model.Direction `json:"direction"`
	Timestamp      int64           `json:"timestamp"`
}

// Topic is the MQTT topic the controller of a gate listens on.
func Topic(organizationID, gateID string) string {
	return fmt.Sprintf("gates/%s/%s/open", organizationID, gateID)
}

// publisher is the subset of mqtt.Client used for commands.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type MQTTOpener struct {
	client  publisher
	timeout time.Duration
}

// NewMQTTOpener connects to the broker described by cfg.
func NewMQTTOpener(cfg *config.Config) (*MQTTOpener, func(), error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBrokerURL).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(5 * time.Second)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername).SetPassword(cfg.MQTTPassword)
	}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", cfg.MQTTBrokerURL).Msg("gate broker connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("gate broker connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(config.GatePublishTimeout) {
		log.Warn().Str("broker", cfg.MQTTBrokerURL).Msg("gate broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("connect gate broker: %w", err)
	}

	closeFn := func() { client.Disconnect(250) }
	return newMQTTOpener(client, config.GatePublishTimeout), closeFn, nil
}

func newMQTTOpener(client publisher, timeout time.Duration) *MQTTOpener {
	return &MQTTOpener{client: client, timeout: timeout}
}

func (o *MQTTOpener) Open(ctx context.Context, cmd OpenCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal open command: %w", err)
	}

	token := o.client.Publish(Topic(cmd.OrganizationID, cmd.GateID), config.GateCommandQoS, false, payload)

	timeout := o.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	if !token.WaitTimeout(timeout) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish open command: %w", err)
	}

	log.Debug().
		Str("gateId", cmd.GateID).
		Str("logId", cmd.LogID).
		Msg("gate open command published")
	return nil
}

// NoopOpener is used when no gate broker is configured.
type NoopOpener struct{}

func (NoopOpener) Open(ctx context.Context, cmd OpenCommand) error {
	return nil
}
