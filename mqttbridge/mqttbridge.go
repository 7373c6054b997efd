package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"peblar-bridge/chargers/common"
	"peblar-bridge/config"
	"peblar-bridge/params"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/juju/loggo"
	"github.com/pkg/errors"
)

var log = loggo.GetLogger("peblar.mqttbridge")

const (
	publishTimeout = 10 * time.Second
	commandTimeout = 30 * time.Second
	reconnectDelay = 5 * time.Second

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// NewWorker returns a worker that exposes the charger to Home Assistant via
// MQTT discovery. The coordinator must hold a snapshot already, since the
// topics are derived from the charger serial number.
func NewWorker(ctx context.Context, cfg *config.Config, coord common.Coordinator, writable bool) (common.BasicWorker, error) {
	snap := coord.Snapshot()
	serial, ok := snap.String(params.SerialNumberKey)
	if !ok || serial == "" {
		return nil, fmt.Errorf("charger serial number is not known yet")
	}

	return &Worker{
		ctx:              ctx,
		cfg:              cfg.MQTT,
		coord:            coord,
		writable:         writable,
		topics:           newTopics(cfg.MQTT.BaseTopic, cfg.MQTT.DiscoveryPrefix, serial),
		closed:           make(chan struct{}),
		quit:             make(chan struct{}),
		mqttDisconnected: make(chan struct{}),
	}, nil
}

type Worker struct {
	ctx    context.Context
	closed chan struct{}
	quit   chan struct{}

	cfg      config.MQTTBridge
	coord    common.Coordinator
	writable bool
	topics   topics

	mux              sync.Mutex
	client           mqtt.Client
	mqttDisconnected chan struct{}
}

func (w *Worker) publish(client mqtt.Client, topic string, retained bool, payload interface{}) error {
	token := client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if token.Error() != nil {
		return errors.Wrapf(token.Error(), "publishing to %s", topic)
	}
	return nil
}

func (w *Worker) publishUpdate(client mqtt.Client, update params.Update) error {
	availability := payloadOnline
	if !update.LastUpdateSuccess {
		availability = payloadOffline
	}
	if err := w.publish(client, w.topics.availability(), true, availability); err != nil {
		return errors.Wrap(err, "publishing availability")
	}
	if update.Snapshot == nil {
		return nil
	}

	state, err := json.Marshal(update.Snapshot)
	if err != nil {
		return errors.Wrap(err, "encoding state")
	}
	if err := w.publish(client, w.topics.state(), true, state); err != nil {
		return errors.Wrap(err, "publishing state")
	}
	return nil
}

func (w *Worker) publishDiscovery(client mqtt.Client) error {
	msgs := discoveryMessages(w.topics, w.coord.Snapshot(), w.writable)
	for topic, msg := range msgs {
		payload, err := json.Marshal(msg)
		if err != nil {
			return errors.Wrap(err, "encoding discovery message")
		}
		if err := w.publish(client, topic, true, payload); err != nil {
			return errors.Wrap(err, "publishing discovery message")
		}
	}
	log.Infof("published %d discovery messages", len(msgs))
	return nil
}

func (w *Worker) mqttOnConnect(client mqtt.Client) {
	log.Infof("Connected to %s", w.cfg.Broker)
}

func (w *Worker) mqttConnectionLostHandler(client mqtt.Client, err error) {
	log.Infof("Connection to %s has been lost: %q", w.cfg.Broker, err)
	w.mux.Lock()
	defer w.mux.Unlock()
	select {
	case <-w.mqttDisconnected:
	default:
		close(w.mqttDisconnected)
	}
}

// parseChargeCurrent parses a charge current limit command payload, in mA.
func parseChargeCurrent(payload []byte) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %q", payload)
	}
	if err := params.ChargeCurrentLimitNumber.Validate(value); err != nil {
		return 0, err
	}
	return value, nil
}

func (w *Worker) mqttCommandHandler(client mqtt.Client, msg mqtt.Message) {
	value, err := parseChargeCurrent(msg.Payload())
	if err != nil {
		log.Errorf("invalid command on %s: %s", msg.Topic(), err)
		return
	}

	// paho handlers must not block; the write and the refresh after it
	// may take a while.
	go func() {
		ctx, cancel := context.WithTimeout(w.ctx, commandTimeout)
		defer cancel()
		if err := w.coord.SetChargingCurrent(ctx, value); err != nil {
			log.Errorf("failed to set charging current to %v: %s", value, err)
		}
	}()
}

func (w *Worker) connectMQTT() (mqtt.Client, error) {
	opts, err := w.cfg.ClientOptions(uuid.NewString())
	if err != nil {
		return nil, errors.Wrap(err, "fetching client options")
	}
	opts.SetAutoReconnect(false)
	opts.SetWill(w.topics.availability(), payloadOffline, 1, true)
	opts.OnConnect = w.mqttOnConnect
	opts.OnConnectionLost = w.mqttConnectionLostHandler

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if token.Error() != nil {
		return nil, token.Error()
	}

	if err := w.publishDiscovery(client); err != nil {
		client.Disconnect(1000)
		return nil, errors.Wrap(err, "publishing discovery")
	}

	if err := w.publishUpdate(client, w.coord.LastUpdate()); err != nil {
		client.Disconnect(1000)
		return nil, errors.Wrap(err, "publishing initial state")
	}

	if w.writable {
		topic := w.topics.command(params.ChargeCurrentLimitKey)
		log.Infof("subscribing to %s", topic)
		token = client.Subscribe(topic, 1, w.mqttCommandHandler)
		token.Wait()
		if token.Error() != nil {
			client.Disconnect(1000)
			return nil, errors.Wrap(token.Error(), "subscribing to topic")
		}
	}
	return client, nil
}

func (w *Worker) loop(updates <-chan params.Update, unsubscribe func()) {
	defer func() {
		unsubscribe()
		if w.client != nil {
			if err := w.publish(w.client, w.topics.availability(), true, payloadOffline); err != nil {
				log.Warningf("failed to publish availability: %s", err)
			}
			w.client.Disconnect(1000)
		}
		close(w.closed)
	}()

	for {
		if w.client == nil {
			w.mux.Lock()
			w.mqttDisconnected = make(chan struct{})
			w.mux.Unlock()

			client, err := w.connectMQTT()
			if err != nil {
				log.Errorf("failed to connect to mqtt: %q", err)
				select {
				case <-time.After(reconnectDelay):
					continue
				case <-w.ctx.Done():
					return
				case <-w.quit:
					return
				}
			}
			w.client = client
		}

		w.mux.Lock()
		disconnected := w.mqttDisconnected
		w.mux.Unlock()

		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := w.publishUpdate(w.client, update); err != nil {
				log.Errorf("failed to publish update: %s", err)
			}
		case <-w.ctx.Done():
			return
		case <-w.quit:
			return
		case <-disconnected:
			w.client = nil
		}
	}
}

func (w *Worker) Start() error {
	updates, unsubscribe := w.coord.Subscribe()
	go w.loop(updates, unsubscribe)
	return nil
}

func (w *Worker) Stop() error {
	close(w.quit)
	select {
	case <-w.closed:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timeout waiting for worker to exit")
	}
}
