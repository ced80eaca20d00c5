// Package publish announces calibration runs and results on an MQTT broker.
package publish

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/swdee/go-vl53l1"
	"github.com/swdee/go-vl53l1/internal/store"
)

// DefaultPrefix is the topic prefix used when none is given
const DefaultPrefix = "vl53l1"

// publishTimeout bounds the wait for a publish acknowledgement
const publishTimeout = 5 * time.Second

// Client is the part of mqtt.Client used by the Publisher.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher publishes calibration messages under a topic prefix.
type Publisher struct {
	client Client
	prefix string
	log    logrus.FieldLogger
}

// Connect connects to broker and returns a Publisher using it.
func Connect(broker, clientID, prefix string, log logrus.FieldLogger) (*Publisher, error) {

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(publishTimeout)

	client := mqtt.NewClient(opts)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "connect to MQTT broker %s", broker)
	}

	log.WithField("broker", broker).Info("connected to MQTT broker")

	return New(client, prefix, log), nil
}

// New returns a Publisher on an existing client.
func New(client Client, prefix string, log logrus.FieldLogger) *Publisher {

	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Publisher{client: client, prefix: prefix, log: log}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

// runMessage is the JSON payload of a run announcement
type runMessage struct {
	RunID      string          `json:"run_id"`
	Device     string          `json:"device"`
	Procedure  string          `json:"procedure"`
	Severity   string          `json:"severity"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// RunTopic returns the topic runs of procedure on device are published to.
func (p *Publisher) RunTopic(device, procedure string) string {
	return fmt.Sprintf("%s/%s/runs/%s", p.prefix, device, procedure)
}

// CalibrationTopic returns the retained topic holding the calibration data
// of device.
func (p *Publisher) CalibrationTopic(device string) string {
	return fmt.Sprintf("%s/%s/calibration", p.prefix, device)
}

// PublishRun announces a finished run.
func (p *Publisher) PublishRun(r *store.Run) error {

	msg := runMessage{
		RunID:      r.ID.String(),
		Device:     r.Device,
		Procedure:  r.Procedure,
		Severity:   r.Status.Severity.String(),
		Status:     r.Status.Code.String(),
		Error:      r.Err,
		Result:     r.Result,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}

	return p.publish(p.RunTopic(r.Device, r.Procedure), false, msg)
}

// PublishCalibration publishes data as the retained calibration of device.
func (p *Publisher) PublishCalibration(device string, data vl53l1.CalibrationData) error {
	return p.publish(p.CalibrationTopic(device), true, data)
}

func (p *Publisher) publish(topic string, retained bool, v interface{}) error {

	payload, err := json.Marshal(v)

	if err != nil {
		return errors.Wrapf(err, "encode %s payload", topic)
	}

	token := p.client.Publish(topic, 1, retained, payload)

	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("publish to %s timed out", topic)
	}

	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "publish to %s", topic)
	}

	p.log.WithFields(logrus.Fields{
		"topic": topic,
		"bytes": len(payload),
	}).Debug("published")

	return nil
}
