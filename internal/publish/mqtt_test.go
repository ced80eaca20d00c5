package publish

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swdee/go-vl53l1"
	"github.com/swdee/go-vl53l1/internal/store"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	sent         []message
	token        *fakeToken
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {

	c.sent = append(c.sent, message{topic, qos, retained, payload.([]byte)})

	if c.token != nil {
		return c.token
	}

	return &fakeToken{}
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.disconnected = true
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestPublishRun(t *testing.T) {

	client := &fakeClient{}
	p := New(client, "", testLogger())

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	run := store.NewRun("bench-1", "offset", start)
	require.NoError(t, run.Finish(map[string]int{"inner": 20},
		vl53l1.NewStatus(vl53l1.MissingSamples), nil, start.Add(time.Second)))

	require.NoError(t, p.PublishRun(run))
	require.Len(t, client.sent, 1)

	msg := client.sent[0]
	assert.Equal(t, "vl53l1/bench-1/runs/offset", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)

	var got runMessage
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, run.ID.String(), got.RunID)
	assert.Equal(t, vl53l1.SeverityWarning.String(), got.Severity)
	assert.Equal(t, vl53l1.MissingSamples.String(), got.Status)
	assert.Empty(t, got.Error)
	assert.JSONEq(t, `{"inner":20}`, string(got.Result))
	assert.True(t, start.Equal(got.StartedAt))
}

func TestPublishCalibration(t *testing.T) {

	client := &fakeClient{}
	p := New(client, "lab", testLogger())

	data := vl53l1.CalibrationData{StructVersion: vl53l1.CalibrationDataVersion}
	data.Customer.MMInnerOffsetMM = 20

	require.NoError(t, p.PublishCalibration("bench-1", data))
	require.Len(t, client.sent, 1)
	assert.Equal(t, "lab/bench-1/calibration", client.sent[0].topic)
	assert.True(t, client.sent[0].retained)

	var got vl53l1.CalibrationData
	require.NoError(t, json.Unmarshal(client.sent[0].payload, &got))
	assert.Equal(t, data, got)

	p.Close()
	assert.True(t, client.disconnected)
}

func TestPublishErrors(t *testing.T) {

	tests := []struct {
		name    string
		token   *fakeToken
		wantErr string
	}{
		{
			name:    "broker error",
			token:   &fakeToken{err: assert.AnError},
			wantErr: "publish to vl53l1/bench-1/calibration",
		},
		{
			name:    "timeout",
			token:   &fakeToken{timeout: true},
			wantErr: "timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {

			p := New(&fakeClient{token: tt.token}, "", testLogger())

			err := p.PublishCalibration("bench-1", vl53l1.CalibrationData{})
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
