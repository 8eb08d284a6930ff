package mqtt

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddielth/ksysguardd-nvidia/config"
	"github.com/eddielth/ksysguardd-nvidia/fields"
)

func testSnapshot(t *testing.T) *fields.Snapshot {
	t.Helper()

	reg, err := fields.NewRegistry(
		fields.Spec{ID: "temperature.gpu", Unit: "°C"},
		fields.Spec{ID: "utilization.gpu", Unit: "%", Max: fields.ConstMax(100)},
	)
	require.NoError(t, err)

	var records []*fields.Record
	for i, temp := range []string{"45", "61"} {
		rec := fields.NewRecord(i)
		for _, id := range reg.All() {
			spec, err := reg.Resolve(id)
			require.NoError(t, err)
			value := temp
			if id == "utilization.gpu" {
				value = "7"
			}
			rec.AddQueried(spec, value, spec.Unit)
		}
		require.NoError(t, rec.ResolveMaxima())
		records = append(records, rec)
	}
	return fields.NewSnapshot(records)
}

func TestBuildMessages(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	messages, err := BuildMessages("lab/gpus/", at, testSnapshot(t))
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, "lab/gpus/device0", messages[0].Topic)
	assert.Equal(t, "lab/gpus/device1", messages[1].Topic)

	var payload DevicePayload
	require.NoError(t, json.Unmarshal(messages[1].Payload, &payload))
	assert.Equal(t, 1, payload.Device)
	assert.True(t, at.Equal(payload.CapturedAt))
	require.Len(t, payload.Samples, 2)
	assert.Equal(t, "temperature.gpu", payload.Samples[0].Field)
	assert.Equal(t, "61", payload.Samples[0].Value)
	assert.Equal(t, "°C", payload.Samples[0].Unit)
	require.NotNil(t, payload.Samples[1].Number)
	assert.Equal(t, 7.0, *payload.Samples[1].Number)
}

func TestBuildMessagesEmptySnapshot(t *testing.T) {
	messages, err := BuildMessages("t", time.Now(), fields.NewSnapshot(nil))
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(config.MQTTConfig{})
	assert.Error(t, err)

	c, err := NewClient(config.MQTTConfig{Broker: "tcp://localhost:1883", Topic: "t"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(c.config.ClientID, clientIDPrefix))
	assert.Greater(t, len(c.config.ClientID), len(clientIDPrefix))

	c, err = NewClient(config.MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", c.config.ClientID)
}
