package bridge

import (
	"context"
	"testing"

	"github.com/agentuity/design-bridge/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				action, _ := dp.Attributes.Value(attribute.Key("action"))
				out[action.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestInstrumentsRecordThroughMeterProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(noop.NewMeterProvider()) })

	_, err := newInstruments()
	require.NoError(t, err)

	s, log := startServer(t, nil)
	assert.False(t, log.Contains("WARNING", "metrics disabled"))
	plugin := dial(t, s)
	plugin.register(protocol.RolePlugin)
	plugin.serve(func(env *protocol.Envelope) *protocol.Envelope {
		if env.Type == protocol.TypeCommand {
			return protocol.NewError(env.ID, "unsupported")
		}
		return okPlugin(env)
	})

	_, err = s.SendCommand(context.Background(), "get_selection", nil)
	require.Error(t, err)
	_, err = s.SendPing(context.Background(), 0)
	require.NoError(t, err)

	commands := collectSum(t, reader, "bridge.commands")
	assert.Equal(t, int64(1), commands["get_selection"])
	assert.Equal(t, int64(1), commands["PING"])
	failures := collectSum(t, reader, "bridge.command.failures")
	assert.Equal(t, int64(1), failures["get_selection"])
	assert.Zero(t, failures["PING"])
	assert.Empty(t, collectSum(t, reader, "bridge.timeouts"))
}
