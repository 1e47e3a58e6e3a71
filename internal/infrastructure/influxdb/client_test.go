package influxdb

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/edgehub-core/internal/device"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/config"
)

func TestConnectDisabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestCloseUnconnected(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestRecordTelemetryWhenDisconnected(t *testing.T) {
	// A disconnected client must drop points, not panic on the nil write API.
	c := &Client{}
	c.RecordTelemetry("pi-01", device.Telemetry{CPUUsage: 10}, time.Now())
	c.Flush()
}
