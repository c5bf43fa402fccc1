package influx

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"vera-home/internal/domain"
)

const measurement = "vera_device"

// Attributes that carry a measurable value. Everything else (names,
// timestamps, pin code blobs) stays out of the time series.
var metricAttributes = []string{
	"status",
	"level",
	"temperature",
	"humidity",
	"light",
	"uv",
	"watts",
	"kwh",
	"batterylevel",
	"setpoint",
	"heatsp",
	"coolsp",
	"tripped",
	"armed",
	"locked",
}

// BuildPoint converts the numeric attributes of a snapshot into a point.
// It returns nil when none of them parse.
func BuildPoint(snap domain.DeviceSnapshot) *write.Point {
	fields := make(map[string]any)
	for _, key := range metricAttributes {
		raw, ok := snap.Attributes[key]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		fields[key] = v
	}
	if len(fields) == 0 {
		return nil
	}

	ts := snap.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(
		measurement,
		map[string]string{
			"device_id": strconv.Itoa(snap.ID),
			"name":      snap.Name,
			"category":  snap.Category.String(),
		},
		fields,
		ts,
	)
}
