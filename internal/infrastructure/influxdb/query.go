package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// defaultHistoryLimit caps the number of samples returned by History.
const defaultHistoryLimit = 1000

// Sample is one stored datapoint value.
type Sample struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// History returns stored values of one datapoint, oldest first.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - eui: Device EUI
//   - datapoint: Datapoint id
//   - since: Lower time bound; the zero time means the last 24 hours
//   - limit: Maximum samples; 0 or less uses the default
//
// Returns:
//   - []Sample: Values in time order
//   - error: ErrNotConnected or ErrQueryFailed
func (c *Client) History(ctx context.Context, eui, datapoint string, since time.Time, limit int) ([]Sample, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	result, err := c.queryAPI.Query(ctx, historyQuery(c.cfg.Bucket, eui, datapoint, since, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close() //nolint:errcheck // read-only result

	samples := make([]Sample, 0)
	for result.Next() {
		record := result.Record()
		value, ok := toFloat(record.Value())
		if !ok {
			continue
		}
		samples = append(samples, Sample{Time: record.Time(), Value: value})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return samples, nil
}

// historyQuery builds the Flux query for one datapoint series.
func historyQuery(bucket, eui, datapoint string, since time.Time, limit int) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %s)
  |> filter(fn: (r) => r.%s == %s and r.%s == %s)
  |> filter(fn: (r) => r._field == %s)
  |> sort(columns: ["_time"])
  |> limit(n: %d)`,
		strconv.Quote(bucket),
		since.UTC().Format(time.RFC3339Nano),
		strconv.Quote(MeasurementDatapoint),
		tagEUI, strconv.Quote(eui), tagDatapoint, strconv.Quote(datapoint),
		strconv.Quote(fieldValue),
		limit,
	)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
