// Package influxdb stores datapoint value history in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched value writes, Flux history reads and health checks.
//
// # Data Model
//
// Every applied datapoint value becomes one point:
//
//	datapoint_values,eui=<EUI>,datapoint=<id>[,name=<name>] value=<float> <time>
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDatapoint("A81758FFFE0312AB", "A81758FFFE0312AB-1", "temperature_1", 21.5, time.Now())
//	samples, err := client.History(ctx, "A81758FFFE0312AB", "A81758FFFE0312AB-1", time.Time{}, 100)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Writes are non-blocking and batch errors are delivered through SetOnError.
// Connection, health check and query errors are returned directly.
package influxdb
