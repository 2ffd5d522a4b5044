package metrics

import (
	"time"

	"github.com/netdata/go-statsd"
)

// Metrics is a thin statsd wrapper. NoMetrics returns an instance whose
// methods are no-ops, for tests and for runs without a statsd address.
type Metrics struct {
	client *statsd.Client
}

func NewMetrics(addr string) (*Metrics, error) {
	statsWriter, err := statsd.UDP(addr)
	if err != nil {
		return nil, err
	}

	client := statsd.NewClient(statsWriter, "albumsync.")
	client.FlushEvery(3 * time.Second)

	return &Metrics{client}, nil
}

func NoMetrics() *Metrics {
	return &Metrics{}
}

func (x *Metrics) Close() error {
	if x.client == nil {
		return nil
	}
	return x.client.Close()
}

// Record times the named operation, stopping when the returned function is
// called.
func (x *Metrics) Record(metricName string) func() error {
	if x.client != nil {
		return x.client.Record(metricName, 1)
	}

	return func() error { return nil }
}

func (x *Metrics) Increment(metricName string) error {
	if x.client != nil {
		return x.client.Increment(metricName)
	}

	return nil
}
