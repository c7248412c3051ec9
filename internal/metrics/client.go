package metrics

import (
	"fmt"
	"log"

	"github.com/DataDog/datadog-go/v5/statsd"
)

var Metrics *statsd.Client
var StatsEnabled bool

// Init connects the statsd client. Metrics stay disabled when addr is empty.
func Init(addr string) error {
	if addr == "" {
		return nil
	}
	client, err := statsd.New(addr)
	if err != nil {
		return fmt.Errorf("creating statsd client: %w", err)
	}
	Metrics = client
	StatsEnabled = true
	return nil
}

func FormatTag(key, value string) string {
	return fmt.Sprintf("%s:%s", key, value)
}

func SendGaugeMetric(name string, tags []string, value float64) {
	if StatsEnabled {
		err := Metrics.Gauge(name, value, tags, 1)
		if err != nil {
			log.Printf("Got error trying to send metric %s", err.Error())
		}
	}
}

func SendCountMetric(name string, tags []string, value int64) {
	if StatsEnabled {
		err := Metrics.Count(name, value, tags, 1)
		if err != nil {
			log.Printf("Got error trying to send metric %s", err.Error())
		}
	}
}
