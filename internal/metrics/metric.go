// Package metrics implements the agent-side metrics collector described in the component design for typed samples
// (§4.7): cadenced samplers keyed by a dotted path, pushed to a time-series sink.
package metrics

import "fmt"

// Metric is a single sample keyed by its dotted path ("{env}.{hostname}.{subsystem}.{name}.{metric}"). Every value,
// integer counters included, is carried as a float64; there is no separate integer variant.
type Metric struct {
	Path  string
	Value float64
}

// Path builds the "{env}.{hostname}.{subsystem}.{name}.{metric}" key every sample is published under.
func Path(env, hostname, subsystem, name, metric string) string {
	return fmt.Sprintf("%s.%s.%s.%s.%s", env, hostname, subsystem, name, metric)
}

func New(path string, value float64) Metric {
	return Metric{Path: path, Value: value}
}
