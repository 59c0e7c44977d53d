package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Example_basicUsage demonstrates creating an isolated registry.
func Example_basicUsage() {
	registry := NewRegistry(prometheus.NewRegistry())

	registry.CapacityRequested.WithLabelValues("db").Add(10)
	registry.CapacityGranted.WithLabelValues("db").Add(8)
	registry.CapacityDenied.WithLabelValues("db", "partial").Inc()

	fmt.Println(testutil.ToFloat64(registry.CapacityGranted.WithLabelValues("db")))
	// Output:
	// 8
}

// Example_customNamespace demonstrates overriding the namespace and adding labels.
func Example_customNamespace() {
	reg := prometheus.NewRegistry()
	registry := NewRegistryFromConfig(Config{
		Enabled:   true,
		Registry:  reg,
		Namespace: "ingest",
		Labels:    prometheus.Labels{"env": "test"},
	})

	registry.QueueAssignments.WithLabelValues("main").Inc()

	families, _ := reg.Gather()
	for _, f := range families {
		fmt.Println(f.GetName(), f.GetMetric()[0].GetLabel()[0].GetValue())
	}
	// Output:
	// ingest_queue_assignments_total test
}
