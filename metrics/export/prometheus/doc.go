// Package prometheus exposes authsession metrics as a
// prometheus.Collector.
//
// Register [PrometheusExporter] with any registry, or serve it standalone
// through [PrometheusExporter.Handler]. Metric names and bucket bounds
// come from internaldefs and match the OTel exporter.
//
// # What this package must NOT do
//
//   - Register with the default registry implicitly.
//   - Mutate manager state.
package prometheus
