// Package metrics holds the Prometheus collectors for the API, the settlement paths and the background workers.
// Every collector is registered under the "market" namespace.
package metrics

const namespace = "market"

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
