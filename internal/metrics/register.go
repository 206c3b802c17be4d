// Package metrics holds helpers shared by the Prometheus collectors of the
// activity and preload packages.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by media-stage.
const Namespace = "media_stage"

// RegisterOrReuse registers a collector with the given registerer.
// If the collector is already registered, it returns the existing one so
// that metrics keep being exported when a component is rebuilt, e.g. after
// a cache Close followed by a new cache. Panics on other registration errors.
func RegisterOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
