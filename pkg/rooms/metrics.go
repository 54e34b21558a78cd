package rooms

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/argus-labs/lobby-launcher/pkg/rooms/store"
	"github.com/argus-labs/lobby-launcher/pkg/rooms/types"
)

const metricsNamespace = "rooms"

type metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	closed   prometheus.Counter
}

func newMetrics(registry *prometheus.Registry, rooms *store.RoomStore) *metrics {
	factory := promauto.With(registry)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "open_rooms",
		Help:      "Number of rooms currently tracked by the directory.",
	}, func() float64 { return float64(rooms.Stats().Rooms) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "seated_players",
		Help:      "Number of players currently seated in a room.",
	}, func() float64 { return float64(rooms.Stats().Players) })

	return &metrics{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Directory operations by operation and return code.",
		}, []string{"operation", "return_code"}),
		closed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rooms_closed_total",
			Help:      "Rooms removed because their last player left.",
		}),
	}
}

func (m *metrics) observe(operation string, code types.ReturnCode) {
	m.requests.WithLabelValues(operation, code.String()).Inc()
}

// handler serves the registry in the Prometheus exposition format.
func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
