package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gezibash/arc-conduit/pkg/client"
	"github.com/gezibash/arc-conduit/pkg/driver"
	"github.com/gezibash/arc-conduit/pkg/logging"
)

// Metrics holds the Prometheus registry, the client meters and the
// process-level meters conduit commands record into.
type Metrics struct {
	Registry          *prometheus.Registry
	Client            *client.Metrics
	OperationDuration *prometheus.HistogramVec
	OperationTotal    *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
}

// NewMetrics creates a custom Prometheus registry with the conduit meters.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conduit_operation_duration_seconds",
		Help:    "Duration of operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	opTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conduit_operation_total",
		Help: "Total number of operations.",
	}, []string{"operation", "status"})

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conduit_transport_errors_total",
		Help: "Errors reported through client error handlers, by code.",
	}, []string{"code"})

	reg.MustRegister(opDuration, opTotal, errorsTotal)

	return &Metrics{
		Registry:          reg,
		Client:            client.NewMetrics(reg),
		OperationDuration: opDuration,
		OperationTotal:    opTotal,
		ErrorsTotal:       errorsTotal,
	}
}

// ErrorHandler counts transport errors by code and logs them.
func (m *Metrics) ErrorHandler(log *logging.Logger) client.ErrorHandler {
	return client.ErrorHandlerFunc(func(code int32, message string) {
		m.ErrorsTotal.WithLabelValues(strconv.Itoa(int(code))).Inc()
		log.Error("transport error", "code", code, "message", message)
	})
}

// StatsSource is anything that reports engine statistics.
type StatsSource interface {
	Stats() driver.Stats
}

// WatchDriver exports the engine's counters and gauges on every scrape.
func (m *Metrics) WatchDriver(src StatsSource) error {
	return m.Registry.Register(newDriverCollector(src))
}

type driverCollector struct {
	src StatsSource

	clients, publications, subscriptions, images, logs *prometheus.Desc

	bytes, fragments, backPressure, notConnected, adminActions, timeouts *prometheus.Desc
}

func newDriverCollector(src StatsSource) *driverCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("conduit_driver_"+name, help, nil, nil)
	}
	return &driverCollector{
		src:           src,
		clients:       desc("clients", "Connected clients."),
		publications:  desc("publications", "Open publications."),
		subscriptions: desc("subscriptions", "Open subscriptions."),
		images:        desc("images", "Linked images."),
		logs:          desc("logs", "Allocated log buffers."),
		bytes:         desc("bytes_published_total", "Payload bytes appended to logs."),
		fragments:     desc("fragments_delivered_total", "Fragments delivered to subscribers."),
		backPressure:  desc("back_pressure_total", "Offers rejected by flow control."),
		notConnected:  desc("not_connected_total", "Offers rejected for lack of subscribers."),
		adminActions:  desc("admin_actions_total", "Offers that triggered a term rotation."),
		timeouts:      desc("client_timeouts_total", "Clients dropped for missing keepalives."),
	}
}

func (c *driverCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.clients, c.publications, c.subscriptions, c.images, c.logs,
		c.bytes, c.fragments, c.backPressure, c.notConnected, c.adminActions, c.timeouts,
	} {
		ch <- d
	}
}

func (c *driverCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	gauges := []struct {
		desc *prometheus.Desc
		v    int
	}{
		{c.clients, s.Clients},
		{c.publications, s.Publications},
		{c.subscriptions, s.Subscriptions},
		{c.images, s.Images},
		{c.logs, s.Logs},
	}
	for _, g := range gauges {
		ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, float64(g.v))
	}
	counters := []struct {
		desc *prometheus.Desc
		v    int64
	}{
		{c.bytes, s.BytesPublished},
		{c.fragments, s.FragmentsDelivered},
		{c.backPressure, s.BackPressured},
		{c.notConnected, s.NotConnected},
		{c.adminActions, s.AdminActions},
		{c.timeouts, s.ClientTimeouts},
	}
	for _, k := range counters {
		ch <- prometheus.MustNewConstMetric(k.desc, prometheus.CounterValue, float64(k.v))
	}
}
