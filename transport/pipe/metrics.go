package pipe

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/pipeflow/delivery"
)

// Metrics tracks pipe transport activity per endpoint. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	mu sync.Mutex

	sendsTotal          *prometheus.CounterVec
	connectRetriesTotal *prometheus.CounterVec
	receivedTotal       *prometheus.CounterVec
	decodeFailuresTotal *prometheus.CounterVec
	dispositionsTotal   *prometheus.CounterVec
	unsettledTotal      *prometheus.CounterVec
	handlerErrorsTotal  *prometheus.CounterVec
	queueDepth          *prometheus.GaugeVec

	registerer prometheus.Registerer
	registered bool
}

func newPipeCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeflow",
			Subsystem: "pipe",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the collectors. A nil registerer means
// prometheus.DefaultRegisterer. Nothing is registered until Register.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:          registerer,
		sendsTotal:          newPipeCounterVec("sends_total", "Send attempts by endpoint and result", "endpoint", "result"),
		connectRetriesTotal: newPipeCounterVec("connect_retries_total", "Dial attempts that had to be retried", "endpoint"),
		receivedTotal:       newPipeCounterVec("received_total", "Envelopes queued by the receiver", "endpoint"),
		decodeFailuresTotal: newPipeCounterVec("decode_failures_total", "Connections whose payload was not a valid envelope", "endpoint"),
		dispositionsTotal:   newPipeCounterVec("dispositions_total", "Handled deliveries by disposition", "endpoint", "disposition"),
		unsettledTotal:      newPipeCounterVec("unsettled_total", "Handler calls that returned without settling the delivery", "endpoint"),
		handlerErrorsTotal:  newPipeCounterVec("handler_errors_total", "Handler calls that returned an error or panicked", "endpoint"),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pipeflow",
			Subsystem: "pipe",
			Name:      "queue_depth",
			Help:      "Deliveries waiting for the handler",
		}, []string{"endpoint"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.sendsTotal,
		m.connectRetriesTotal,
		m.receivedTotal,
		m.decodeFailuresTotal,
		m.dispositionsTotal,
		m.unsettledTotal,
		m.handlerErrorsTotal,
		m.queueDepth,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *Metrics) recordSend(endpoint string, err error) {
	if m == nil {
		return
	}
	m.sendsTotal.WithLabelValues(endpoint, sendResult(err)).Inc()
}

func (m *Metrics) recordRetries(endpoint string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.connectRetriesTotal.WithLabelValues(endpoint).Add(float64(n))
}

func (m *Metrics) recordReceived(endpoint string, depth int) {
	if m == nil {
		return
	}
	m.receivedTotal.WithLabelValues(endpoint).Inc()
	m.queueDepth.WithLabelValues(endpoint).Set(float64(depth))
}

func (m *Metrics) recordDecodeFailure(endpoint string) {
	if m == nil {
		return
	}
	m.decodeFailuresTotal.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) recordDispatch(endpoint string, out delivery.Outcome, depth int) {
	if m == nil {
		return
	}
	m.dispositionsTotal.WithLabelValues(endpoint, out.Disposition.String()).Inc()
	if out.Unsettled {
		m.unsettledTotal.WithLabelValues(endpoint).Inc()
	}
	if out.Err != nil {
		m.handlerErrorsTotal.WithLabelValues(endpoint).Inc()
	}
	m.queueDepth.WithLabelValues(endpoint).Set(float64(depth))
}

func sendResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConnectionUnavailable):
		return "unavailable"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrClosed):
		return "closed"
	}
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return "io_error"
	}
	return "error"
}
