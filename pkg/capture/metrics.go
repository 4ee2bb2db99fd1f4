package capture

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/timeline-capture/pkg/capture/timeline"
)

type metrics struct {
	framesRead    prometheus.Counter
	bytesRead     prometheus.Counter
	anomalies     *prometheus.CounterVec
	loads         *prometheus.CounterVec
	framesWritten prometheus.Counter
	bytesWritten  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		framesRead: registerOrGet(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_frames_read_total",
			Help: "Total number of frames read from capture streams.",
		})),
		bytesRead: registerOrGet(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_bytes_read_total",
			Help: "Total number of bytes read from capture streams.",
		})),
		anomalies: registerOrGet(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_anomalies_total",
			Help: "Total number of records dropped while reading captures, by reason.",
		}, []string{"reason"})),
		loads: registerOrGet(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_loads_total",
			Help: "Total number of capture loads, by outcome.",
		}, []string{"status"})),
		framesWritten: registerOrGet(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_frames_written_total",
			Help: "Total number of frames written to capture streams.",
		})),
		bytesWritten: registerOrGet(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_bytes_written_total",
			Help: "Total number of bytes written to capture streams.",
		})),
	}
}

func (m *metrics) observeLoad(model *timeline.Model, err error) {
	if model == nil {
		m.loads.WithLabelValues("failed").Inc()
		return
	}
	report := model.Report()
	m.framesRead.Add(float64(report.Frames))
	m.bytesRead.Add(float64(report.Bytes))
	for _, a := range timeline.Anomalies() {
		if n := report.Count(a); n > 0 {
			m.anomalies.WithLabelValues(a.String()).Add(float64(n))
		}
	}
	m.loads.WithLabelValues(model.Status().String()).Inc()
}

// registerOrGet registers the collector c with the provided registerer.
// If the registerer is nil, the collector is returned without registration.
// If the collector is already registered, the existing collector is returned.
func registerOrGet[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	err := reg.Register(c)
	if err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector.(T)
		}
		panic(err)
	}
	return c
}
