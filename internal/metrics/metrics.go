package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	sml "github.com/ashajkofci/gosml"
)

// Observer records decode cycle outcomes as prometheus metrics.
type Observer struct {
	bytesRead     prometheus.Counter
	framesDecoded prometheus.Counter
	framesDropped *prometheus.CounterVec
	lastFrame     prometheus.Gauge
	readingValue  *prometheus.GaugeVec
	readingAbsent *prometheus.CounterVec
}

var _ sml.Observer = (*Observer)(nil)

var (
	registerOnce sync.Once
	defaultObs   *Observer
)

// NewObserver creates the collectors and registers them with reg.
func NewObserver(reg prometheus.Registerer, meter string) *Observer {
	labels := prometheus.Labels{"meter": meter}
	o := &Observer{
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sml",
			Subsystem:   "transport",
			Name:        "bytes_read_total",
			Help:        "Bytes read from the meter transport.",
			ConstLabels: labels,
		}),
		framesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sml",
			Subsystem:   "frames",
			Name:        "decoded_total",
			Help:        "Frames validated and decoded.",
			ConstLabels: labels,
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "sml",
			Subsystem:   "frames",
			Name:        "dropped_total",
			Help:        "Frames dropped, by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		lastFrame: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "sml",
			Subsystem:   "frames",
			Name:        "last_decoded_timestamp_seconds",
			Help:        "Unix time of the last decoded frame.",
			ConstLabels: labels,
		}),
		readingValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "sml",
			Subsystem:   "reading",
			Name:        "value",
			Help:        "Last value of each configured entity.",
			ConstLabels: labels,
		}, []string{"entity"}),
		readingAbsent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "sml",
			Subsystem:   "reading",
			Name:        "absent_total",
			Help:        "Decoded frames that did not carry the entity.",
			ConstLabels: labels,
		}, []string{"entity"}),
	}
	reg.MustRegister(o.bytesRead, o.framesDecoded, o.framesDropped, o.lastFrame, o.readingValue, o.readingAbsent)
	return o
}

// Default returns an observer registered with the default registry.
func Default(meter string) *Observer {
	registerOnce.Do(func() {
		defaultObs = NewObserver(prometheus.DefaultRegisterer, meter)
	})
	return defaultObs
}

func (o *Observer) BytesRead(n int) {
	o.bytesRead.Add(float64(n))
}

func (o *Observer) FrameDecoded(readings sml.Readings) {
	o.framesDecoded.Inc()
	o.lastFrame.SetToCurrentTime()
	for name, r := range readings {
		if r.Present {
			o.readingValue.WithLabelValues(name).Set(r.Value)
		} else {
			o.readingAbsent.WithLabelValues(name).Inc()
		}
	}
}

func (o *Observer) FrameDropped(reason string) {
	o.framesDropped.WithLabelValues(reason).Inc()
}
