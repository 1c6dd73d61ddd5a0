/* go-raspberrypi-usbboot
 *
 * Prometheus metrics. client_golang is listed in the teacher pack's
 * go.mod (appkins-org-go-redfish-uefi) but never imported there; this
 * module wires it for real, the same correction made for ini.v1 in
 * config.go.
 */

package usbboot

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the scanner's session lifecycle as Prometheus
// series. It also implements EventSink, wrapping an optional
// downstream sink so metrics collection never has to live alongside
// event-consumption logic in the scanner itself.
type Metrics struct {
	next EventSink

	sessionsActive  prometheus.Gauge
	sessionProgress *prometheus.GaugeVec
	sessionsTotal   *prometheus.CounterVec
}

// NewMetrics creates a Metrics sink and registers its collectors with
// reg. next receives every event after metrics have been updated; it
// may be nil.
func NewMetrics(reg prometheus.Registerer, next EventSink) *Metrics {
	m := &Metrics{
		next: next,
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "usbboot_sessions_active",
			Help: "Number of USB-boot sessions currently in progress.",
		}),
		sessionProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "usbboot_session_progress_percent",
			Help: "Progress percentage of an active session, by port id.",
		}, []string{"port_id"}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usbboot_sessions_total",
			Help: "Total sessions completed, partitioned by outcome.",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.sessionsActive, m.sessionProgress, m.sessionsTotal)
	}

	return m
}

// Emit implements EventSink.
func (m *Metrics) Emit(e Event) {
	switch e.Kind {
	case EventAttach:
		m.sessionsActive.Inc()

	case EventProgress:
		m.sessionProgress.WithLabelValues(e.PortID).Set(float64(e.Progress))

	case EventDetach:
		m.sessionsActive.Dec()
		m.sessionProgress.DeleteLabelValues(e.PortID)
		m.sessionsTotal.WithLabelValues(detachOutcome(e)).Inc()
	}

	if m.next != nil {
		m.next.Emit(e)
	}
}

// detachOutcome labels a detach event for the usbboot_sessions_total
// counter: "success" when the session reached its terminal step with
// no error, "error" when a protocol error ended it early, and
// "unplugged" when the 5s detach-grace timer fired without the step
// having advanced (§4.6) -- progress under 100 with no error.
func detachOutcome(e Event) string {
	switch {
	case e.Err != nil:
		return "error"
	case e.Progress >= 100:
		return "success"
	default:
		return "unplugged"
	}
}
