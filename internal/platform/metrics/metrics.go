package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	GuardDenials          *prometheus.CounterVec
	PatientsRegistered    prometheus.Counter
	AppointmentsConfirmed prometheus.Counter
	ConsentAcceptances    prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		GuardDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_guard_denials_total",
			Help: "Requests denied by the guard pipeline, by reason",
		}, []string{"reason"}),
		PatientsRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "docflow_patients_registered_total",
			Help: "Total number of patient self-registrations",
		}),
		AppointmentsConfirmed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "docflow_appointments_confirmed_total",
			Help: "Total number of appointment confirmations",
		}),
		ConsentAcceptances: promauto.NewCounter(prometheus.CounterOpts{
			Name: "docflow_consent_acceptances_total",
			Help: "Total number of consent records created",
		}),
	}
}

// All increment helpers tolerate a nil receiver so handler tests can run
// without a registry.

// IncrementGuardDenial counts one denied request.
func (m *Metrics) IncrementGuardDenial(reason string) {
	if m == nil {
		return
	}
	m.GuardDenials.WithLabelValues(reason).Inc()
}

// IncrementPatientsRegistered records a completed self-registration.
func (m *Metrics) IncrementPatientsRegistered() {
	if m == nil {
		return
	}
	m.PatientsRegistered.Inc()
}

// IncrementAppointmentsConfirmed records an appointment confirmation.
func (m *Metrics) IncrementAppointmentsConfirmed() {
	if m == nil {
		return
	}
	m.AppointmentsConfirmed.Inc()
}

// AddConsentAcceptances records freshly created consent records.
func (m *Metrics) AddConsentAcceptances(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ConsentAcceptances.Add(float64(n))
}
