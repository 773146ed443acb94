package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// Metrics holds all Prometheus metrics for the application.
// Methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	WalletConnects      *prometheus.CounterVec
	WalletNotifications *prometheus.CounterVec
	NetworkSwitches     *prometheus.CounterVec
	Logins              *prometheus.CounterVec
	Logouts             *prometheus.CounterVec
	RoleMismatches      prometheus.Counter
	OwnerBootstraps     prometheus.Counter
	ResolveDuration     *prometheus.HistogramVec
	TxSubmitted         *prometheus.CounterVec
	TxOutcomes          *prometheus.CounterVec
	TxConfirmDuration   *prometheus.HistogramVec
	UnrecognizedLogs    prometheus.Counter
	SessionLoads        *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WalletConnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_wallet_connects_total",
			Help: "Wallet connection attempts by result",
		}, []string{"result"}),
		WalletNotifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_wallet_notifications_total",
			Help: "Out-of-band wallet notifications by kind (accounts, chain, disconnect)",
		}, []string{"kind"}),
		NetworkSwitches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_network_switches_total",
			Help: "Network switch attempts by result",
		}, []string{"result"}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_logins_total",
			Help: "Login attempts by method and result",
		}, []string{"method", "result"}),
		Logouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_logouts_total",
			Help: "Logouts by reason",
		}, []string{"reason"}),
		RoleMismatches: f.NewCounter(prometheus.CounterOpts{
			Name: "guardian_role_mismatches_total",
			Help: "Wallet logins where backend and registry roles disagreed",
		}),
		OwnerBootstraps: f.NewCounter(prometheus.CounterOpts{
			Name: "guardian_owner_bootstraps_total",
			Help: "Registry owner logins resolved to Court without a registry role",
		}),
		ResolveDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guardian_role_resolve_duration_seconds",
			Help:    "Duration of role resolution by path",
			Buckets: latencyBuckets,
		}, []string{"path"}),
		TxSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_tx_submitted_total",
			Help: "Transactions submitted by contract method",
		}, []string{"method"}),
		TxOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_tx_outcomes_total",
			Help: "Transaction outcomes by method (confirmed, reverted, failed, unknown)",
		}, []string{"method", "outcome"}),
		TxConfirmDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guardian_tx_confirm_duration_seconds",
			Help:    "Time from submission to receipt",
			Buckets: latencyBuckets,
		}, []string{"method"}),
		UnrecognizedLogs: f.NewCounter(prometheus.CounterOpts{
			Name: "guardian_tx_unrecognized_logs_total",
			Help: "Receipt logs no decoder recognized",
		}),
		SessionLoads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_session_loads_total",
			Help: "Persisted session loads by result (restored, empty, rejected)",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncWalletConnect(result string) {
	if m != nil {
		m.WalletConnects.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncWalletNotification(kind string) {
	if m != nil {
		m.WalletNotifications.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncNetworkSwitch(result string) {
	if m != nil {
		m.NetworkSwitches.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncLogin(method, result string) {
	if m != nil {
		m.Logins.WithLabelValues(method, result).Inc()
	}
}

func (m *Metrics) IncLogout(reason string) {
	if m != nil {
		m.Logouts.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncRoleMismatch() {
	if m != nil {
		m.RoleMismatches.Inc()
	}
}

func (m *Metrics) IncOwnerBootstrap() {
	if m != nil {
		m.OwnerBootstraps.Inc()
	}
}

// ObserveResolve records a role resolution. Call with time.Now() at the
// start of the operation.
func (m *Metrics) ObserveResolve(path string, start time.Time) {
	if m != nil {
		m.ResolveDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) IncTxSubmitted(method string) {
	if m != nil {
		m.TxSubmitted.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) IncTxOutcome(method, outcome string) {
	if m != nil {
		m.TxOutcomes.WithLabelValues(method, outcome).Inc()
	}
}

// ObserveConfirm records the wait between submission and receipt.
func (m *Metrics) ObserveConfirm(method string, start time.Time) {
	if m != nil {
		m.TxConfirmDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) AddUnrecognizedLogs(n int) {
	if m != nil && n > 0 {
		m.UnrecognizedLogs.Add(float64(n))
	}
}

func (m *Metrics) IncSessionLoad(result string) {
	if m != nil {
		m.SessionLoads.WithLabelValues(result).Inc()
	}
}
