package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Charging
	ActiveChargingSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sigec_active_charging_sessions",
		Help: "Transactions currently between Preparing and Finishing",
	})

	EnergyDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sigec_energy_delivered_wh_total",
		Help: "Energy delivered by closed transactions in Wh",
	})

	TransactionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigec_transactions_closed_total",
		Help: "Transactions reaching a terminal state",
	}, []string{"state"})

	MeterSamplesRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sigec_meter_samples_rejected_total",
		Help: "Meter samples rejected as out of order or decreasing",
	})

	OrphanedTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sigec_orphaned_transactions",
		Help: "Active transactions whose device is offline",
	})

	AuthDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigec_auth_decisions_total",
		Help: "Id token decisions by status and source",
	}, []string{"status", "source"})

	// Protocol
	OCPPMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigec_ocpp_messages_total",
		Help: "OCPP calls by action and direction",
	}, []string{"action", "direction"})

	OCPPCallErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigec_ocpp_call_errors_total",
		Help: "CallError replies sent to devices by error code",
	}, []string{"code"})

	OutboundCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sigec_ocpp_outbound_call_seconds",
		Help:    "Latency of CSMS initiated calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"action", "outcome"})

	PendingCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sigec_ocpp_pending_calls",
		Help: "Outbound calls awaiting a reply",
	})

	ConnectedDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sigec_connected_devices",
		Help: "Devices with a live session",
	})

	SessionEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigec_session_evictions_total",
		Help: "Sessions removed from the registry by reason",
	}, []string{"reason"})

	DatabaseLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sigec_database_latency_seconds",
		Help:    "Persistence sink write latency",
		Buckets: prometheus.DefBuckets,
	})
)
