package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	Claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mailcast_claims_total", Help: "Claim attempts by outcome"},
		[]string{"result"}, // claimed, race_lost, no_work, error
	)
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mailcast_sends_total", Help: "Relay send outcomes"},
		[]string{"result"}, // delivered, bounced
	)
	SendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "mailcast_send_latency_seconds", Help: "Relay send latency"},
	)
	ComposeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mailcast_compose_failures_total", Help: "Abandoned units by reason"},
		[]string{"reason"}, // not_found, error
	)
	CampaignsFinished = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mailcast_campaigns_finished_total", Help: "Campaigns transitioned to finished"},
	)
	RecordFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mailcast_record_failures_total", Help: "Delivery outcomes that could not be persisted"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(Claims, Sends, SendLatency, ComposeFailures, CampaignsFinished, RecordFailures)
}
