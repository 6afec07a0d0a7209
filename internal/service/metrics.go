package service

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts domain outcomes; request-level metrics live in the HTTP
// middleware.
type Metrics struct {
	DepositsInitiated  prometheus.Counter
	DepositsCredited   prometheus.Counter
	DepositsFailed     prometheus.Counter
	TransfersCompleted prometheus.Counter
	WebhooksRejected   *prometheus.CounterVec
	KeysCreated        prometheus.Counter
	KeysRevoked        prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		DepositsInitiated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_deposits_initiated_total",
			Help: "Deposits initiated against the payment gateway.",
		}),
		DepositsCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_deposits_credited_total",
			Help: "Deposits credited by webhook confirmation.",
		}),
		DepositsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_deposits_failed_total",
			Help: "Deposits marked failed.",
		}),
		TransfersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_transfers_completed_total",
			Help: "Wallet to wallet transfers committed.",
		}),
		WebhooksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_webhooks_rejected_total",
			Help: "Webhook deliveries rejected before processing.",
		}, []string{"reason"}),
		KeysCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_api_keys_created_total",
			Help: "API keys created, including rollovers.",
		}),
		KeysRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_api_keys_revoked_total",
			Help: "API keys revoked.",
		}),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.DepositsInitiated,
		m.DepositsCredited,
		m.DepositsFailed,
		m.TransfersCompleted,
		m.WebhooksRejected,
		m.KeysCreated,
		m.KeysRevoked,
	)
}
