package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Faucet wraps the collectors tracking claim adjudication and payouts.
type Faucet struct {
	claims        *prometheus.CounterVec
	claimDuration *prometheus.HistogramVec
	payoutLatency prometheus.Histogram
	paidOut       prometheus.Counter
	balance       prometheus.Gauge
	upstream      *prometheus.CounterVec
	donations     prometheus.Counter
	sweeps        *prometheus.CounterVec
}

var (
	faucetOnce     sync.Once
	faucetRegistry *Faucet
)

// Registry returns the process-wide collectors, registering them on first use.
func Registry() *Faucet {
	faucetOnce.Do(func() {
		faucetRegistry = &Faucet{
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "forager",
				Name:      "claims_total",
				Help:      "Adjudicated claims segmented by outcome and reason.",
			}, []string{"outcome", "reason"}),
			claimDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "forager",
				Name:      "claim_duration_seconds",
				Help:      "End-to-end adjudication latency.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"outcome"}),
			payoutLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "forager",
				Subsystem: "payout",
				Name:      "latency_seconds",
				Help:      "Latency of payment node send calls.",
				Buckets:   prometheus.DefBuckets,
			}),
			paidOut: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "forager",
				Subsystem: "payout",
				Name:      "sent_ban_total",
				Help:      "Total BAN paid out since start.",
			}),
			balance: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "forager",
				Subsystem: "payout",
				Name:      "balance_ban",
				Help:      "Last observed faucet balance in BAN.",
			}),
			upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "forager",
				Name:      "upstream_errors_total",
				Help:      "Failed calls to external collaborators.",
			}, []string{"service"}),
			donations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "forager",
				Subsystem: "sweep",
				Name:      "donations_received_total",
				Help:      "Pending blocks received by the donation sweep.",
			}),
			sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "forager",
				Subsystem: "sweep",
				Name:      "runs_total",
				Help:      "Donation sweep runs by result.",
			}, []string{"result"}),
		}
		prometheus.MustRegister(
			faucetRegistry.claims,
			faucetRegistry.claimDuration,
			faucetRegistry.payoutLatency,
			faucetRegistry.paidOut,
			faucetRegistry.balance,
			faucetRegistry.upstream,
			faucetRegistry.donations,
			faucetRegistry.sweeps,
		)
	})
	return faucetRegistry
}

func (m *Faucet) ObserveClaim(outcome, reason string, d time.Duration) {
	if m == nil {
		return
	}
	outcome = label(outcome)
	m.claims.WithLabelValues(outcome, label(reason)).Inc()
	m.claimDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Faucet) ObservePayout(amount decimal.Decimal, d time.Duration) {
	if m == nil {
		return
	}
	m.payoutLatency.Observe(d.Seconds())
	m.paidOut.Add(amount.InexactFloat64())
}

func (m *Faucet) SetBalance(balance decimal.Decimal) {
	if m == nil {
		return
	}
	m.balance.Set(balance.InexactFloat64())
}

func (m *Faucet) RecordUpstreamError(service string) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(label(service)).Inc()
}

func (m *Faucet) RecordSweep(received int, err error) {
	if m == nil {
		return
	}
	// A failed sweep may still have received some blocks.
	if received > 0 {
		m.donations.Add(float64(received))
	}
	if err != nil {
		m.sweeps.WithLabelValues("error").Inc()
		return
	}
	m.sweeps.WithLabelValues("ok").Inc()
}

func label(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "none"
	}
	return value
}
