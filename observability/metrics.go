package observability

import (
	"math"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	prizeMetricsOnce sync.Once
	prizeRegistry    *PrizeMetrics

	ticketMetricsOnce sync.Once
	ticketRegistry    *TicketMetrics

	channelMetricsOnce sync.Once
	channelRegistry    *ChannelMetrics

	couponMetricsOnce sync.Once
	couponRegistry    *CouponMetrics
)

// PrizeMetrics wraps collectors tracking prize-side controller activity.
type PrizeMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	lockedWei  prometheus.Gauge
}

// Prize returns the lazily-initialised prize controller metrics registry.
func Prize() *PrizeMetrics {
	prizeMetricsOnce.Do(func() {
		prizeRegistry = &PrizeMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "raffle",
				Subsystem: "prize",
				Name:      "operations_total",
				Help:      "Count of prize controller operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "raffle",
				Subsystem: "prize",
				Name:      "errors_total",
				Help:      "Count of prize controller failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "raffle",
				Subsystem: "prize",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for prize controller operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			lockedWei: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "raffle",
				Subsystem: "prize",
				Name:      "locked_eth_wei",
				Help:      "Native value currently held in prize custody, in wei.",
			}),
		}
		prometheus.MustRegister(
			prizeRegistry.operations,
			prizeRegistry.errors,
			prizeRegistry.latency,
			prizeRegistry.lockedWei,
		)
	})
	return prizeRegistry
}

// Observe records the execution metrics for a prize controller operation.
func (m *PrizeMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := labelOperation(operation)
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(op, labelReason(err)).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// SetLockedWei updates the custody gauge with the current locked total.
func (m *PrizeMetrics) SetLockedWei(value *big.Int) {
	if m == nil {
		return
	}
	m.lockedWei.Set(bigToFloat(value))
}

// TicketMetrics wraps collectors tracking ticket-side controller activity.
type TicketMetrics struct {
	operations  *prometheus.CounterVec
	errors      *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	ticketsSold prometheus.Counter
	potWei      prometheus.Gauge
}

// Ticket returns the lazily-initialised ticket controller metrics registry.
func Ticket() *TicketMetrics {
	ticketMetricsOnce.Do(func() {
		ticketRegistry = &TicketMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "raffle",
				Subsystem: "ticket",
				Name:      "operations_total",
				Help:      "Count of ticket controller operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "raffle",
				Subsystem: "ticket",
				Name:      "errors_total",
				Help:      "Count of ticket controller failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "raffle",
				Subsystem: "ticket",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ticket controller operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			ticketsSold: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "raffle",
				Subsystem: "ticket",
				Name:      "tickets_sold_total",
				Help:      "Total tickets issued across all raffles.",
			}),
			potWei: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "raffle",
				Subsystem: "ticket",
				Name:      "pot_wei",
				Help:      "Sale proceeds currently held by the ticket-side pot, in wei.",
			}),
		}
		prometheus.MustRegister(
			ticketRegistry.operations,
			ticketRegistry.errors,
			ticketRegistry.latency,
			ticketRegistry.ticketsSold,
			ticketRegistry.potWei,
		)
	})
	return ticketRegistry
}

// Observe records the execution metrics for a ticket controller operation.
func (m *TicketMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := labelOperation(operation)
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(op, labelReason(err)).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// AddTicketsSold advances the issuance counter after a settled purchase.
func (m *TicketMetrics) AddTicketsSold(count uint32) {
	if m == nil || count == 0 {
		return
	}
	m.ticketsSold.Add(float64(count))
}

// SetPotWei updates the pot gauge with the current balance.
func (m *TicketMetrics) SetPotWei(value *big.Int) {
	if m == nil {
		return
	}
	m.potWei.Set(bigToFloat(value))
}

// ChannelMetrics wraps collectors tracking fabric traffic between the sides.
type ChannelMetrics struct {
	messages   *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	feeBalance *prometheus.GaugeVec
}

// Channel returns the lazily-initialised channel metrics registry.
func Channel() *ChannelMetrics {
	channelMetricsOnce.Do(func() {
		channelRegistry = &ChannelMetrics{
			messages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "raffle",
				Subsystem: "channel",
				Name:      "messages_total",
				Help:      "Count of fabric messages segmented by direction and outcome.",
			}, []string{"direction", "outcome"}),
			deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "raffle",
				Subsystem: "channel",
				Name:      "deliveries_total",
				Help:      "Count of relay delivery results segmented by outcome.",
			}, []string{"outcome"}),
			feeBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "raffle",
				Subsystem: "channel",
				Name:      "fee_balance_wei",
				Help:      "Remaining outbound fee balance per controller side, in wei.",
			}, []string{"side"}),
		}
		prometheus.MustRegister(
			channelRegistry.messages,
			channelRegistry.deliveries,
			channelRegistry.feeBalance,
		)
	})
	return channelRegistry
}

// RecordSend counts an outbound send attempt.
func (m *ChannelMetrics) RecordSend(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.messages.WithLabelValues("outbound", outcome).Inc()
}

// RecordDelivery counts one relay delivery result. Outcomes should be stable
// strings such as "accepted", "deduped" or "failed".
func (m *ChannelMetrics) RecordDelivery(outcome string) {
	if m == nil {
		return
	}
	label := strings.TrimSpace(strings.ToLower(outcome))
	if label == "" {
		label = "unknown"
	}
	m.deliveries.WithLabelValues(label).Inc()
	m.messages.WithLabelValues("inbound", label).Inc()
}

// SetFeeBalance updates the fee gauge for one controller side.
func (m *ChannelMetrics) SetFeeBalance(side string, value *big.Int) {
	if m == nil {
		return
	}
	m.feeBalance.WithLabelValues(labelSide(side)).Set(bigToFloat(value))
}

// CouponMetrics wraps collectors tracking the price-signer service.
type CouponMetrics struct {
	issued    *prometheus.CounterVec
	throttles *prometheus.CounterVec
}

// Coupon returns the lazily-initialised coupon signer metrics registry.
func Coupon() *CouponMetrics {
	couponMetricsOnce.Do(func() {
		couponRegistry = &CouponMetrics{
			issued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "raffle",
				Subsystem: "coupon",
				Name:      "issued_total",
				Help:      "Count of coupon issue requests segmented by outcome.",
			}, []string{"outcome"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "raffle",
				Subsystem: "coupon",
				Name:      "throttles_total",
				Help:      "Count of coupon requests rejected by quota or rate limits.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(couponRegistry.issued, couponRegistry.throttles)
	})
	return couponRegistry
}

// RecordIssue counts a coupon issue attempt.
func (m *CouponMetrics) RecordIssue(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.issued.WithLabelValues(outcome).Inc()
}

// RecordThrottle increments the throttle counter for the supplied reason.
// Reasons should be stable strings such as "rate_limit" or "quota_exceeded".
func (m *CouponMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// MetricsHandler serves the process metrics registry for scraping.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func labelOperation(operation string) string {
	trimmed := strings.TrimSpace(operation)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

func labelSide(side string) string {
	trimmed := strings.TrimSpace(strings.ToLower(side))
	switch trimmed {
	case "prize", "ticket":
		return trimmed
	default:
		return "unknown"
	}
}

func labelReason(err error) string {
	if err == nil {
		return "unspecified"
	}
	reason := strings.TrimSpace(err.Error())
	if reason == "" {
		return "unknown"
	}
	return reason
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
