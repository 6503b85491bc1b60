package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type BondMetrics struct {
	marketsCreated prometheus.Counter
	marketsClosed  *prometheus.CounterVec
	purchases      *prometheus.CounterVec
	redemptions    prometheus.Counter
	marketPrice    *prometheus.GaugeVec
	feesClaimed    *prometheus.CounterVec
}

var (
	bondOnce     sync.Once
	bondRegistry *BondMetrics
)

// Bond returns the process-wide bond market metrics registry.
func Bond() *BondMetrics {
	bondOnce.Do(func() {
		bondRegistry = &BondMetrics{
			marketsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "bond_markets_created_total",
				Help: "Count of bond markets opened.",
			}),
			marketsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "bond_markets_closed_total",
				Help: "Count of bond markets closed by reason.",
			}, []string{"reason"}),
			purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "bond_purchases_total",
				Help: "Count of purchase attempts by outcome.",
			}, []string{"result"}),
			redemptions: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "bond_redemptions_total",
				Help: "Count of matured claim redemptions.",
			}),
			marketPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "bond_market_price",
				Help: "Last observed price per market, as a float of the fixed-point value.",
			}, []string{"market"}),
			feesClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "bond_fees_claimed_total",
				Help: "Fee amounts paid out to their owners by asset, as a float of the base units.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			bondRegistry.marketsCreated,
			bondRegistry.marketsClosed,
			bondRegistry.purchases,
			bondRegistry.redemptions,
			bondRegistry.marketPrice,
			bondRegistry.feesClaimed,
		)
	})
	return bondRegistry
}

func (m *BondMetrics) ObserveMarketCreated() {
	if m == nil {
		return
	}
	m.marketsCreated.Inc()
}

func (m *BondMetrics) ObserveMarketClosed(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.marketsClosed.WithLabelValues(reason).Inc()
}

func (m *BondMetrics) ObservePurchase(result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.purchases.WithLabelValues(result).Inc()
}

func (m *BondMetrics) ObserveRedemption() {
	if m == nil {
		return
	}
	m.redemptions.Inc()
}

func (m *BondMetrics) SetMarketPrice(marketID uint64, price float64) {
	if m == nil {
		return
	}
	m.marketPrice.WithLabelValues(strconv.FormatUint(marketID, 10)).Set(price)
}

func (m *BondMetrics) ObserveFeesClaimed(asset string, amount float64) {
	if m == nil {
		return
	}
	if asset == "" {
		asset = "unknown"
	}
	m.feesClaimed.WithLabelValues(asset).Add(amount)
}
