package metrics

import (
	"context"
	"time"

	"github.com/example/orderflow/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderStats is the part of the order store the gauges read from.
type OrderStats interface {
	CountByStatus(ctx context.Context, status models.OrderStatus) (int64, error)
	SumTotalAmountCreatedToday(ctx context.Context) (decimal.Decimal, error)
}

// OrderGauges reads the store on every scrape. A failed query drops that
// sample instead of failing the scrape.
type OrderGauges struct {
	stats   OrderStats
	timeout time.Duration
	logger  *zap.Logger

	byStatus    *prometheus.Desc
	amountToday *prometheus.Desc
}

func NewOrderGauges(stats OrderStats, logger *zap.Logger) *OrderGauges {
	return &OrderGauges{
		stats:   stats,
		timeout: 2 * time.Second,
		logger:  logger.Named("gauges"),
		byStatus: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "orders_by_status"),
			"Orders currently in each status.",
			[]string{"status"}, nil),
		amountToday: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "orders_total_amount_today"),
			"Sum of the totals of orders created since local midnight.",
			nil, nil),
	}
}

func (g *OrderGauges) Describe(ch chan<- *prometheus.Desc) {
	ch <- g.byStatus
	ch <- g.amountToday
}

func (g *OrderGauges) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	for _, status := range models.OrderStatuses {
		n, err := g.stats.CountByStatus(ctx, status)
		if err != nil {
			g.logger.Warn("Failed to count orders", zap.String("status", status.String()), zap.Error(err))
			continue
		}
		ch <- prometheus.MustNewConstMetric(g.byStatus, prometheus.GaugeValue, float64(n), status.String())
	}

	total, err := g.stats.SumTotalAmountCreatedToday(ctx)
	if err != nil {
		g.logger.Warn("Failed to sum today's orders", zap.Error(err))
		return
	}
	ch <- prometheus.MustNewConstMetric(g.amountToday, prometheus.GaugeValue, total.InexactFloat64())
}
