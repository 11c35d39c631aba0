package loyalty

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	holdsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_holds_committed_total",
		Help: "Кол-во закоммиченных холдов по режимам",
	}, []string{"mode"})

	pointsEarned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_points_earned_total",
		Help: "Кол-во начисленных баллов",
	})

	pointsRedeemed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_points_redeemed_total",
		Help: "Кол-во списанных баллов",
	})

	refundsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_refunds_total",
		Help: "Кол-во обработанных возвратов",
	})
)
