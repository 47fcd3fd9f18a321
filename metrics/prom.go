package metrics
import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)
var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelite_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastelite_paste_consumed_total",
			Help: "no. of consume attempts by outcome",
		},
		[]string{"outcome"},
	)
	PasteExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastelite_paste_expired_total",
			Help: "no. of pastes retired on access, by exhausted limit",
		},
		[]string{"reason"},
	)
	PasteSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelite_paste_swept_total",
		Help: "no. of time-expired pastes reclaimed by the sweeper",
	})
	LivePastes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pastelite_live_pastes",
		Help: "no. of pastes currently held in memory",
	})
	IDCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelite_id_collisions_total",
		Help: "no. of generated ids that were already live",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pastelite_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastelite_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	SweepCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelite_sweep_cycles_total",
		Help: "no. of sweep worker cycles",
	})
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pastelite_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)
