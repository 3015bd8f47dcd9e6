package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RowsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorfault_rows_routed_total",
			Help: "Total input rows routed, by detected sensor family",
		},
		[]string{"sensor_type"},
	)

	Predictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorfault_predictions_total",
			Help: "Prediction outcomes by sensor family (ok, error, no_model)",
		},
		[]string{"sensor_type", "status"},
	)

	PredictLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensorfault_predict_latency_seconds",
			Help:    "Model invocation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sensor_type"},
	)

	AliasMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorfault_alias_matches_total",
			Help: "Column alias resolutions by the rule that fired",
		},
		[]string{"rule"},
	)

	ModelServerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorfault_model_server_calls_total",
			Help: "Total remote model server calls",
		},
		[]string{"family", "status"},
	)

	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorfault_uploads_total",
			Help: "Uploaded tables processed, by mode",
		},
		[]string{"mode"},
	)
)
