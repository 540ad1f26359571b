package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpdatesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{Name: "odpbot_updates_received", Help: "Updates received by input category"},
		[]string{"kind"},
	)
	RecordsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{Name: "odpbot_records_submitted", Help: "Record submissions by outcome"},
		[]string{"outcome"},
	)
	PhotoUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{Name: "odpbot_photo_uploads", Help: "Photo uploads by outcome"},
		[]string{"outcome"},
	)
	ODPSearches = promauto.NewCounter(
		prometheus.CounterOpts{Name: "odpbot_odp_searches", Help: "Nearest ODP searches served"},
	)
	STODetections = promauto.NewCounterVec(
		prometheus.CounterOpts{Name: "odpbot_sto_detections", Help: "STO detection attempts by source"},
		[]string{"source"},
	)
	HandlerPanics = promauto.NewCounter(
		prometheus.CounterOpts{Name: "odpbot_handler_panics", Help: "Recovered handler panics"},
	)
	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{Name: "odpbot_sessions_expired", Help: "Sessions dropped for inactivity"},
	)
)
