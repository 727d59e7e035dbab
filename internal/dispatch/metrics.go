package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_actions_total",
	Help: "Number of remediation actions, by action and result",
}, []string{"action", "result"})
