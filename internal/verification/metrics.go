package verification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var verificationsStarted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sentinel_verifications_started_total",
	Help: "Number of captcha challenges sent",
})

var verificationResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_verification_results_total",
	Help: "Number of finished captcha challenges, by outcome",
}, []string{"outcome"})
