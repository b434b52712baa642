package identity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_token_validations_total",
		Help: "Inbound token validations by outcome.",
	}, []string{"outcome"})

	exchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_token_exchanges_total",
		Help: "Identity-provider token exchanges by strategy and outcome.",
	}, []string{"strategy", "outcome"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_token_cache_lookups_total",
		Help: "Token cache lookups by result.",
	}, []string{"result"})
)
