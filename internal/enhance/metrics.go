package enhance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("goalforge.enhance")

var (
	// passTotal counts enhancement passes by outcome: admitted, gated, idle.
	passTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goalforge_enhance_pass_total",
		Help: "Enhancement passes by outcome",
	}, []string{"outcome"})

	synthesizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goalforge_enhance_synthesized_total",
		Help: "Exception samples turned into candidate objectives",
	})

	undefinedProbabilityTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goalforge_enhance_undefined_probability_total",
		Help: "Candidates skipped because their denominator was zero",
	})

	// admittedTotal counts admissions by placement: root or child.
	admittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goalforge_enhance_admitted_total",
		Help: "Exception-derived objectives admitted into the goal graph",
	}, []string{"placement"})

	prunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goalforge_enhance_pruned_total",
		Help: "Active objectives removed as descendants of an admitted goal",
	})

	candidateProbability = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "goalforge_enhance_candidate_probability",
		Help:    "Occurrence probability of ranked candidates",
		Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.4, 0.6, 0.8, 1},
	})
)
