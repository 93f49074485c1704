package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem. All record
// helpers tolerate a nil receiver so tests can pass a nil Metrics.
type Metrics struct {
	IngestsTotal      *prometheus.CounterVec
	AssessmentsTotal  *prometheus.CounterVec
	Confidence        prometheus.Histogram
	DraftsTotal       prometheus.Counter
	SendsTotal        *prometheus.CounterVec
	FollowupsReopened prometheus.Counter
	LLMCallsTotal     prometheus.Counter
	LLMTokensIn       prometheus.Counter
	LLMTokensOut      prometheus.Counter
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_ingests_total",
			Help: "Total inbound events by result.",
		}, []string{"result"}),
		AssessmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_assessments_total",
			Help: "Total confidence assessments by routing decision.",
		}, []string{"route"}),
		Confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_assessment_confidence",
			Help:    "Confidence scores assigned to drafted replies.",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0 .. 100
		}),
		DraftsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_drafts_total",
			Help: "Total drafted replies created.",
		}),
		SendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_sends_total",
			Help: "Total response send attempts by outcome.",
		}, []string{"outcome"}),
		FollowupsReopened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_followups_reopened_total",
			Help: "Total deferred conversations reopened at their follow-up time.",
		}),
		LLMCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_llm_calls_total",
			Help: "Total LLM provider calls.",
		}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
	}

	reg.MustRegister(
		m.IngestsTotal,
		m.AssessmentsTotal,
		m.Confidence,
		m.DraftsTotal,
		m.SendsTotal,
		m.FollowupsReopened,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
	)

	return m
}

func (m *Metrics) recordIngest(result string) {
	if m == nil {
		return
	}
	m.IngestsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) recordAssessment(route string, confidence float64) {
	if m == nil {
		return
	}
	m.AssessmentsTotal.WithLabelValues(route).Inc()
	m.Confidence.Observe(confidence)
}

func (m *Metrics) recordDraft() {
	if m == nil {
		return
	}
	m.DraftsTotal.Inc()
}

func (m *Metrics) recordSend(outcome SendOutcome) {
	if m == nil {
		return
	}
	m.SendsTotal.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) recordFollowups(n int) {
	if m == nil || n == 0 {
		return
	}
	m.FollowupsReopened.Add(float64(n))
}

func (m *Metrics) recordLLMCall(inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.LLMCallsTotal.Inc()
	m.LLMTokensIn.Add(float64(inputTokens))
	m.LLMTokensOut.Add(float64(outputTokens))
}
