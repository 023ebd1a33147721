package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpRequestsTotal     *prometheus.CounterVec
	httpLatencySeconds    *prometheus.HistogramVec
	httpErrorsTotal       *prometheus.CounterVec
	loginAttemptsTotal    *prometheus.CounterVec
	accountLockoutsTotal  prometheus.Counter
	tokenRejectionsTotal  *prometheus.CounterVec
	authzDenialsTotal     *prometheus.CounterVec
	examSubmissionsTotal  *prometheus.CounterVec
	examScorePercentage   prometheus.Histogram
	uploadRejectedTotal   *prometheus.CounterVec
	resultEventsPublished *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used across the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exam_api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		loginAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_auth_login_attempts_total",
			Help: "Login attempts partitioned by outcome.",
		}, []string{"method", "outcome"})

		accountLockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exam_auth_account_lockouts_total",
			Help: "Number of times an account was locked after repeated failures.",
		})

		tokenRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_auth_token_rejections_total",
			Help: "Session tokens rejected during verification.",
		}, []string{"code"})

		authzDenialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_authz_denials_total",
			Help: "Authorization gate denials partitioned by code.",
		}, []string{"action", "code"})

		examSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_submissions_total",
			Help: "Exam attempts finished, partitioned by status and pass outcome.",
		}, []string{"status", "passed"})

		examScorePercentage = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exam_score_percentage",
			Help:    "Distribution of scored attempt percentages.",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		})

		uploadRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_question_image_rejected_total",
			Help: "Question image uploads rejected, partitioned by reason.",
		}, []string{"reason"})

		resultEventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_result_events_total",
			Help: "Result completion events published to the message bus.",
		}, []string{"outcome"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			loginAttemptsTotal,
			accountLockoutsTotal,
			tokenRejectionsTotal,
			authzDenialsTotal,
			examSubmissionsTotal,
			examScorePercentage,
			uploadRejectedTotal,
			resultEventsPublished,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// LoginAttempts exposes the login outcome counter.
func LoginAttempts() *prometheus.CounterVec {
	RegisterMetrics()
	return loginAttemptsTotal
}

// AccountLockouts exposes the lockout counter.
func AccountLockouts() prometheus.Counter {
	RegisterMetrics()
	return accountLockoutsTotal
}

// TokenRejections exposes the token rejection counter.
func TokenRejections() *prometheus.CounterVec {
	RegisterMetrics()
	return tokenRejectionsTotal
}

// AuthzDenials exposes the authorization denial counter.
func AuthzDenials() *prometheus.CounterVec {
	RegisterMetrics()
	return authzDenialsTotal
}

// ExamSubmissions exposes the finished attempt counter.
func ExamSubmissions() *prometheus.CounterVec {
	RegisterMetrics()
	return examSubmissionsTotal
}

// ExamScores exposes the percentage histogram.
func ExamScores() prometheus.Histogram {
	RegisterMetrics()
	return examScorePercentage
}

// UploadRejected exposes the rejected image upload counter.
func UploadRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRejectedTotal
}

// ResultEvents exposes the result event publishing counter.
func ResultEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return resultEventsPublished
}
