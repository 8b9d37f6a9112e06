package audit

import (
	"sync"

	"go.uber.org/zap"
)

// minSampleSize is the smallest number of observations the sensor needs
// before it will emit a warning — a handful of early failures at process
// start shouldn't page anyone.
const minSampleSize = 100

// failureRateThreshold is the rolling failure rate above which the sensor
// warns, per spec.md §4.10.
const failureRateThreshold = 0.10

// FailureRateSensor is a fixed-size sliding window of audit-write outcomes.
// It logs a zap.Warn once the rolling failure rate crosses 10% over at
// least 100 observations, giving operators a signal that the SQL mirror
// (or the queue consumer feeding it) is unhealthy without making every
// single audit failure noisy.
type FailureRateSensor struct {
	mu      sync.Mutex
	logger  *zap.Logger
	window  []bool
	size    int
	next    int
	filled  int
	failures int
}

// NewFailureRateSensor creates a sensor with a window of the given size
// (spec.md's "≥100 ops" suggests at least 100; a size below minSampleSize
// is raised to minSampleSize).
func NewFailureRateSensor(logger *zap.Logger, size int) *FailureRateSensor {
	if size < minSampleSize {
		size = minSampleSize
	}
	return &FailureRateSensor{
		logger: logger,
		window: make([]bool, size),
		size:   size,
	}
}

// Record adds one outcome (true = success) to the window, evicting the
// oldest observation once the window is full, and warns if the resulting
// failure rate crosses the threshold.
func (s *FailureRateSensor) Record(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filled == s.size {
		if !s.window[s.next] {
			s.failures--
		}
	} else {
		s.filled++
	}
	s.window[s.next] = success
	if !success {
		s.failures++
	}
	s.next = (s.next + 1) % s.size

	if s.filled < minSampleSize {
		return
	}
	rate := float64(s.failures) / float64(s.filled)
	if rate > failureRateThreshold {
		s.logger.Warn("audit failure rate exceeds threshold",
			zap.Float64("failure_rate", rate),
			zap.Int("sample_size", s.filled),
		)
	}
}
