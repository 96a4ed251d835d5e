package opqueue

import "time"

// latencySmoothing is the weight given to the newest attempt duration in the
// rolling latency average. An exponential moving average is used so the
// figure tracks recent behavior without storing a sample window.
const latencySmoothing = 0.2

// Statistics is a point-in-time snapshot of queue activity. All counters are
// mutated only by the worker goroutine; readers always receive a copy.
type Statistics struct {
	Total       int64         // Operations resolved (succeeded + failed)
	Succeeded   int64         // Operations resolved successfully
	Failed      int64         // Operations rejected (timeout, terminal error, retry exhaustion)
	Retries     int64         // Retry attempts performed across all operations
	AvgLatency  time.Duration // Rolling average execution time per attempt
	QueueLength int           // Operations currently waiting
	Processing  bool          // Whether an operation is executing right now
}

// observeLatency folds one attempt duration into the rolling average.
func (s *Statistics) observeLatency(d time.Duration) {
	if s.AvgLatency == 0 {
		s.AvgLatency = d
		return
	}
	s.AvgLatency = time.Duration(
		(1-latencySmoothing)*float64(s.AvgLatency) + latencySmoothing*float64(d),
	)
}
