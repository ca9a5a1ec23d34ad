package connection

// Signals are the inputs to priority calculation for a peer.
type Signals struct {
	IsFollowed      bool
	SubscriberCount int
	AvgLatencyMs    int64
}

// Priority computes the connection priority tier for the given signals.
// Tier 1 is the most valuable peer class, tier 10 the least. The first
// matching rule wins.
func Priority(s Signals) int {
	switch {
	case s.IsFollowed && s.AvgLatencyMs < 100:
		return 1
	case s.IsFollowed && s.SubscriberCount > 100:
		return 2
	case s.IsFollowed:
		return 3
	case s.SubscriberCount > 1000:
		return 4
	case s.SubscriberCount > 500:
		return 5
	case s.SubscriberCount > 100:
		return 6
	case s.AvgLatencyMs < 100:
		return 7
	case s.AvgLatencyMs < 200:
		return 8
	case s.AvgLatencyMs < 500:
		return 9
	default:
		return 10
	}
}

// latencyTier buckets a latency sample into the bands that Priority
// distinguishes.
func latencyTier(ms int64) int {
	switch {
	case ms < 100:
		return 0
	case ms < 200:
		return 1
	case ms < 500:
		return 2
	default:
		return 3
	}
}

// ShouldRecalc reports whether the change from prev to next signals is
// significant enough to warrant recomputing the peer's priority. Small
// jitter in subscriber counts and latency is ignored.
func ShouldRecalc(prev, next Signals) bool {
	if prev.IsFollowed != next.IsFollowed {
		return true
	}
	if subscriberDelta(prev.SubscriberCount, next.SubscriberCount) {
		return true
	}
	dl := next.AvgLatencyMs - prev.AvgLatencyMs
	if dl < 0 {
		dl = -dl
	}
	if dl > 50 {
		return true
	}
	return latencyTier(prev.AvgLatencyMs) != latencyTier(next.AvgLatencyMs)
}

func subscriberDelta(prev, next int) bool {
	if prev == 0 {
		return next != 0
	}
	d := next - prev
	if d < 0 {
		d = -d
	}
	return d*5 > prev
}
