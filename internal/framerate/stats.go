// Package framerate measures the arrival rate of source frames.
package framerate

import (
	"math"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a
	// fraction of the mean. 30 FPS is stable below 4.5 FPS stddev.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of the
	// expected interval. 30 FPS (33ms) is stable below 6.6ms jitter.
	jitterStabilityThreshold = 0.20
)

// Stats summarizes frame arrivals over a window.
type Stats struct {
	Frames       int           `json:"frames"`
	Window       time.Duration `json:"window"`
	FPSMean      float64       `json:"fps-mean"`
	FPSStdDev    float64       `json:"fps-stddev"`
	FPSMin       float64       `json:"fps-min"`
	FPSMax       float64       `json:"fps-max"`
	JitterMean   float64       `json:"jitter-mean"`
	JitterStdDev float64       `json:"jitter-stddev"`
	JitterMax    float64       `json:"jitter-max"`
	IsStable     bool          `json:"is-stable"`
}

// Calculate computes statistics from frame arrival times observed over
// window.
//
// A stream is stable when the instantaneous FPS stddev is below 15% of the
// mean and the mean jitter is below 20% of the expected interval.
func Calculate(frameTimes []time.Time, window time.Duration) Stats {
	n := len(frameTimes)
	st := Stats{Frames: n, Window: window}
	if n == 0 || window <= 0 {
		return st
	}
	st.FPSMean = float64(n) / window.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds(); interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return st
	}

	st.FPSMin, st.FPSMax = instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		st.FPSMin = math.Min(st.FPSMin, fps)
		st.FPSMax = math.Max(st.FPSMax, fps)
		diff := fps - st.FPSMean
		sumSquares += diff * diff
	}
	st.FPSStdDev = math.Sqrt(sumSquares / float64(len(instantaneous)))

	expected := 1.0 / st.FPSMean
	jitters := make([]float64, 0, n-1)
	var jitterSum float64
	for i := 1; i < n; i++ {
		j := math.Abs(frameTimes[i].Sub(frameTimes[i-1]).Seconds() - expected)
		jitters = append(jitters, j)
		jitterSum += j
		st.JitterMax = math.Max(st.JitterMax, j)
	}
	st.JitterMean = jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		diff := j - st.JitterMean
		jitterSquares += diff * diff
	}
	st.JitterStdDev = math.Sqrt(jitterSquares / float64(len(jitters)))

	st.IsStable = st.FPSStdDev < st.FPSMean*fpsStabilityThreshold &&
		st.JitterMean < expected*jitterStabilityThreshold
	return st
}
