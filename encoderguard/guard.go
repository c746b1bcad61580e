// Package encoderguard arbitrates between trusted joint-angle telemetry and
// last-known-good state: it filters out dud encoder values, clamps
// small limit breaches, and flags joints whose readings jump implausibly
// between ticks.
package encoderguard

import (
	"fmt"
	"strconv"
	"strings"

	"armctl/armmodel"
)

// Tuning constants, carried over from the original encoder-fault detector.
const (
	MaxNumPrevAngles      = 5
	MaxFishyVals          = 2
	DudEncoderEpsilon     = 1e-6
	EncoderErrorThreshold = 0.5 // rad, scaled by staleness (k+1)
	AcceptableBeyondLimit = 0.05
)

// window is a bounded deque of recorded (sanitized) readings for one
// joint, newest at index 0.
type window struct {
	readings []float64
}

func (w *window) push(v float64) {
	w.readings = append([]float64{v}, w.readings...)
	if len(w.readings) > MaxNumPrevAngles {
		w.readings = w.readings[:MaxNumPrevAngles]
	}
}

// Guard holds the per-joint sliding windows and the configured dud-value
// list used to sanitize incoming telemetry before it reaches the model.
type Guard struct {
	windows   [armmodel.NumJoints]window
	dudValues []float64
}

// NewGuard builds a Guard. dudValues defaults to {0.0} when nil, matching
// the original firmware's DUD_ENCODER_VALUES seed.
func NewGuard(dudValues []float64) *Guard {
	if dudValues == nil {
		dudValues = []float64{0.0}
	}
	return &Guard{dudValues: dudValues}
}

// Result is the outcome of sanitizing one telemetry message.
type Result struct {
	Sanitized   armmodel.Configuration
	FaultJoints []int
	ErrorRaised bool
	Message     string
}

// Sanitize filters raw joint-angle readings against model's limits and
// this guard's windows, substituting the model's last-known-good angle for
// any joint found faulty, then records the (possibly substituted) reading
// into that joint's window.
func (g *Guard) Sanitize(raw armmodel.Configuration, model *armmodel.Model) Result {
	current := model.Angles()
	sanitized := raw
	var faulty []int

	for i := 0; i < armmodel.NumJoints; i++ {
		v := raw[i]

		isDud := false
		for _, d := range g.dudValues {
			if abs(v-d) < DudEncoderEpsilon {
				isDud = true
				break
			}
		}
		if isDud {
			sanitized[i] = current[i]
			continue
		}

		lo, hi := model.Limits(i)
		if v < lo-AcceptableBeyondLimit || v > hi+AcceptableBeyondLimit {
			faulty = append(faulty, i)
			sanitized[i] = current[i]
			continue
		}
		if v < lo {
			v = lo
		} else if v > hi {
			v = hi
		}

		if g.jointIsFaulty(i, v) {
			faulty = append(faulty, i)
			sanitized[i] = current[i]
			continue
		}

		sanitized[i] = v
	}

	for i := 0; i < armmodel.NumJoints; i++ {
		g.windows[i].push(sanitized[i])
	}

	result := Result{Sanitized: sanitized, FaultJoints: faulty}
	if len(faulty) > 0 {
		result.ErrorRaised = true
		result.Message = formatFaultMessage(faulty)
	}
	return result
}

// jointIsFaulty applies the temporal-jump check: compare v against each
// window entry, with the discrepancy threshold scaling by staleness. A
// window with fewer than MaxNumPrevAngles entries marks the joint faulty
// on any single violation (the stricter rule this repository implements,
// see DESIGN.md); a full window requires strictly more than MaxFishyVals
// violations.
func (g *Guard) jointIsFaulty(i int, v float64) bool {
	w := g.windows[i].readings
	if len(w) == 0 {
		return false
	}

	violations := 0
	for k, prev := range w {
		threshold := EncoderErrorThreshold * float64(k+1)
		if abs(v-prev) > threshold {
			violations++
		}
	}

	if len(w) < MaxNumPrevAngles {
		return violations > 0
	}
	return violations > MaxFishyVals
}

// formatFaultMessage enumerates faulty joints by index, matching
// mrover_arm.cpp's encoder-error message, which appends std::to_string(joint)
// rather than a joint name.
func formatFaultMessage(faulty []int) string {
	indices := make([]string, len(faulty))
	for i, j := range faulty {
		indices[i] = strconv.Itoa(j)
	}
	return fmt.Sprintf("Encoder Error in encoder(s) (joint A = 0, F = 5): %s", strings.Join(indices, ", "))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
