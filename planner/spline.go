package planner

import (
	"github.com/pkg/errors"

	"armctl/armmodel"
)

// Spline is a time-parameterized curve over [0,1] fit through a planned
// path's waypoints, parameterized by cumulative Euclidean distance so that
// t advances roughly proportionally to arc length in joint space.
type Spline struct {
	waypoints []armmodel.Configuration
	knots     []float64 // cumulative distance fraction in [0,1], one per waypoint
	// per-joint per-segment cubic coefficients: coeffs[joint][segment] = [a,b,c,d]
	// evaluated as a + b*u + c*u^2 + d*u^3, u = local segment fraction in [0,1].
	coeffs [armmodel.NumJoints][][4]float64
}

// ErrEmptyPath is returned when FitSpline is given fewer than two
// waypoints.
var ErrEmptyPath = errors.New("path has too few waypoints to spline")

// FitSpline builds a C1-continuous cubic spline over path's waypoints.
func FitSpline(path Path) (*Spline, error) {
	if len(path) < 2 {
		return nil, ErrEmptyPath
	}

	n := len(path)
	knots := make([]float64, n)
	total := 0.0
	dists := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		dists[i] = path[i].Distance(path[i+1])
		total += dists[i]
	}
	if total == 0 {
		// Degenerate: every waypoint coincides. Spread knots evenly.
		for i := range knots {
			knots[i] = float64(i) / float64(n-1)
		}
	} else {
		cum := 0.0
		for i := 0; i < n; i++ {
			knots[i] = cum / total
			if i < n-1 {
				cum += dists[i]
			}
		}
		knots[n-1] = 1.0
	}

	s := &Spline{waypoints: append(Path(nil), path...), knots: knots}
	for j := 0; j < armmodel.NumJoints; j++ {
		values := make([]float64, n)
		for i := range path {
			values[i] = path[i][j]
		}
		s.coeffs[j] = fitNaturalCubic(values, knots)
	}
	return s, nil
}

// fitNaturalCubic returns per-segment [a,b,c,d] coefficients for a cubic
// Hermite spline through values at the given knots, one segment per
// consecutive pair, evaluated over a local u in [0,1] per segment. Tangents
// are Catmull-Rom-style finite differences with respect to the knot
// parameter, scaled by each segment's span, giving C1 continuity in t
// without solving a tridiagonal system; second derivatives are not
// continuous across knots, so this is not a natural spline.
func fitNaturalCubic(values, knots []float64) [][4]float64 {
	n := len(values)
	segments := make([][4]float64, n-1)

	tangent := func(i int) float64 {
		lo, hi := max(i-1, 0), min(i+1, n-1)
		if knots[hi] <= knots[lo] {
			return 0
		}
		return (values[hi] - values[lo]) / (knots[hi] - knots[lo])
	}

	for i := 0; i < n-1; i++ {
		p0, p1 := values[i], values[i+1]
		h := knots[i+1] - knots[i]
		m0, m1 := tangent(i)*h, tangent(i+1)*h
		// Hermite basis coefficients in power form: a + b*u + c*u^2 + d*u^3
		a := p0
		b := m0
		c := 3*(p1-p0) - 2*m0 - m1
		d := 2*(p0-p1) + m0 + m1
		segments[i] = [4]float64{a, b, c, d}
	}
	return segments
}

// At evaluates the spline at parameter t in [0,1], clamped to range.
func (s *Spline) At(t float64) armmodel.Configuration {
	if t <= 0 {
		return s.waypoints[0]
	}
	if t >= 1 {
		return s.waypoints[len(s.waypoints)-1]
	}

	seg := 0
	for seg < len(s.knots)-2 && t >= s.knots[seg+1] {
		seg++
	}
	span := s.knots[seg+1] - s.knots[seg]
	u := 0.0
	if span > 0 {
		u = (t - s.knots[seg]) / span
	}

	var cfg armmodel.Configuration
	for j := 0; j < armmodel.NumJoints; j++ {
		c := s.coeffs[j][seg]
		cfg[j] = c[0] + c[1]*u + c[2]*u*u + c[3]*u*u*u
	}
	return cfg
}

// Waypoints returns the original path this spline was fit from.
func (s *Spline) Waypoints() Path {
	return append(Path(nil), s.waypoints...)
}
