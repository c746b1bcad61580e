// Package armmodel holds the static geometry and live configuration of the
// six-joint arm: joint axes and offsets, per-joint limits, and the cached
// forward-kinematics transforms produced by the most recent FK evaluation.
package armmodel

import (
	"fmt"
	"math"
	"sync"

	"github.com/golang/geo/r3"
)

// NumJoints is the number of joints this model supports (A..F).
const NumJoints = 6

// Joint indices, named the way the original arm firmware names them.
const (
	JointA = iota
	JointB
	JointC
	JointD
	JointE
	JointF
)

var jointNames = [NumJoints]string{"A", "B", "C", "D", "E", "F"}

// JointName returns the single-letter name for a joint index.
func JointName(i int) string {
	if i < 0 || i >= NumJoints {
		return fmt.Sprintf("?%d", i)
	}
	return jointNames[i]
}

// Configuration is a point in joint-angle space, radians.
type Configuration [NumJoints]float64

// Sub returns c - other, componentwise.
func (c Configuration) Sub(other Configuration) Configuration {
	var out Configuration
	for i := range out {
		out[i] = c[i] - other[i]
	}
	return out
}

// Norm returns the Euclidean distance of c from the origin.
func (c Configuration) Norm() float64 {
	sum := 0.0
	for _, v := range c {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// Distance returns the Euclidean distance between two configurations.
func (c Configuration) Distance(other Configuration) float64 {
	return c.Sub(other).Norm()
}

// Lerp returns the configuration t of the way from c to other, t in [0,1].
func (c Configuration) Lerp(other Configuration, t float64) Configuration {
	var out Configuration
	for i := range out {
		out[i] = c[i] + (other[i]-c[i])*t
	}
	return out
}

// Joint describes one joint's static geometry and limits. Axis and Offset
// are expressed in the parent joint's frame.
type Joint struct {
	Name              string
	Axis              r3.Vector
	Offset            r3.Vector
	LowerLimit        float64
	UpperLimit        float64
	MaxSpeed          float64 // rad/s
	EncoderOffset     float64 // raw units
	EncoderMultiplier float64 // dimensionless, sign carries direction
}

// Clamp restricts theta to the joint's limits.
func (j Joint) Clamp(theta float64) float64 {
	if theta < j.LowerLimit {
		return j.LowerLimit
	}
	if theta > j.UpperLimit {
		return j.UpperLimit
	}
	return theta
}

// WithinTolerance reports whether theta is within the limits, allowing a
// breach of at most tol beyond either bound.
func (j Joint) WithinTolerance(theta, tol float64) bool {
	return theta >= j.LowerLimit-tol && theta <= j.UpperLimit+tol
}

// Transform is a rigid transform (rotation + translation), composed along
// the joint chain during forward kinematics.
type Transform struct {
	R [3][3]float64
	T r3.Vector
}

// Identity returns the identity transform.
func Identity() Transform {
	var t Transform
	t.R[0][0], t.R[1][1], t.R[2][2] = 1, 1, 1
	return t
}

// AxisRotation returns the transform that rotates by theta radians about
// the given unit axis, using Rodrigues' rotation formula, with no
// translation component.
func AxisRotation(axis r3.Vector, theta float64) Transform {
	axis = axis.Normalize()
	s, c := math.Sin(theta), math.Cos(theta)
	k := axis
	var t Transform
	// R = I + sin(theta) K + (1-cos(theta)) K^2, K the cross-product matrix of k.
	t.R[0][0] = c + k.X*k.X*(1-c)
	t.R[0][1] = k.X*k.Y*(1-c) - k.Z*s
	t.R[0][2] = k.X*k.Z*(1-c) + k.Y*s
	t.R[1][0] = k.Y*k.X*(1-c) + k.Z*s
	t.R[1][1] = c + k.Y*k.Y*(1-c)
	t.R[1][2] = k.Y*k.Z*(1-c) - k.X*s
	t.R[2][0] = k.Z*k.X*(1-c) - k.Y*s
	t.R[2][1] = k.Z*k.Y*(1-c) + k.X*s
	t.R[2][2] = c + k.Z*k.Z*(1-c)
	return t
}

// Translation returns a pure-translation transform.
func Translation(v r3.Vector) Transform {
	t := Identity()
	t.T = v
	return t
}

// Apply transforms a point by this transform: R*p + T.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: t.R[0][0]*p.X + t.R[0][1]*p.Y + t.R[0][2]*p.Z + t.T.X,
		Y: t.R[1][0]*p.X + t.R[1][1]*p.Y + t.R[1][2]*p.Z + t.T.Y,
		Z: t.R[2][0]*p.X + t.R[2][1]*p.Y + t.R[2][2]*p.Z + t.T.Z,
	}
}

// Compose returns t followed by other, i.e. other * t in matrix terms:
// applying the result to a point equals other.Apply(t.Apply(p)).
func (t Transform) Compose(other Transform) Transform {
	var out Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			sum := 0.0
			for k := 0; k < 3; k++ {
				sum += other.R[i][k] * t.R[k][j]
			}
			out.R[i][j] = sum
		}
	}
	out.T = other.Apply(t.T)
	return out
}

// Point returns the translation component, i.e. this transform applied to
// the origin.
func (t Transform) Point() r3.Vector {
	return t.T
}

// Matrix4 returns the row-major 4x4 homogeneous matrix for this transform,
// the wire format for the /fk_transform output.
func (t Transform) Matrix4() [4][4]float64 {
	var m [4][4]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = t.R[i][j]
		}
	}
	m[0][3], m[1][3], m[2][3] = t.T.X, t.T.Y, t.T.Z
	m[3][3] = 1
	return m
}

// EulerAngles extracts extrinsic roll/pitch/yaw (radians) from the rotation
// component, XYZ convention.
func (t Transform) EulerAngles() (roll, pitch, yaw float64) {
	pitch = math.Asin(clamp(-t.R[2][0], -1, 1))
	if math.Abs(t.R[2][0]) < 0.999999 {
		roll = math.Atan2(t.R[2][1], t.R[2][2])
		yaw = math.Atan2(t.R[1][0], t.R[0][0])
	} else {
		roll = math.Atan2(-t.R[1][2], t.R[1][1])
		yaw = 0
	}
	return roll, pitch, yaw
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Model is the live arm: static joint geometry plus the current angle
// vector and the transforms cached by the last FK evaluation. All access
// is serialized by mu, per the single-mutex discipline the controller
// relies on.
type Model struct {
	mu         sync.RWMutex
	joints     [NumJoints]Joint
	angles     Configuration
	transforms [NumJoints]Transform
	locked     [NumJoints]bool
}

// NewModel builds a Model from the given joint geometry, starting at the
// zero configuration.
func NewModel(joints [NumJoints]Joint) *Model {
	m := &Model{joints: joints}
	for i := range m.transforms {
		m.transforms[i] = Identity()
	}
	return m
}

// Joint returns a copy of joint i's static geometry.
func (m *Model) Joint(i int) Joint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.joints[i]
}

// Joints returns a copy of all joint geometry.
func (m *Model) Joints() [NumJoints]Joint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.joints
}

// Angles returns the current configuration.
func (m *Model) Angles() Configuration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.angles
}

// SetAngles overwrites the current configuration without clamping or
// safety checks; callers that need clamping should go through ClampToLimits
// first. This is the primitive the IK backup/restore mechanism uses to
// snapshot and roll back.
func (m *Model) SetAngles(cfg Configuration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.angles = cfg
}

// ClampToLimits returns cfg with each joint clamped to its configured
// limits.
func (m *Model) ClampToLimits(cfg Configuration) Configuration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out Configuration
	for i := range out {
		out[i] = m.joints[i].Clamp(cfg[i])
	}
	return out
}

// Limits returns the [lo, hi] limits for joint i.
func (m *Model) Limits(i int) (lo, hi float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.joints[i].LowerLimit, m.joints[i].UpperLimit
}

// MaxSpeed returns joint i's configured maximum angular speed, rad/s.
func (m *Model) MaxSpeed(i int) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.joints[i].MaxSpeed
}

// Locked reports whether joint i is currently locked against motion.
func (m *Model) Locked(i int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locked[i]
}

// SetLocked sets joint i's lock flag.
func (m *Model) SetLocked(i int, locked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked[i] = locked
}

// LockedJoints returns a snapshot of all lock flags.
func (m *Model) LockedJoints() [NumJoints]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locked
}

// Transform returns the cached world-frame transform for joint i, as of
// the last FK evaluation.
func (m *Model) Transform(i int) Transform {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transforms[i]
}

// Transforms returns all cached joint transforms.
func (m *Model) Transforms() [NumJoints]Transform {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transforms
}

// SetTransforms overwrites the cached joint transforms. Called only by the
// kinematics solver after an FK evaluation.
func (m *Model) SetTransforms(t [NumJoints]Transform) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transforms = t
}

// RawToLogical converts a raw encoder reading for joint i to a logical
// (radian) angle: theta = (raw - offset) * multiplier.
func (m *Model) RawToLogical(i int, raw float64) float64 {
	j := m.Joint(i)
	return (raw - j.EncoderOffset) * j.EncoderMultiplier
}

// LogicalToRaw is the inverse of RawToLogical, used when emitting setpoints
// to hardware.
func (m *Model) LogicalToRaw(i int, logical float64) float64 {
	j := m.Joint(i)
	if j.EncoderMultiplier == 0 {
		return j.EncoderOffset
	}
	return logical/j.EncoderMultiplier + j.EncoderOffset
}
