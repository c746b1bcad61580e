// Package kinematics implements forward and inverse kinematics over the
// joint chain described by an armmodel.Model: FK composes per-joint
// transforms along the parent chain, and IK descends toward a target pose
// via an iteratively-damped Jacobian, restoring the model on failure via a
// per-invocation backup snapshot.
package kinematics

import (
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"armctl/armmodel"
)

// Tuning constants, carried over verbatim from the original kinematics
// solver this package reimplements.
const (
	MaxIterations            = 500
	MaxIterationsLowMovement = 10
	PosThreshold             = 0.05
	AngleThreshold           = 0.02
	KPositionStep            = 0.1
	KAngleStep               = 0.24
	DeltaTheta               = 0.0001
	EpsilonDist              = 1e-10
	EpsilonAngleDist         = 1e-10
	MaxRandomRestarts        = 25
)

// Pose is an end-effector target or observation: a position and an
// optional orientation, extrinsic roll/pitch/yaw radians.
type Pose struct {
	Position       r3.Vector
	Orientation    r3.Vector // Roll (X), Pitch (Y), Yaw (Z)
	UseOrientation bool
}

// CollisionPair names two non-adjacent joints whose link segments must
// stay at least Clearance apart.
type CollisionPair struct {
	JointA, JointB int
	Clearance      float64
}

// Solver evaluates FK/IK and safety for a single armmodel.Model.
type Solver struct {
	model          *armmodel.Model
	collisionPairs []CollisionPair
	rng            *rand.Rand
}

// NewSolver builds a Solver bound to model, checking the given collision
// pairs during IsSafe.
func NewSolver(model *armmodel.Model, collisionPairs []CollisionPair, rng *rand.Rand) *Solver {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Solver{model: model, collisionPairs: collisionPairs, rng: rng}
}

// FK computes the per-joint world-frame transforms for configuration cfg.
// Pure with respect to cfg and the model's static geometry; does not
// mutate the model.
func (s *Solver) FK(cfg armmodel.Configuration) [armmodel.NumJoints]armmodel.Transform {
	joints := s.model.Joints()
	var transforms [armmodel.NumJoints]armmodel.Transform
	acc := armmodel.Identity()
	for i := 0; i < armmodel.NumJoints; i++ {
		local := armmodel.AxisRotation(joints[i].Axis, cfg[i]).Compose(armmodel.Translation(joints[i].Offset))
		acc = local.Compose(acc)
		transforms[i] = acc
	}
	return transforms
}

// ApplyFK evaluates FK at cfg and stores both the configuration and the
// resulting transforms into the model. This is the only path that mutates
// the model's cached transforms.
func (s *Solver) ApplyFK(cfg armmodel.Configuration) {
	transforms := s.FK(cfg)
	s.model.SetAngles(cfg)
	s.model.SetTransforms(transforms)
}

// EndEffectorPose returns the pose of the last joint's frame for cfg.
func (s *Solver) EndEffectorPose(cfg armmodel.Configuration) Pose {
	transforms := s.FK(cfg)
	last := transforms[armmodel.NumJoints-1]
	roll, pitch, yaw := last.EulerAngles()
	return Pose{
		Position:       last.Point(),
		Orientation:    r3.Vector{X: roll, Y: pitch, Z: yaw},
		UseOrientation: true,
	}
}

// IsSafe reports whether cfg respects joint limits and self-collision
// clearances. The returned reason is empty when safe.
func (s *Solver) IsSafe(cfg armmodel.Configuration) (bool, string) {
	joints := s.model.Joints()
	for i := 0; i < armmodel.NumJoints; i++ {
		if !joints[i].WithinTolerance(cfg[i], 0) {
			return false, "joint " + armmodel.JointName(i) + " out of limits"
		}
	}
	transforms := s.FK(cfg)
	for _, pair := range s.collisionPairs {
		segA := linkSegment(transforms, pair.JointA)
		segB := linkSegment(transforms, pair.JointB)
		if segmentDistance(segA, segB) < pair.Clearance {
			return false, "self-collision between joints " +
				armmodel.JointName(pair.JointA) + " and " + armmodel.JointName(pair.JointB)
		}
	}
	return true, ""
}

// linkSegment returns the capsule centerline for the link ending at joint,
// from the preceding joint's origin (or the chain's base, the world
// origin, for joint 0) to joint's own origin.
func linkSegment(transforms [armmodel.NumJoints]armmodel.Transform, joint int) [2]r3.Vector {
	end := transforms[joint].Point()
	start := r3.Vector{}
	if joint > 0 {
		start = transforms[joint-1].Point()
	}
	return [2]r3.Vector{start, end}
}

// segmentDistance returns the closest distance between two line segments
// in 3D, the centerline distance the configured link capsules are checked
// against.
func segmentDistance(a, b [2]r3.Vector) float64 {
	d1 := a[1].Sub(a[0])
	d2 := b[1].Sub(b[0])
	r := a[0].Sub(b[0])

	aa := d1.Dot(d1)
	ee := d2.Dot(d2)
	f := d2.Dot(r)

	var s, t float64
	const eps = 1e-12

	if aa <= eps && ee <= eps {
		// Both segments degenerate to points.
		return r.Norm()
	}
	if aa <= eps {
		s = 0
		t = clamp01(f / ee)
	} else {
		c := d1.Dot(r)
		if ee <= eps {
			t = 0
			s = clamp01(-c / aa)
		} else {
			b0 := d1.Dot(d2)
			denom := aa*ee - b0*b0
			if denom > eps {
				s = clamp01((b0*f - c*ee) / denom)
			} else {
				s = 0
			}
			t = (b0*s + f) / ee
			if t < 0 {
				t = 0
				s = clamp01(-c / aa)
			} else if t > 1 {
				t = 1
				s = clamp01((b0 - c) / aa)
			}
		}
	}

	closestA := a[0].Add(d1.Mul(s))
	closestB := b[0].Add(d2.Mul(t))
	return closestA.Sub(closestB).Norm()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// IKOptions configures a single IK attempt.
type IKOptions struct {
	SetRandomStart bool
	UseOrientation bool
	Locked         [armmodel.NumJoints]bool
}

// IK performs a single iteratively-damped Jacobian descent from either the
// model's current configuration or a random start, toward target. On
// success the model is left at the solved configuration; on failure the
// model's angles are restored to their value at entry via an
// invocation-scoped backup, never a shared stack.
func (s *Solver) IK(target Pose, opts IKOptions) (armmodel.Configuration, bool) {
	entry := s.model.Angles()
	theta := entry
	if opts.SetRandomStart {
		theta = s.randomConfiguration()
	}

	lowMovementStreak := 0
	backup := theta

	for iter := 0; iter < MaxIterations; iter++ {
		pose := s.EndEffectorPose(theta)
		dPos := target.Position.Sub(pose.Position)

		var dAng r3.Vector
		if target.UseOrientation && opts.UseOrientation {
			dAng = target.Orientation.Sub(pose.Orientation)
		}

		if dPos.Norm() < PosThreshold && (!opts.UseOrientation || dAng.Norm() < AngleThreshold) {
			s.model.SetAngles(theta)
			return theta, true
		}

		step := s.errorStep(dPos, dAng, opts.UseOrientation)
		jac := s.finiteDifferenceJacobian(theta, opts)
		delta := dampedPseudoInverseSolve(jac, step)

		candidate := theta
		for i := range candidate {
			candidate[i] += delta[i]
		}
		candidate = s.model.ClampToLimits(candidate)

		movement := candidate.Distance(theta)

		backup = theta
		theta = candidate
		if safe, _ := s.IsSafe(theta); !safe {
			theta = backup
			continue
		}

		lowThreshold := EpsilonDist
		if opts.UseOrientation {
			lowThreshold = EpsilonAngleDist
		}
		if movement < lowThreshold {
			lowMovementStreak++
			if lowMovementStreak >= MaxIterationsLowMovement {
				break
			}
		} else {
			lowMovementStreak = 0
		}
	}

	s.model.SetAngles(entry)
	return entry, false
}

// IKWithRestarts matches the original control flow: one deterministic
// attempt from the live configuration, then up to MaxRandomRestarts
// randomized attempts, returning the first success.
func (s *Solver) IKWithRestarts(target Pose, useOrientation bool) (armmodel.Configuration, bool) {
	if cfg, ok := s.IK(target, IKOptions{SetRandomStart: false, UseOrientation: useOrientation}); ok {
		return cfg, true
	}
	for i := 0; i < MaxRandomRestarts; i++ {
		if cfg, ok := s.IK(target, IKOptions{SetRandomStart: true, UseOrientation: useOrientation}); ok {
			return cfg, true
		}
	}
	return s.model.Angles(), false
}

func (s *Solver) errorStep(dPos, dAng r3.Vector, useOrientation bool) []float64 {
	if useOrientation {
		return []float64{
			dPos.X * KPositionStep, dPos.Y * KPositionStep, dPos.Z * KPositionStep,
			dAng.X * KAngleStep, dAng.Y * KAngleStep, dAng.Z * KAngleStep,
		}
	}
	return []float64{dPos.X * KPositionStep, dPos.Y * KPositionStep, dPos.Z * KPositionStep}
}

// finiteDifferenceJacobian estimates d(pose)/d(theta) column-wise by
// perturbing each unlocked joint by DeltaTheta. Locked joints contribute a
// zero column so the solver never moves them.
func (s *Solver) finiteDifferenceJacobian(theta armmodel.Configuration, opts IKOptions) [][]float64 {
	rows := 3
	if opts.UseOrientation {
		rows = 6
	}
	jac := make([][]float64, rows)
	for r := range jac {
		jac[r] = make([]float64, armmodel.NumJoints)
	}

	basePose := s.EndEffectorPose(theta)

	for j := 0; j < armmodel.NumJoints; j++ {
		if opts.Locked[j] || s.model.Locked(j) {
			continue
		}
		perturbed := theta
		perturbed[j] += DeltaTheta
		pose := s.EndEffectorPose(perturbed)

		jac[0][j] = (pose.Position.X - basePose.Position.X) / DeltaTheta
		jac[1][j] = (pose.Position.Y - basePose.Position.Y) / DeltaTheta
		jac[2][j] = (pose.Position.Z - basePose.Position.Z) / DeltaTheta
		if opts.UseOrientation {
			jac[3][j] = (pose.Orientation.X - basePose.Orientation.X) / DeltaTheta
			jac[4][j] = (pose.Orientation.Y - basePose.Orientation.Y) / DeltaTheta
			jac[5][j] = (pose.Orientation.Z - basePose.Orientation.Z) / DeltaTheta
		}
	}
	return jac
}

// dampedPseudoInverseSolve solves J*delta ~= step for delta using a
// Jacobian-transpose approximation damped by a small ridge term, adequate
// for the small per-iteration steps this solver takes.
func dampedPseudoInverseSolve(jac [][]float64, step []float64) [armmodel.NumJoints]float64 {
	const damping = 1e-2
	var delta [armmodel.NumJoints]float64
	rows := len(jac)
	for j := 0; j < armmodel.NumJoints; j++ {
		var num, denom float64
		for r := 0; r < rows; r++ {
			num += jac[r][j] * step[r]
			denom += jac[r][j] * jac[r][j]
		}
		delta[j] = num / (denom + damping)
	}
	return delta
}

func (s *Solver) randomConfiguration() armmodel.Configuration {
	joints := s.model.Joints()
	var cfg armmodel.Configuration
	for i := range cfg {
		lo, hi := joints[i].LowerLimit, joints[i].UpperLimit
		cfg[i] = lo + s.rng.Float64()*(hi-lo)
	}
	return cfg
}

// ErrUnsafeStart is returned when a caller asks the solver to begin work
// from a configuration that already fails IsSafe.
var ErrUnsafeStart = errors.New("unsafe starting position")

// CheckStart returns ErrUnsafeStart (wrapped with the offending reason) if
// cfg is not safe, nil otherwise.
func (s *Solver) CheckStart(cfg armmodel.Configuration) error {
	if safe, reason := s.IsSafe(cfg); !safe {
		return errors.Wrap(ErrUnsafeStart, reason)
	}
	return nil
}
