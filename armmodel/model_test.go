package armmodel

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJoints() [NumJoints]Joint {
	var js [NumJoints]Joint
	axes := []r3.Vector{
		{X: 0, Y: 0, Z: 1},
		{X: 0, Y: 1, Z: 0},
		{X: 0, Y: 1, Z: 0},
		{X: 1, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0},
		{X: 1, Y: 0, Z: 0},
	}
	offsets := []r3.Vector{
		{X: 0, Y: 0, Z: 0.1},
		{X: 0, Y: 0, Z: 0.2},
		{X: 0, Y: 0, Z: 0.2},
		{X: 0, Y: 0, Z: 0.15},
		{X: 0, Y: 0, Z: 0.1},
		{X: 0, Y: 0, Z: 0.05},
	}
	for i := 0; i < NumJoints; i++ {
		js[i] = Joint{
			Name:              JointName(i),
			Axis:              axes[i],
			Offset:            offsets[i],
			LowerLimit:        -math.Pi,
			UpperLimit:        math.Pi,
			MaxSpeed:          1.0,
			EncoderOffset:     2048,
			EncoderMultiplier: 0.001534, // ~ 2*pi/4096
		}
	}
	return js
}

func TestJointClamp(t *testing.T) {
	j := Joint{LowerLimit: -1, UpperLimit: 1}
	assert.Equal(t, -1.0, j.Clamp(-5))
	assert.Equal(t, 1.0, j.Clamp(5))
	assert.Equal(t, 0.5, j.Clamp(0.5))
}

func TestJointWithinTolerance(t *testing.T) {
	j := Joint{LowerLimit: -1, UpperLimit: 1}
	assert.True(t, j.WithinTolerance(1.05, 0.1))
	assert.False(t, j.WithinTolerance(1.2, 0.1))
}

func TestAxisRotationIdentityAtZero(t *testing.T) {
	tr := AxisRotation(r3.Vector{X: 0, Y: 0, Z: 1}, 0)
	p := tr.Apply(r3.Vector{X: 1, Y: 2, Z: 3})
	assert.InDelta(t, 1.0, p.X, 1e-9)
	assert.InDelta(t, 2.0, p.Y, 1e-9)
	assert.InDelta(t, 3.0, p.Z, 1e-9)
}

func TestAxisRotationQuarterTurn(t *testing.T) {
	tr := AxisRotation(r3.Vector{X: 0, Y: 0, Z: 1}, math.Pi/2)
	p := tr.Apply(r3.Vector{X: 1, Y: 0, Z: 0})
	assert.InDelta(t, 0.0, p.X, 1e-9)
	assert.InDelta(t, 1.0, p.Y, 1e-9)
}

func TestComposeMatchesSequentialApplication(t *testing.T) {
	a := AxisRotation(r3.Vector{X: 0, Y: 0, Z: 1}, math.Pi/4)
	b := Translation(r3.Vector{X: 1, Y: 0, Z: 0})
	composed := a.Compose(b)
	p := r3.Vector{X: 2, Y: 0, Z: 0}
	direct := b.Apply(a.Apply(p))
	got := composed.Apply(p)
	assert.InDelta(t, direct.X, got.X, 1e-9)
	assert.InDelta(t, direct.Y, got.Y, 1e-9)
	assert.InDelta(t, direct.Z, got.Z, 1e-9)
}

func TestConfigurationDistance(t *testing.T) {
	a := Configuration{0, 0, 0, 0, 0, 0}
	b := Configuration{3, 4, 0, 0, 0, 0}
	assert.InDelta(t, 5.0, a.Distance(b), 1e-9)
}

func TestConfigurationLerp(t *testing.T) {
	a := Configuration{0, 0, 0, 0, 0, 0}
	b := Configuration{2, 0, 0, 0, 0, 0}
	mid := a.Lerp(b, 0.5)
	assert.InDelta(t, 1.0, mid[0], 1e-9)
}

func TestModelRawToLogicalRoundTrip(t *testing.T) {
	m := NewModel(testJoints())
	logical := m.RawToLogical(JointA, 2048)
	assert.InDelta(t, 0.0, logical, 1e-9)
	raw := m.LogicalToRaw(JointA, logical)
	assert.InDelta(t, 2048.0, raw, 1e-6)
}

func TestModelSetAnglesAndTransformsRoundTrip(t *testing.T) {
	m := NewModel(testJoints())
	cfg := Configuration{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	m.SetAngles(cfg)
	require.Equal(t, cfg, m.Angles())

	var ts [NumJoints]Transform
	ts[0] = Translation(r3.Vector{X: 1})
	m.SetTransforms(ts)
	assert.Equal(t, ts[0], m.Transform(0))
}

func TestModelClampToLimits(t *testing.T) {
	joints := testJoints()
	joints[0].LowerLimit = -1
	joints[0].UpperLimit = 1
	m := NewModel(joints)
	cfg := Configuration{5, 0, 0, 0, 0, 0}
	clamped := m.ClampToLimits(cfg)
	assert.Equal(t, 1.0, clamped[0])
}

func TestModelLockedJoints(t *testing.T) {
	m := NewModel(testJoints())
	assert.False(t, m.Locked(JointC))
	m.SetLocked(JointC, true)
	assert.True(t, m.Locked(JointC))
	locks := m.LockedJoints()
	assert.True(t, locks[JointC])
}
