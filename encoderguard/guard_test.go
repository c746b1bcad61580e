package encoderguard

import (
	"math"
	"strconv"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armctl/armmodel"
)

func testModel() *armmodel.Model {
	var joints [armmodel.NumJoints]armmodel.Joint
	for i := 0; i < armmodel.NumJoints; i++ {
		joints[i] = armmodel.Joint{
			Name:       armmodel.JointName(i),
			Axis:       r3.Vector{X: 0, Y: 0, Z: 1},
			LowerLimit: -math.Pi,
			UpperLimit: math.Pi,
		}
	}
	return armmodel.NewModel(joints)
}

func TestSanitizeSubstitutesDudValue(t *testing.T) {
	model := testModel()
	model.SetAngles(armmodel.Configuration{0.2, 0.2, 0.2, 0.2, 0.2, 0.2})
	guard := NewGuard(nil)

	raw := armmodel.Configuration{0.2, 0.2, 0.0, 0.2, 0.2, 0.2}
	res := guard.Sanitize(raw, model)

	assert.InDelta(t, 0.2, res.Sanitized[armmodel.JointC], 1e-9)
	assert.False(t, res.ErrorRaised)
}

func TestSanitizeClampsWithinTolerance(t *testing.T) {
	model := testModel()
	guard := NewGuard(nil)
	raw := armmodel.Configuration{math.Pi + 0.01, 0, 0, 0, 0, 0}
	res := guard.Sanitize(raw, model)
	assert.InDelta(t, math.Pi, res.Sanitized[armmodel.JointA], 1e-9)
	assert.False(t, res.ErrorRaised)
}

func TestSanitizeRaisesErrorBeyondTolerance(t *testing.T) {
	model := testModel()
	guard := NewGuard(nil)
	raw := armmodel.Configuration{math.Pi + 1.0, 0, 0, 0, 0, 0}
	res := guard.Sanitize(raw, model)
	require.True(t, res.ErrorRaised)
	assert.Contains(t, res.Message, strconv.Itoa(armmodel.JointA))
}

func TestSingleJitterDoesNotTriggerErrorOnceWindowIsFull(t *testing.T) {
	model := testModel()
	model.SetAngles(armmodel.Configuration{0.2, 0.2, 0.2, 0.2, 0.2, 0.2})
	guard := NewGuard(nil)

	// Fill the window with MaxNumPrevAngles healthy readings.
	for i := 0; i < MaxNumPrevAngles; i++ {
		guard.Sanitize(armmodel.Configuration{0.2, 0.2, 0.2, 0.2, 0.2, 0.2}, model)
	}

	// A single jittery reading should not, alone, mark PersistentEncoder.
	res := guard.Sanitize(armmodel.Configuration{0.2, 0.2, 0.2 + EncoderErrorThreshold*1.5, 0.2, 0.2, 0.2}, model)
	assert.False(t, res.ErrorRaised)
}

func TestPersistentJitterAcrossWindowTriggersError(t *testing.T) {
	model := testModel()
	model.SetAngles(armmodel.Configuration{0.2, 0.2, 0.2, 0.2, 0.2, 0.2})
	guard := NewGuard(nil)

	for i := 0; i < MaxNumPrevAngles; i++ {
		guard.Sanitize(armmodel.Configuration{0.2, 0.2, 0.2, 0.2, 0.2, 0.2}, model)
	}

	// 2.0 is within joint C's limits, so only the temporal-jump check can
	// flag it: a 1.8 rad jump exceeds the k=0,1,2 staleness thresholds.
	var last Result
	for i := 0; i < MaxFishyVals+1; i++ {
		last = guard.Sanitize(armmodel.Configuration{0.2, 0.2, 2.0, 0.2, 0.2, 0.2}, model)
	}
	assert.True(t, last.ErrorRaised)
	assert.Contains(t, last.Message, strconv.Itoa(armmodel.JointC))
}

func TestPartialWindowMarksFaultyOnSingleViolation(t *testing.T) {
	model := testModel()
	model.SetAngles(armmodel.Configuration{0.2, 0.2, 0.2, 0.2, 0.2, 0.2})
	guard := NewGuard(nil)

	guard.Sanitize(armmodel.Configuration{0.2, 0.2, 0.2, 0.2, 0.2, 0.2}, model)
	res := guard.Sanitize(armmodel.Configuration{0.2, 0.2, 0.2 + EncoderErrorThreshold*2, 0.2, 0.2, 0.2}, model)
	assert.True(t, res.ErrorRaised)
}
