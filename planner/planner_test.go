package planner

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armctl/armmodel"
	"armctl/kinematics"
)

func openArm() (*armmodel.Model, *kinematics.Solver) {
	var joints [armmodel.NumJoints]armmodel.Joint
	for i := 0; i < armmodel.NumJoints; i++ {
		joints[i] = armmodel.Joint{
			Name:       armmodel.JointName(i),
			Axis:       r3.Vector{X: 0, Y: 0, Z: 1},
			Offset:     r3.Vector{X: 0.2, Y: 0, Z: 0},
			LowerLimit: -math.Pi,
			UpperLimit: math.Pi,
			MaxSpeed:   1,
		}
	}
	model := armmodel.NewModel(joints)
	solver := kinematics.NewSolver(model, nil, rand.New(rand.NewSource(11)))
	return model, solver
}

func TestRRTConnectFindsPathBetweenSafeConfigurations(t *testing.T) {
	model, solver := openArm()
	start := armmodel.Configuration{}
	goal := armmodel.Configuration{0.5, -0.4, 0.3, 0.2, -0.1, 0.1}

	path, err := RRTConnect(context.Background(), solver, model, start, goal, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(path), 2)
	assert.Equal(t, start, path[0])
	assert.InDelta(t, 0.0, path[len(path)-1].Distance(goal), 1e-6)
}

func TestRRTConnectEdgesAreSafe(t *testing.T) {
	model, solver := openArm()
	start := armmodel.Configuration{}
	goal := armmodel.Configuration{0.3, 0.3, 0.3, 0, 0, 0}

	path, err := RRTConnect(context.Background(), solver, model, start, goal, rand.New(rand.NewSource(9)))
	require.NoError(t, err)

	for i := 0; i < len(path)-1; i++ {
		assert.True(t, segmentSafe(solver, path[i], path[i+1]))
	}
}

func TestRRTConnectFailsWhenGoalUnreachable(t *testing.T) {
	model, solver := openArm()
	start := armmodel.Configuration{}
	goal := armmodel.Configuration{100, 100, 100, 100, 100, 100} // outside joint limits

	_, err := RRTConnect(context.Background(), solver, model, start, goal, rand.New(rand.NewSource(2)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPlanFailure)
}

func TestFitSplineEndpoints(t *testing.T) {
	path := Path{
		{0, 0, 0, 0, 0, 0},
		{0.5, 0.2, 0, 0, 0, 0},
		{1.0, 0.4, 0, 0, 0, 0},
	}
	spline, err := FitSpline(path)
	require.NoError(t, err)

	assert.Equal(t, path[0], spline.At(0))
	assert.InDelta(t, path[len(path)-1][0], spline.At(1)[0], 1e-9)
}

func TestFitSplineRejectsShortPaths(t *testing.T) {
	_, err := FitSpline(Path{{0, 0, 0, 0, 0, 0}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestSplineMonotonicProgressAlongJointA(t *testing.T) {
	path := Path{
		{0, 0, 0, 0, 0, 0},
		{0.5, 0, 0, 0, 0, 0},
		{1.0, 0, 0, 0, 0, 0},
	}
	spline, err := FitSpline(path)
	require.NoError(t, err)

	prev := spline.At(0)[0]
	for i := 1; i <= 10; i++ {
		u := float64(i) / 10
		cur := spline.At(u)[0]
		assert.GreaterOrEqual(t, cur, prev-1e-9)
		prev = cur
	}
}
