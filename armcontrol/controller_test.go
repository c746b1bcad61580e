package armcontrol

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"

	"armctl/armmodel"
	"armctl/encoderguard"
	"armctl/kinematics"
	"armctl/motordrv"
	"armctl/transport"
)

func smallArm(t *testing.T) (*armmodel.Model, *kinematics.Solver) {
	t.Helper()
	var joints [armmodel.NumJoints]armmodel.Joint
	for i := 0; i < armmodel.NumJoints; i++ {
		joints[i] = armmodel.Joint{
			Name:       armmodel.JointName(i),
			Axis:       r3.Vector{X: 0, Y: 0, Z: 1},
			Offset:     r3.Vector{X: 0.15, Y: 0, Z: 0},
			LowerLimit: -math.Pi,
			UpperLimit: math.Pi,
			MaxSpeed:   10, // fast, so executor test completes quickly
		}
	}
	model := armmodel.NewModel(joints)
	solver := kinematics.NewSolver(model, nil, nil)
	return model, solver
}

func newTestController(t *testing.T) (*Controller, *transport.InProcessBus) {
	t.Helper()
	model, solver := smallArm(t)
	guard := encoderguard.NewGuard(nil)
	bus := transport.NewInProcessBus()
	channel := motordrv.NewSimChannel()
	logger := logging.NewTestLogger(t)
	c := New(model, solver, guard, bus, channel, logger)
	return c, bus
}

func TestControllerStartsIdle(t *testing.T) {
	c, _ := newTestController(t)
	assert.Equal(t, StateIdle, c.State())
}

func TestControllerPreviewThenExecuteReachesTarget(t *testing.T) {
	c, bus := newTestController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	defer c.Close()

	_, _ = bus.Subscribe(transport.TopicSimulationMode, func(interface{}) {})
	require.NoError(t, bus.Publish(transport.TopicSimulationMode, transport.SimulationModeMsg{Enabled: true}))

	debugCh := make(chan transport.DebugMessageMsg, 16)
	_, _ = bus.Subscribe(transport.TopicDebugMessage, func(msg interface{}) {
		debugCh <- msg.(transport.DebugMessageMsg)
	})

	target := transport.TargetAnglesMsg{JointA: 0.4, JointB: -0.3, JointC: 0.2}
	require.NoError(t, bus.Publish(transport.TopicTargetAngles, target))

	waitForDebug(t, debugCh, "Preview Done", 5*time.Second)
	assert.Equal(t, StateAwaitingExecute, c.State())

	require.NoError(t, bus.Publish(transport.TopicMotionExecute, transport.MotionExecuteMsg{Preview: false}))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == StateIdle {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	final := c.model.Angles()
	assert.InDelta(t, target.JointA, final[0], 1e-3)
	assert.InDelta(t, target.JointB, final[1], 1e-3)
	assert.InDelta(t, target.JointC, final[2], 1e-3)
}

func waitForDebug(t *testing.T, ch chan transport.DebugMessageMsg, substr string, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-ch:
			if strings.Contains(msg.Message, substr) {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for debug message containing %q", substr)
		}
	}
}

func TestControllerRejectsUnsafeStart(t *testing.T) {
	c, bus := newTestController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	defer c.Close()

	c.model.SetAngles(armmodel.Configuration{10, 0, 0, 0, 0, 0}) // out of limits

	debugCh := make(chan transport.DebugMessageMsg, 16)
	_, _ = bus.Subscribe(transport.TopicDebugMessage, func(msg interface{}) {
		debugCh <- msg.(transport.DebugMessageMsg)
	})

	require.NoError(t, bus.Publish(transport.TopicTargetAngles, transport.TargetAnglesMsg{JointA: 0.1}))
	waitForDebug(t, debugCh, "Unsafe Starting Position", 2*time.Second)
	assert.Equal(t, StateIdle, c.State())
}

func TestControllerLockJointsSetsModelLocks(t *testing.T) {
	c, bus := newTestController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	defer c.Close()

	require.NoError(t, bus.Publish(transport.TopicLockJoints, transport.LockJointsMsg{Locked: [6]bool{true, false, false, false, false, false}}))
	assert.True(t, c.model.Locked(armmodel.JointA))
	assert.False(t, c.model.Locked(armmodel.JointB))
}
