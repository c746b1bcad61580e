// Package armcontrol implements the ArmController state machine that
// orchestrates telemetry intake, target reception, planning, preview, and
// execution across the kinematics solver, planner, and encoder guard.
package armcontrol

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"

	"armctl/armmodel"
	"armctl/encoderguard"
	"armctl/kinematics"
	"armctl/motordrv"
	"armctl/planner"
	"armctl/transport"
)

// State is one of the four control-loop states.
type State int

const (
	StateIdle State = iota
	StatePreviewing
	StateAwaitingExecute
	StateExecuting
)

// String names the state the way so101CalibrationSensor.CalibrationState
// names its own states.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreviewing:
		return "previewing"
	case StateAwaitingExecute:
		return "awaiting_execute"
	case StateExecuting:
		return "executing"
	default:
		return "unknown"
	}
}

// Executor and preview pacing constants.
const (
	SplineWaitTime   = 50 * time.Millisecond
	DSplineT         = 0.01
	ExecutorIdlePoll = 200 * time.Millisecond
	SpeedDerate      = 0.75 // fraction of max_speed the executor paces to

	PreviewFrames    = 50
	PreviewFrameWait = 30 * time.Millisecond

	SimEchoInterval = 100 * time.Millisecond
)

// flags is the shared, mutex-guarded flag set every thread reads and the
// command/telemetry handlers write.
type flags struct {
	enableExecute bool
	simMode       bool
	ikEnabled     bool
	previewing    bool
	encoderError  bool
	controlState  string
}

// Controller is the single owned state object routing every inbound
// message to a handler and driving the executor/preview/sim-echo loops.
// Controller state (state, flags, spline, t) is serialized by mu; the
// model is guarded by its own lock, not by mu. The sim-echo publish path uses the separate echoMu so a feedback loop
// between the echo and the telemetry handler can never deadlock on mu.
type Controller struct {
	model  *armmodel.Model
	solver *kinematics.Solver
	guard  *encoderguard.Guard
	bus    transport.Bus
	chan_  motordrv.Channel
	logger logging.Logger

	mu     sync.Mutex
	state  State
	flags  flags
	spline *planner.Spline
	t      float64 // current spline parameter, [0,1]

	echoMu sync.Mutex

	unsubs []func()
	rng    *rand.Rand
}

// New builds a Controller bound to model/solver/guard, publishing to bus
// and driving channel.
func New(model *armmodel.Model, solver *kinematics.Solver, guard *encoderguard.Guard,
	bus transport.Bus, channel motordrv.Channel, logger logging.Logger,
) *Controller {
	return &Controller{
		model:  model,
		solver: solver,
		guard:  guard,
		bus:    bus,
		chan_:  channel,
		logger: logger,
		flags:  flags{ikEnabled: true, controlState: "idle"},
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start subscribes every inbound handler and launches the executor and
// sim-echo background loops. It returns once subscriptions are in place;
// the loops run until ctx is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	subs := []struct {
		topic   string
		handler transport.Handler
	}{
		{transport.TopicArmPosition, c.wrap(c.handleArmPosition)},
		{transport.TopicTargetOrientation, c.wrap(c.handleTargetOrientation)},
		{transport.TopicTargetAngles, c.wrap(c.handleTargetAngles)},
		{transport.TopicMotionExecute, c.wrap(c.handleMotionExecute)},
		{transport.TopicIKEnabled, c.wrap(c.handleIKEnabled)},
		{transport.TopicSimulationMode, c.wrap(c.handleSimulationMode)},
		{transport.TopicLockJoints, c.wrap(c.handleLockJoints)},
		{transport.TopicArmControlState, c.wrap(c.handleArmControlState)},
	}
	for _, s := range subs {
		unsub, err := c.bus.Subscribe(s.topic, s.handler)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", s.topic, err)
		}
		c.unsubs = append(c.unsubs, unsub)
	}

	go c.runExecutor(ctx)
	go c.runSimEcho(ctx)
	return nil
}

// Close unsubscribes every handler and closes the motor channel.
func (c *Controller) Close() error {
	for _, unsub := range c.unsubs {
		unsub()
	}
	return c.chan_.Close()
}

// wrap puts a panic recovery boundary around each handler, reporting a
// recovered panic as a /debug_message, so one bad message can never take
// down the dispatch loop, matching the
// "controller never throws out of a message handler" propagation policy.
func (c *Controller) wrap(h transport.Handler) transport.Handler {
	return func(msg interface{}) {
		defer func() {
			if r := recover(); r != nil {
				c.publishDebug(true, fmt.Sprintf("internal error: %v", r))
			}
		}()
		h(msg)
	}
}

func (c *Controller) publishDebug(isError bool, message string) {
	_ = c.bus.Publish(transport.TopicDebugMessage, transport.DebugMessageMsg{IsError: isError, Message: message})
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.flags.controlState = s.String()
	c.mu.Unlock()
}

// --- Telemetry handler ---

func (c *Controller) handleArmPosition(msg interface{}) {
	m, ok := msg.(transport.ArmPositionMsg)
	if !ok {
		return
	}
	raw := armmodel.Configuration{m.JointA, m.JointB, m.JointC, m.JointD, m.JointE, m.JointF}

	c.mu.Lock()
	previewing := c.flags.previewing
	simMode := c.flags.simMode
	c.mu.Unlock()

	if !simMode {
		var logical armmodel.Configuration
		for i := range logical {
			logical[i] = c.model.RawToLogical(i, raw[i])
		}
		raw = logical
	}

	res := c.guard.Sanitize(raw, c.model)

	c.mu.Lock()
	c.flags.encoderError = res.ErrorRaised
	c.mu.Unlock()

	if res.ErrorRaised {
		c.publishDebug(true, res.Message)
	}

	if previewing {
		return
	}

	c.solver.ApplyFK(res.Sanitized)
	c.publishTransforms()
}

func (c *Controller) publishTransforms() {
	var out transport.FKTransformMsg
	transforms := c.model.Transforms()
	for i, t := range transforms {
		out.Matrices[i] = t.Matrix4()
	}
	_ = c.bus.Publish(transport.TopicFKTransform, out)
}

// --- Command handlers ---

func (c *Controller) handleTargetOrientation(msg interface{}) {
	m, ok := msg.(transport.TargetOrientationMsg)
	if !ok {
		return
	}
	if !c.ikEnabled() {
		return
	}

	if err := c.solver.CheckStart(c.model.Angles()); err != nil {
		c.publishDebug(true, "Unsafe Starting Position")
		return
	}

	target := kinematics.Pose{
		Position:       r3.Vector{X: m.X, Y: m.Y, Z: m.Z},
		Orientation:    r3.Vector{X: m.Roll, Y: m.Pitch, Z: m.Yaw},
		UseOrientation: m.UseOrientation,
	}
	solved, ok2 := c.solver.IKWithRestarts(target, m.UseOrientation)
	if !ok2 {
		c.publishDebug(true, "No IK solution")
		return
	}

	c.planAndPreview(solved)
}

func (c *Controller) handleTargetAngles(msg interface{}) {
	m, ok := msg.(transport.TargetAnglesMsg)
	if !ok {
		return
	}
	if !c.ikEnabled() {
		return
	}
	target := armmodel.Configuration{m.JointA, m.JointB, m.JointC, m.JointD, m.JointE, m.JointF}
	c.planAndPreview(target)
}

func (c *Controller) planAndPreview(target armmodel.Configuration) {
	start := c.model.Angles()
	if err := c.solver.CheckStart(start); err != nil {
		c.publishDebug(true, "Unsafe Starting Position")
		return
	}
	if safe, _ := c.solver.IsSafe(target); !safe {
		c.publishDebug(true, "Unable to plan path!")
		return
	}

	c.setState(StatePreviewing)
	c.mu.Lock()
	c.flags.previewing = true
	c.mu.Unlock()

	path, err := planner.RRTConnect(context.Background(), c.solver, c.model, start, target, c.rng)
	if err != nil {
		c.publishDebug(true, "Unable to plan path!")
		c.endPreview()
		return
	}

	spline, err := planner.FitSpline(path)
	if err != nil {
		c.publishDebug(true, "Unable to plan path!")
		c.endPreview()
		return
	}

	c.mu.Lock()
	c.spline = spline
	c.t = 0
	c.mu.Unlock()

	c.runPreview(spline)

	c.setState(StateAwaitingExecute)
	c.mu.Lock()
	c.flags.previewing = false
	c.mu.Unlock()
}

func (c *Controller) endPreview() {
	c.setState(StateIdle)
	c.mu.Lock()
	c.flags.previewing = false
	c.mu.Unlock()
}

// runPreview iterates the spline over PreviewFrames steps, publishing
// hypothetical transforms without mutating the live model.
func (c *Controller) runPreview(spline *planner.Spline) {
	for i := 0; i <= PreviewFrames; i++ {
		t := float64(i) / float64(PreviewFrames)
		cfg := spline.At(t)
		transforms := c.solver.FK(cfg)
		var out transport.FKTransformMsg
		for j, tr := range transforms {
			out.Matrices[j] = tr.Matrix4()
		}
		_ = c.bus.Publish(transport.TopicFKTransform, out)
		time.Sleep(PreviewFrameWait)
	}
	c.publishDebug(false, "Preview Done")
}

func (c *Controller) handleMotionExecute(msg interface{}) {
	m, ok := msg.(transport.MotionExecuteMsg)
	if !ok {
		return
	}
	if m.Preview {
		return
	}
	if c.State() != StateAwaitingExecute {
		return
	}
	c.mu.Lock()
	c.flags.enableExecute = true
	c.mu.Unlock()
	c.setState(StateExecuting)
}

func (c *Controller) handleIKEnabled(msg interface{}) {
	m, ok := msg.(transport.IKEnabledMsg)
	if !ok {
		return
	}
	c.mu.Lock()
	c.flags.ikEnabled = m.Enabled
	c.mu.Unlock()
	if !m.Enabled {
		c.cancelExecution()
		c.publishTransforms()
	}
}

func (c *Controller) handleSimulationMode(msg interface{}) {
	m, ok := msg.(transport.SimulationModeMsg)
	if !ok {
		return
	}
	c.mu.Lock()
	c.flags.simMode = m.Enabled
	c.mu.Unlock()
}

func (c *Controller) handleLockJoints(msg interface{}) {
	m, ok := msg.(transport.LockJointsMsg)
	if !ok {
		return
	}
	for i, locked := range m.Locked {
		c.model.SetLocked(i, locked)
	}
}

func (c *Controller) handleArmControlState(msg interface{}) {
	m, ok := msg.(transport.ArmControlStateMsg)
	if !ok {
		return
	}
	c.mu.Lock()
	c.flags.controlState = m.State
	c.mu.Unlock()
}

func (c *Controller) ikEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags.ikEnabled
}

func (c *Controller) cancelExecution() {
	c.mu.Lock()
	c.flags.enableExecute = false
	c.mu.Unlock()
	c.setState(StateIdle)
}

// --- Executor thread ---

func (c *Controller) runExecutor(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		enabled := c.flags.enableExecute
		spline := c.spline
		t := c.t
		c.mu.Unlock()

		if !enabled || spline == nil {
			time.Sleep(ExecutorIdlePoll)
			continue
		}

		current := spline.At(t)
		next := spline.At(minF(t+DSplineT, 1))

		maxTau := 0.0
		for j := armmodel.JointA; j <= armmodel.JointE; j++ { // joint F excluded from pacing
			speed := c.model.MaxSpeed(j) * SpeedDerate
			if speed <= 0 {
				continue
			}
			tau := absF(next[j]-current[j]) / speed
			if tau > maxTau {
				maxTau = tau
			}
		}

		dt := DSplineT
		if maxTau > 0 {
			dt = DSplineT * (SplineWaitTime.Seconds() / maxTau)
		}

		newT := t + dt
		if newT > 1 {
			newT = 1
		}

		cmd := c.model.ClampToLimits(spline.At(newT))

		c.mu.Lock()
		c.t = newT
		simMode := c.flags.simMode
		encoderError := c.flags.encoderError
		c.mu.Unlock()

		if encoderError {
			c.cancelExecution()
			c.mu.Lock()
			c.spline, c.t = nil, 0
			c.mu.Unlock()
			continue
		}

		c.issueSetpoint(cmd, simMode)

		if newT >= 1 {
			c.mu.Lock()
			c.flags.enableExecute = false
			c.spline, c.t = nil, 0
			c.mu.Unlock()
			c.setState(StateIdle)
		}

		time.Sleep(SplineWaitTime)
	}
}

func (c *Controller) issueSetpoint(cmd armmodel.Configuration, simMode bool) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if simMode {
		c.solver.ApplyFK(cmd)
		var out transport.ArmPositionOutMsg
		out.Angles = cmd
		_ = c.bus.Publish(transport.TopicArmPositionOut, out)
		return
	}

	var raw armmodel.Configuration
	for i := range raw {
		raw[i] = c.model.LogicalToRaw(i, cmd[i])
	}
	if err := c.chan_.SetAngles(ctx, raw); err != nil {
		c.publishDebug(true, fmt.Sprintf("failed to set joint angles: %v", err))
		return
	}
	c.solver.ApplyFK(cmd)
	_ = c.bus.Publish(transport.TopicIKRAControl, transport.IKRAControlMsg{Angles: raw})
}

// --- Sim-mode echo thread ---

func (c *Controller) runSimEcho(ctx context.Context) {
	ticker := time.NewTicker(SimEchoInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			simMode := c.flags.simMode
			c.mu.Unlock()
			if !simMode {
				continue
			}

			c.echoMu.Lock()
			angles := c.model.Angles()
			_ = c.bus.Publish(transport.TopicArmPositionOut, transport.ArmPositionOutMsg{Angles: angles})
			c.echoMu.Unlock()
		}
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
