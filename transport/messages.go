package transport

// Inbound message schemas, one struct per topic in § External Interfaces.

// ArmPositionMsg carries raw encoder angles, one per joint.
type ArmPositionMsg struct {
	JointA, JointB, JointC, JointD, JointE, JointF float64
}

// TargetOrientationMsg requests an end-effector pose.
type TargetOrientationMsg struct {
	X, Y, Z          float64
	Roll, Pitch, Yaw float64
	UseOrientation   bool
}

// TargetAnglesMsg requests a joint-angle goal directly.
type TargetAnglesMsg struct {
	JointA, JointB, JointC, JointD, JointE, JointF float64
}

// MotionExecuteMsg confirms execution of a previewed plan. A message with
// Preview set starts nothing and does not stop an execution in progress.
type MotionExecuteMsg struct {
	Preview bool // true = preview only, false = execute
}

// IKEnabledMsg toggles whether the controller accepts IK/planning work.
type IKEnabledMsg struct {
	Enabled bool
}

// SimulationModeMsg toggles sim-mode telemetry echo vs. hardware mode.
type SimulationModeMsg struct {
	Enabled bool
}

// LockJointsMsg locks or unlocks individual joints against IK: a locked
// joint gets a zero Jacobian column. The planner and executor do not
// consult lock flags.
type LockJointsMsg struct {
	Locked [6]bool
}

// ArmControlStateMsg names the requested high-level control mode.
type ArmControlStateMsg struct {
	State string // "idle" | "open-loop" | "closed-loop"
}

// Outbound message schemas.

// FKTransformMsg carries the six per-joint homogeneous transforms.
type FKTransformMsg struct {
	Matrices [6][4][4]float64
}

// IKRAControlMsg carries raw-unit setpoints for the hardware channel.
type IKRAControlMsg struct {
	Angles [6]float64
}

// ArmPositionOutMsg carries logical-unit angles, echoed in sim mode.
type ArmPositionOutMsg struct {
	Angles [6]float64
}

// DebugMessageMsg is a user-facing popup.
type DebugMessageMsg struct {
	IsError bool
	Message string
}
