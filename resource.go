package armctl

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	commonpb "go.viam.com/api/common/v1"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"

	"armctl/armcontrol"
	"armctl/armmodel"
	"armctl/encoderguard"
	"armctl/kinematics"
	"armctl/motordrv"
	"armctl/transport"
)

// Model is this module's registered arm component model.
var Model = resource.NewModel("devrel", "arm-control", "six-dof")

func init() {
	resource.RegisterComponent(arm.API, Model,
		resource.Registration[arm.Arm, *Config]{
			Constructor: newArmResource,
		},
	)
}

// ArmResource adapts an armcontrol.Controller to the go.viam.com/rdk
// components/arm.Arm interface, the same adapter role arm.go's armSo101
// plays over SO101Controller.
type ArmResource struct {
	resource.AlwaysRebuild
	name resource.Name

	model      *armmodel.Model
	solver     *kinematics.Solver
	controller *armcontrol.Controller
	bus        transport.Bus

	opMgr *operation.SingleOperationManager
}

func newArmResource(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (arm.Arm, error) {
	cfg, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}
	cfg.Logger = logger

	doc, err := LoadGeometryDocument(cfg.GeometryFile)
	if err != nil {
		return nil, errors.Wrap(err, "loading geometry document")
	}

	model := doc.BuildModel()
	solver := kinematics.NewSolver(model, doc.CollisionPairs(), nil)
	guard := encoderguard.NewGuard(doc.DudValues)
	bus := transport.NewInProcessBus()

	var channel motordrv.Channel
	if cfg.SimMode {
		channel = motordrv.NewSimChannel()
	} else {
		channel, err = motordrv.NewHardwareChannel(motordrv.HardwareConfig{
			Port:     cfg.Port,
			Baudrate: cfg.Baudrate,
			Timeout:  cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, errors.Wrap(err, "opening hardware channel")
		}
	}

	controller := armcontrol.New(model, solver, guard, bus, channel, logger)
	if err := controller.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "starting arm controller")
	}
	if cfg.SimMode {
		_ = bus.Publish(transport.TopicSimulationMode, transport.SimulationModeMsg{Enabled: true})
	}

	return &ArmResource{
		name:       conf.ResourceName(),
		model:      model,
		solver:     solver,
		controller: controller,
		bus:        bus,
		opMgr:      operation.NewSingleOperationManager(),
	}, nil
}

func (a *ArmResource) Name() resource.Name { return a.name }

func (a *ArmResource) EndPosition(ctx context.Context, extra map[string]interface{}) (spatialmath.Pose, error) {
	pose := a.solver.EndEffectorPose(a.model.Angles())
	orient := &spatialmath.EulerAngles{Roll: pose.Orientation.X, Pitch: pose.Orientation.Y, Yaw: pose.Orientation.Z}
	return spatialmath.NewPose(pose.Position, orient), nil
}

func (a *ArmResource) MoveToPosition(ctx context.Context, pose spatialmath.Pose, extra map[string]interface{}) error {
	ctx, done := a.opMgr.New(ctx)
	defer done()

	point := pose.Point()
	msg := transport.TargetOrientationMsg{X: point.X, Y: point.Y, Z: point.Z, UseOrientation: false}
	if err := a.bus.Publish(transport.TopicTargetOrientation, msg); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (a *ArmResource) MoveToJointPositions(ctx context.Context, positions []referenceframe.Input, extra map[string]interface{}) error {
	if len(positions) != armmodel.NumJoints {
		return fmt.Errorf("expected %d joint positions, got %d", armmodel.NumJoints, len(positions))
	}
	msg := transport.TargetAnglesMsg{
		JointA: positions[0], JointB: positions[1], JointC: positions[2],
		JointD: positions[3], JointE: positions[4], JointF: positions[5],
	}
	return a.bus.Publish(transport.TopicTargetAngles, msg)
}

func (a *ArmResource) MoveThroughJointPositions(ctx context.Context, positions [][]referenceframe.Input, options *arm.MoveOptions, extra map[string]interface{}) error {
	for _, p := range positions {
		if err := a.MoveToJointPositions(ctx, p, extra); err != nil {
			return err
		}
	}
	return nil
}

func (a *ArmResource) JointPositions(ctx context.Context, extra map[string]interface{}) ([]referenceframe.Input, error) {
	return a.CurrentInputs(ctx)
}

func (a *ArmResource) Stop(ctx context.Context, extra map[string]interface{}) error {
	return a.bus.Publish(transport.TopicIKEnabled, transport.IKEnabledMsg{Enabled: false})
}

func (a *ArmResource) IsMoving(ctx context.Context) (bool, error) {
	return a.controller.State() == armcontrol.StateExecuting, nil
}

func (a *ArmResource) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return nil, errors.New("referenceframe.Model export not supported; use JointPositions/MoveToJointPositions")
}

func (a *ArmResource) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	cfg := a.model.Angles()
	inputs := make([]referenceframe.Input, armmodel.NumJoints)
	for i, v := range cfg {
		inputs[i] = v
	}
	return inputs, nil
}

func (a *ArmResource) GoToInputs(ctx context.Context, inputSteps ...[]referenceframe.Input) error {
	for _, step := range inputSteps {
		if err := a.MoveToJointPositions(ctx, step, nil); err != nil {
			return err
		}
	}
	return nil
}

func (a *ArmResource) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return nil, nil
}

func (a *ArmResource) Get3DModels(ctx context.Context, extra map[string]interface{}) (map[string]*commonpb.Mesh, error) {
	return nil, nil
}

// DoCommand dispatches the non-standard-arm-API messages (ik_enabled,
// simulation_mode, lock_joints, arm_control_state, motion_execute) the
// same way so101CalibrationSensor.DoCommand dispatches a "command" string
// field to per-command handlers.
func (a *ArmResource) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, _ := cmd["command"].(string)
	switch command {
	case "ik_enabled":
		enabled, _ := cmd["enabled"].(bool)
		return nil, a.bus.Publish(transport.TopicIKEnabled, transport.IKEnabledMsg{Enabled: enabled})
	case "simulation_mode":
		enabled, _ := cmd["enabled"].(bool)
		return nil, a.bus.Publish(transport.TopicSimulationMode, transport.SimulationModeMsg{Enabled: enabled})
	case "lock_joints":
		var locked [armmodel.NumJoints]bool
		raw, _ := cmd["locked"].([]interface{})
		for i := 0; i < len(raw) && i < armmodel.NumJoints; i++ {
			b, _ := raw[i].(bool)
			locked[i] = b
		}
		return nil, a.bus.Publish(transport.TopicLockJoints, transport.LockJointsMsg{Locked: locked})
	case "arm_control_state":
		state, _ := cmd["state"].(string)
		return nil, a.bus.Publish(transport.TopicArmControlState, transport.ArmControlStateMsg{State: state})
	case "motion_execute":
		preview, _ := cmd["preview"].(bool)
		return nil, a.bus.Publish(transport.TopicMotionExecute, transport.MotionExecuteMsg{Preview: preview})
	case "state":
		return map[string]interface{}{"state": a.controller.State().String()}, nil
	default:
		return nil, fmt.Errorf("unrecognized command: %q", command)
	}
}

func (a *ArmResource) Close(ctx context.Context) error {
	return a.controller.Close()
}
