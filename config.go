// Package armctl assembles the arm-control service: it loads the static
// geometry document, wires the kinematics/planner/encoder-guard/controller
// stack together, and exposes the result as a go.viam.com/rdk arm
// component.
package armctl

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"

	"armctl/armmodel"
	"armctl/kinematics"
)

// Config is the top-level resource configuration, matching the
// go.viam.com/rdk resource.Config convention: a Validate method that
// defaults unset fields and fails closed on missing required ones.
type Config struct {
	GeometryFile string `json:"geometry_file"`

	Port     string        `json:"port,omitempty"`
	Baudrate int           `json:"baudrate,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`

	SimMode bool `json:"sim_mode,omitempty"`

	// Not serialized.
	Logger logging.Logger `json:"-"`
}

// Validate checks required fields and defaults the rest, the way
// SoArm101Config.Validate does.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.GeometryFile == "" {
		return nil, nil, fmt.Errorf("%s: must specify geometry_file", path)
	}
	if !cfg.SimMode && cfg.Port == "" {
		return nil, nil, fmt.Errorf("%s: must specify port for serial communication when sim_mode is false", path)
	}
	if cfg.Baudrate == 0 {
		cfg.Baudrate = 1000000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	return nil, nil, nil
}

// jointGeometry is the on-disk representation of one joint's static
// geometry, collision/encoder parameters.
type jointGeometry struct {
	Name              string     `json:"name"`
	Axis              [3]float64 `json:"axis"`
	Offset            [3]float64 `json:"offset"`
	LowerLimit        float64    `json:"lower_limit"`
	UpperLimit        float64    `json:"upper_limit"`
	MaxSpeed          float64    `json:"max_speed"`
	EncoderOffset     float64    `json:"encoder_offset"`
	EncoderMultiplier float64    `json:"encoder_multiplier"`
}

type collisionPairDoc struct {
	JointA    string  `json:"joint_a"`
	JointB    string  `json:"joint_b"`
	Clearance float64 `json:"clearance"`
}

// GeometryDocument is the on-disk description of ArmModel's static
// geometry: per-joint axis/offset/limits/speed/encoder mapping, plus
// inter-link collision-pair clearances and the dud-value list.
type GeometryDocument struct {
	Joints            [armmodel.NumJoints]jointGeometry `json:"joints"`
	CollisionPairDocs []collisionPairDoc                `json:"collision_pairs"`
	DudValues         []float64                         `json:"dud_values"`
}

// LoadGeometryDocument reads and parses a geometry document from path. A
// parse failure here is fatal at startup, per the error-handling design:
// the caller should abort initialization rather than run with partial
// geometry.
func LoadGeometryDocument(path string) (*GeometryDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading geometry document %s: %w", path, err)
	}
	var doc GeometryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing geometry document %s: %w", path, err)
	}
	return &doc, nil
}

// SaveGeometryDocument writes doc to path, matching the teacher's
// SaveFullCalibrationToFile convention of formatted, reviewable JSON.
func SaveGeometryDocument(path string, doc *GeometryDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling geometry document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing geometry document %s: %w", path, err)
	}
	return nil
}

// BuildModel converts a parsed GeometryDocument into an armmodel.Model.
func (doc *GeometryDocument) BuildModel() *armmodel.Model {
	var joints [armmodel.NumJoints]armmodel.Joint
	for i, jg := range doc.Joints {
		joints[i] = armmodel.Joint{
			Name:              jg.Name,
			Axis:              r3.Vector{X: jg.Axis[0], Y: jg.Axis[1], Z: jg.Axis[2]},
			Offset:            r3.Vector{X: jg.Offset[0], Y: jg.Offset[1], Z: jg.Offset[2]},
			LowerLimit:        jg.LowerLimit,
			UpperLimit:        jg.UpperLimit,
			MaxSpeed:          jg.MaxSpeed,
			EncoderOffset:     jg.EncoderOffset,
			EncoderMultiplier: jg.EncoderMultiplier,
		}
	}
	return armmodel.NewModel(joints)
}

// CollisionPairs resolves the document's named joint pairs into
// kinematics.CollisionPair indices.
func (doc *GeometryDocument) CollisionPairs() []kinematics.CollisionPair {
	index := make(map[string]int, armmodel.NumJoints)
	for i := 0; i < armmodel.NumJoints; i++ {
		index[armmodel.JointName(i)] = i
	}
	pairs := make([]kinematics.CollisionPair, 0, len(doc.CollisionPairDocs))
	for _, p := range doc.CollisionPairDocs {
		a, aok := index[p.JointA]
		b, bok := index[p.JointB]
		if !aok || !bok {
			continue
		}
		pairs = append(pairs, kinematics.CollisionPair{JointA: a, JointB: b, Clearance: p.Clearance})
	}
	return pairs
}

// DefaultGeometryDocument describes a reference 6-DoF arm. The service
// itself always loads the document named by geometry_file (which Validate
// requires) and does not fall back to this one.
func DefaultGeometryDocument() *GeometryDocument {
	names := [armmodel.NumJoints]string{"A", "B", "C", "D", "E", "F"}
	axes := [armmodel.NumJoints][3]float64{
		{0, 0, 1}, {0, 1, 0}, {0, 1, 0}, {1, 0, 0}, {0, 1, 0}, {1, 0, 0},
	}
	offsets := [armmodel.NumJoints][3]float64{
		{0, 0, 0.10}, {0, 0, 0.20}, {0, 0, 0.20}, {0, 0, 0.15}, {0, 0, 0.10}, {0, 0, 0.08},
	}

	var doc GeometryDocument
	for i := 0; i < armmodel.NumJoints; i++ {
		doc.Joints[i] = jointGeometry{
			Name:              names[i],
			Axis:              axes[i],
			Offset:            offsets[i],
			LowerLimit:        -2.9,
			UpperLimit:        2.9,
			MaxSpeed:          1.5,
			EncoderOffset:     2048,
			EncoderMultiplier: 0.00153398, // ~ 2*pi/4096
		}
	}
	doc.DudValues = []float64{0.0}
	doc.CollisionPairDocs = []collisionPairDoc{
		{JointA: "A", JointB: "D", Clearance: 0.05},
		{JointA: "B", JointB: "E", Clearance: 0.05},
		{JointA: "A", JointB: "E", Clearance: 0.05},
	}
	return &doc
}
