package armctl

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateRequiresGeometryFile(t *testing.T) {
	cfg := &Config{SimMode: true}
	_, _, err := cfg.Validate("test")
	require.Error(t, err)
}

func TestConfigValidateRequiresPortUnlessSimMode(t *testing.T) {
	cfg := &Config{GeometryFile: "geometry.json"}
	_, _, err := cfg.Validate("test")
	require.Error(t, err)

	cfg.SimMode = true
	_, _, err = cfg.Validate("test")
	require.NoError(t, err)
}

func TestConfigValidateDefaultsBaudrateAndTimeout(t *testing.T) {
	cfg := &Config{GeometryFile: "geometry.json", SimMode: true}
	_, _, err := cfg.Validate("test")
	require.NoError(t, err)
	assert.Equal(t, 1000000, cfg.Baudrate)
	assert.NotZero(t, cfg.Timeout)
}

func TestSaveThenLoadGeometryDocumentRoundTrips(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "geometry.json")

	original := DefaultGeometryDocument()
	require.NoError(t, SaveGeometryDocument(path, original))

	loaded, err := LoadGeometryDocument(path)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestLoadGeometryDocumentMissingFileFails(t *testing.T) {
	_, err := LoadGeometryDocument("/nonexistent/geometry.json")
	require.Error(t, err)
}

func TestBuildModelProducesSixJoints(t *testing.T) {
	doc := DefaultGeometryDocument()
	model := doc.BuildModel()
	for i := 0; i < 6; i++ {
		joint := model.Joint(i)
		assert.Equal(t, doc.Joints[i].Name, joint.Name)
	}
}

func TestCollisionPairsResolveJointIndices(t *testing.T) {
	doc := DefaultGeometryDocument()
	pairs := doc.CollisionPairs()
	require.NotEmpty(t, pairs)
	for _, p := range pairs {
		assert.GreaterOrEqual(t, p.JointA, 0)
		assert.Less(t, p.JointA, 6)
	}
}
