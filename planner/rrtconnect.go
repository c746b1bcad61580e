// Package planner builds a collision-free path between two configurations
// via bidirectional RRT-Connect, then fits a cubic spline over the
// resulting (shortcut-smoothed) waypoints for the executor to follow.
package planner

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"

	"armctl/armmodel"
	"armctl/kinematics"
)

// Tuning constants for the planner.
const (
	MaxPlannerIterations  = 5000
	ExtendStep            = 0.05 // radians, max Euclidean joint-space step when extending a tree
	CollisionCheckSamples = 10   // samples along an edge when testing for collision
	ShortcutPasses        = 20
)

// ErrPlanFailure is returned when RRT-Connect exhausts its iteration
// budget without connecting the two trees.
var ErrPlanFailure = errors.New("unable to plan path")

// Path is an ordered, start-connected sequence of safe configurations.
type Path []armmodel.Configuration

type node struct {
	cfg    armmodel.Configuration
	parent int
}

type tree struct {
	nodes []node
}

func newTree(root armmodel.Configuration) *tree {
	return &tree{nodes: []node{{cfg: root, parent: -1}}}
}

func (t *tree) nearest(target armmodel.Configuration) int {
	best := 0
	bestDist := t.nodes[0].cfg.Distance(target)
	for i := 1; i < len(t.nodes); i++ {
		d := t.nodes[i].cfg.Distance(target)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func (t *tree) add(cfg armmodel.Configuration, parent int) int {
	t.nodes = append(t.nodes, node{cfg: cfg, parent: parent})
	return len(t.nodes) - 1
}

func (t *tree) pathTo(idx int) Path {
	var out Path
	for idx != -1 {
		out = append(out, t.nodes[idx].cfg)
		idx = t.nodes[idx].parent
	}
	// reverse
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

type extendResult int

const (
	extendTrapped extendResult = iota
	extendAdvanced
	extendReached
)

// segmentSafe reports whether the linear interpolation between a and b is
// safe (within limits, collision-free) at CollisionCheckSamples points.
func segmentSafe(solver *kinematics.Solver, a, b armmodel.Configuration) bool {
	for i := 1; i <= CollisionCheckSamples; i++ {
		t := float64(i) / float64(CollisionCheckSamples)
		cfg := a.Lerp(b, t)
		if safe, _ := solver.IsSafe(cfg); !safe {
			return false
		}
	}
	return true
}

func extend(solver *kinematics.Solver, t *tree, target armmodel.Configuration) (extendResult, int) {
	nearIdx := t.nearest(target)
	near := t.nodes[nearIdx].cfg

	dist := near.Distance(target)
	if dist < 1e-12 {
		return extendReached, nearIdx
	}

	step := ExtendStep
	reached := false
	if dist <= step {
		step = dist
		reached = true
	}
	next := near.Lerp(target, step/dist)

	if safe, _ := solver.IsSafe(next); !safe {
		return extendTrapped, nearIdx
	}
	if !segmentSafe(solver, near, next) {
		return extendTrapped, nearIdx
	}

	idx := t.add(next, nearIdx)
	if reached {
		return extendReached, idx
	}
	return extendAdvanced, idx
}

func connect(solver *kinematics.Solver, t *tree, target armmodel.Configuration) (extendResult, int) {
	var result extendResult
	var idx int
	for {
		result, idx = extend(solver, t, target)
		if result != extendAdvanced {
			return result, idx
		}
	}
}

// RRTConnect plans a safe path in configuration space from start to goal,
// both assumed already safe. rng controls sampling; pass nil to use a new
// source with the fixed seed 1.
func RRTConnect(ctx context.Context, solver *kinematics.Solver, model *armmodel.Model, start, goal armmodel.Configuration, rng *rand.Rand) (Path, error) {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	treeA := newTree(start)
	treeB := newTree(goal)
	aIsStart := true

	joints := model.Joints()

	for iter := 0; iter < MaxPlannerIterations; iter++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var sample armmodel.Configuration
		for i := range sample {
			lo, hi := joints[i].LowerLimit, joints[i].UpperLimit
			sample[i] = lo + rng.Float64()*(hi-lo)
		}

		result, idx := extend(solver, treeA, sample)
		if result == extendTrapped {
			treeA, treeB = treeB, treeA
			aIsStart = !aIsStart
			continue
		}

		newCfg := treeA.nodes[idx].cfg
		connectResult, connectIdx := connect(solver, treeB, newCfg)
		if connectResult == extendReached {
			aPath := treeA.pathTo(idx)
			bPath := treeB.pathTo(connectIdx)
			// reverse bPath and append (skip duplicate join point)
			joined := make(Path, 0, len(aPath)+len(bPath))
			joined = append(joined, aPath...)
			for i := len(bPath) - 2; i >= 0; i-- {
				joined = append(joined, bPath[i])
			}
			if !aIsStart {
				for i, j := 0, len(joined)-1; i < j; i, j = i+1, j-1 {
					joined[i], joined[j] = joined[j], joined[i]
				}
			}
			return shortcutSmooth(solver, joined, rng), nil
		}

		treeA, treeB = treeB, treeA
		aIsStart = !aIsStart
	}

	return nil, ErrPlanFailure
}

// shortcutSmooth repeatedly tries to replace a sub-path between two
// non-adjacent waypoints with a direct interpolation, for ShortcutPasses
// passes, keeping the replacement only when it stays collision-free.
func shortcutSmooth(solver *kinematics.Solver, path Path, rng *rand.Rand) Path {
	if len(path) < 3 {
		return path
	}
	for pass := 0; pass < ShortcutPasses; pass++ {
		if len(path) < 3 {
			break
		}
		i := rng.Intn(len(path) - 1)
		j := i + 1 + rng.Intn(len(path)-i-1)
		if j-i < 2 {
			continue
		}
		if segmentSafe(solver, path[i], path[j]) {
			newPath := make(Path, 0, len(path)-(j-i)+1)
			newPath = append(newPath, path[:i+1]...)
			newPath = append(newPath, path[j:]...)
			path = newPath
		}
	}
	return path
}
