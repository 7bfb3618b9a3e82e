package build

import "github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"

// Field is the part of the voxel mirror a proposal touches.
type Field interface {
	Get(c voxel.Coord) (voxel.Voxel, bool)
	ApplyDelta(deltas ...voxel.Delta)
}

// Command is an optimistic local edit and its inverse.
type Command interface {
	Apply()
	Compensate()
}

// voxelCommand writes next at a coordinate and, when compensated, puts back
// the state captured as prev.
type voxelCommand struct {
	field   Field
	next    voxel.Delta
	prev    voxel.Voxel
	prevHad bool
}

func newVoxelCommand(f Field, g Gesture, prev voxel.Voxel, had bool) *voxelCommand {
	next := voxel.Remove(g.Coord)
	if g.Kind != KindDestroy {
		next = voxel.Put(g.target())
	}
	return &voxelCommand{field: f, next: next, prev: prev, prevHad: had}
}

func (c *voxelCommand) Apply() { c.field.ApplyDelta(c.next) }

func (c *voxelCommand) Compensate() {
	c.field.ApplyDelta(voxel.Restore(c.next.Coord, c.prev, c.prevHad))
}
