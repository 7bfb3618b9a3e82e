package authority

import (
	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/protocol"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/clock"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/entity"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

// VoxelFromDTO maps a wire voxel. Unknown materials fall back to solid; an
// absent has_collision takes the material default.
func VoxelFromDTO(d protocol.VoxelDTO) voxel.Voxel {
	m, err := voxel.ParseMaterial(d.Material)
	if err != nil {
		m = voxel.MaterialSolid
	}
	collide := voxel.DefaultCollision(m)
	if d.HasCollision != nil {
		collide = *d.HasCollision
	}
	return voxel.Voxel{
		Coord:        voxel.Coord{X: d.X, Y: d.Y, Z: d.Z},
		Color:        d.Color,
		Material:     m,
		HasCollision: collide,
	}
}

func VoxelsFromDTO(list []protocol.VoxelDTO, log *zap.Logger) []voxel.Voxel {
	out := make([]voxel.Voxel, 0, len(list))
	for _, d := range list {
		if _, err := voxel.ParseMaterial(d.Material); err != nil && log != nil {
			log.Debug("unknown voxel material", zap.String("material", d.Material))
		}
		out = append(out, VoxelFromDTO(d))
	}
	return out
}

func EntityFromDTO(d protocol.EntityDTO) entity.Entity {
	return entity.Entity{
		ID:       d.ID,
		Name:     d.Name,
		Position: mgl64.Vec3{d.Position.X, d.Position.Y, d.Position.Z},
		Facing:   mgl64.Vec2{d.Facing.X, d.Facing.Y},
		Appearance: entity.Appearance{
			Color: d.Appearance.Color,
			Shape: d.Appearance.Shape,
			Size:  d.Appearance.Size,
		},
		Personality:   d.Personality,
		State:         d.State,
		Alive:         d.IsAlive,
		God:           d.IsGod,
		MetaAwareness: d.MetaAwareness,
		BirthTick:     d.BirthTick,
	}
}

func EntitiesFromDTO(list []protocol.EntityDTO) []entity.Entity {
	out := make([]entity.Entity, 0, len(list))
	for _, d := range list {
		out = append(out, EntityFromDTO(d))
	}
	return out
}

func SnapshotFromDTO(d protocol.WorldStateDTO) clock.WorldSnapshot {
	s := clock.WorldSnapshot{
		Tick:        d.Tick,
		EntityCount: d.EntityCount,
		VoxelCount:  d.VoxelCount,
		Paused:      d.IsPaused,
		TimeSpeed:   d.TimeSpeed,
	}
	if d.God != nil {
		s.AuthorityID = d.God.ID
		s.GodPhase = d.God.State.GodPhase
	}
	return s
}

func StructuresFromDTO(list []protocol.StructureDTO) []clock.Structure {
	out := make([]clock.Structure, 0, len(list))
	for _, d := range list {
		out = append(out, clock.Structure{
			ID:         d.ID,
			Name:       d.Name,
			Kind:       d.Kind,
			Min:        [3]int{d.Min.X, d.Min.Y, d.Min.Z},
			Max:        [3]int{d.Max.X, d.Max.Y, d.Max.Z},
			Properties: d.Properties,
		})
	}
	return out
}
