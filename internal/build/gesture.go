// Package build turns build-tool gestures into proposals for the authority,
// applies them optimistically to the voxel field and reconciles the outcome.
package build

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/protocol"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

type Kind string

const (
	KindPlace   Kind = "place"
	KindDestroy Kind = "destroy"
	KindPaint   Kind = "paint"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindPlace, KindDestroy, KindPaint:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidGesture, s)
	}
}

var ErrInvalidGesture = errors.New("invalid gesture")

type Gesture struct {
	Kind     Kind
	Coord    voxel.Coord
	Color    string
	Material voxel.Material
	AgentID  string
}

func (g Gesture) validate() error {
	switch g.Kind {
	case KindDestroy:
		return nil
	case KindPlace, KindPaint:
		if strings.TrimSpace(g.Color) == "" {
			return fmt.Errorf("%w: %s needs a color", ErrInvalidGesture, g.Kind)
		}
		if _, err := voxel.ParseMaterial(string(g.Material)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidGesture, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidGesture, g.Kind)
	}
}

// target is the voxel the gesture leaves at its coordinate.
func (g Gesture) target() voxel.Voxel {
	m, _ := voxel.ParseMaterial(string(g.Material))
	return voxel.Voxel{
		Coord:        g.Coord,
		Color:        g.Color,
		Material:     m,
		HasCollision: voxel.DefaultCollision(m),
	}
}

func placeRequest(agentID string, v voxel.Voxel) protocol.PlaceRequest {
	return protocol.PlaceRequest{
		AgentID:  agentID,
		X:        v.Coord.X,
		Y:        v.Coord.Y,
		Z:        v.Coord.Z,
		Color:    v.Color,
		Material: string(v.Material),
	}
}

func destroyRequest(agentID string, c voxel.Coord) protocol.DestroyRequest {
	return protocol.DestroyRequest{AgentID: agentID, X: c.X, Y: c.Y, Z: c.Z}
}
