package build

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

type Mode string

const (
	ModeNone    Mode = "none"
	ModePlace   Mode = "place"
	ModeDestroy Mode = "destroy"
	ModePaint   Mode = "paint"
)

const DefaultColor = "#ffffff"

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeNone, ModePlace, ModeDestroy, ModePaint:
		return m, nil
	case "":
		return ModeNone, nil
	default:
		return "", fmt.Errorf("unknown build mode: %q", s)
	}
}

// SessionState is a copy of the build tool state.
type SessionState struct {
	Active   bool
	Mode     Mode
	Color    string
	Material voxel.Material
	Preview  *voxel.Coord
}

// Session is the transient build-tool state. It is never persisted and
// closing it only drops local preview state.
type Session struct {
	mu  sync.Mutex
	st  SessionState
	gen uint64
}

func NewSession() *Session {
	s := &Session{}
	s.reset()
	return s
}

func (s *Session) reset() {
	s.st = SessionState{Mode: ModeNone, Color: DefaultColor, Material: voxel.MaterialSolid}
}

func (s *Session) Open(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Active = true
	s.st.Mode = m
	s.gen++
}

func (s *Session) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Mode = m
	s.st.Preview = nil
	s.gen++
}

func (s *Session) SetColor(color string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if color = strings.TrimSpace(color); color != "" {
		s.st.Color = color
		s.gen++
	}
}

func (s *Session) SetMaterial(m voxel.Material) error {
	m, err := voxel.ParseMaterial(string(m))
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Material = m
	s.gen++
	return nil
}

// SetPreview records the hovered cell. A nil coord clears it.
func (s *Session) SetPreview(c *voxel.Coord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c != nil {
		cc := *c
		c = &cc
	}
	s.st.Preview = c
	s.gen++
}

// Close discards the local state. Proposals already submitted still resolve.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.gen++
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	if st.Preview != nil {
		c := *st.Preview
		st.Preview = &c
	}
	return st
}

// Generation changes every time the state does.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// GestureAt builds the gesture the active tool would make at c.
func (s *Session) GestureAt(c voxel.Coord, agentID string) (Gesture, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.st.Active {
		return Gesture{}, false
	}
	var k Kind
	switch s.st.Mode {
	case ModePlace:
		k = KindPlace
	case ModeDestroy:
		k = KindDestroy
	case ModePaint:
		k = KindPaint
	default:
		return Gesture{}, false
	}
	return Gesture{
		Kind:     k,
		Coord:    c,
		Color:    s.st.Color,
		Material: s.st.Material,
		AgentID:  agentID,
	}, true
}
