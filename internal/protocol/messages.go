package protocol

import "encoding/json"

// GET /v3/world/state
type WorldStateDTO struct {
	Tick        uint64  `json:"tick"`
	EntityCount int     `json:"entity_count"`
	VoxelCount  int     `json:"voxel_count"`
	IsPaused    bool    `json:"is_paused"`
	TimeSpeed   float64 `json:"time_speed"`
	God         *GodDTO `json:"god,omitempty"`
}

type GodDTO struct {
	ID    string      `json:"id"`
	State GodStateDTO `json:"state"`
}

type GodStateDTO struct {
	GodPhase string `json:"god_phase,omitempty"`
}

// GET /v3/voxels element.
type VoxelDTO struct {
	X            int    `json:"x"`
	Y            int    `json:"y"`
	Z            int    `json:"z"`
	Color        string `json:"color"`
	Material     string `json:"material"`
	HasCollision *bool  `json:"has_collision,omitempty"`
}

// GET /v3/entities
type EntitiesResponse struct {
	Entities []EntityDTO `json:"entities"`
}

type EntityDTO struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Position      Vec3DTO         `json:"position"`
	Facing        Vec2DTO         `json:"facing"`
	Appearance    AppearanceDTO   `json:"appearance"`
	Personality   json.RawMessage `json:"personality,omitempty"`
	State         json.RawMessage `json:"state,omitempty"`
	IsAlive       bool            `json:"is_alive"`
	IsGod         bool            `json:"is_god"`
	MetaAwareness float64         `json:"meta_awareness"`
	BirthTick     uint64          `json:"birth_tick"`
}

type Vec3DTO struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Vec2DTO struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vec3iDTO is an integer cell position.
type Vec3iDTO struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

type AppearanceDTO struct {
	Color string  `json:"color,omitempty"`
	Shape string  `json:"shape,omitempty"`
	Size  float64 `json:"size,omitempty"`
}

// GET /v3/structures element: a named bounding box with free-form properties.
type StructureDTO struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Kind       string         `json:"kind,omitempty"`
	Min        Vec3iDTO       `json:"min"`
	Max        Vec3iDTO       `json:"max"`
	Properties map[string]any `json:"properties,omitempty"`
}

// POST /v3/building/place
type PlaceRequest struct {
	AgentID  string `json:"agent_id"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Z        int    `json:"z"`
	Color    string `json:"color"`
	Material string `json:"material"`
}

// POST /v3/building/destroy
type DestroyRequest struct {
	AgentID string `json:"agent_id"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Z       int    `json:"z"`
}

// ChatSend is the outbound socket frame for a human chat line.
type ChatSend struct {
	Text   string `json:"text"`
	Sender string `json:"sender,omitempty"`
}
