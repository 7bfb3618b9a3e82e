package auditdb

import (
	"context"
	"fmt"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

type Record struct {
	ID          string
	RecordedAt  string
	Kind        string
	Coord       voxel.Coord
	AgentID     string
	State       string
	Failure     string
	Code        string
	Reason      string
	Compensated bool
	Resynced    bool
	TookMS      int64
}

type Filter struct {
	Coord   *voxel.Coord
	AgentID string
	State   string
	Limit   int
}

// Recent returns committed rows, newest first.
func (s *Index) Recent(ctx context.Context, f Filter) ([]Record, error) {
	q := `SELECT id,recorded_at,kind,x,y,z,agent_id,state,failure,code,reason,compensated,resynced,took_ms FROM proposals WHERE 1=1`
	var args []any
	if f.Coord != nil {
		q += ` AND x=? AND y=? AND z=?`
		args = append(args, f.Coord.X, f.Coord.Y, f.Coord.Z)
	}
	if f.AgentID != "" {
		q += ` AND agent_id=?`
		args = append(args, f.AgentID)
	}
	if f.State != "" {
		q += ` AND state=?`
		args = append(args, f.State)
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q += ` ORDER BY recorded_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var comp, resync int
		if err := rows.Scan(&r.ID, &r.RecordedAt, &r.Kind, &r.Coord.X, &r.Coord.Y, &r.Coord.Z,
			&r.AgentID, &r.State, &r.Failure, &r.Code, &r.Reason, &comp, &resync, &r.TookMS); err != nil {
			return nil, err
		}
		r.Compensated = comp != 0
		r.Resynced = resync != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByState summarizes committed rows.
func (s *Index) CountByState(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM proposals GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}
