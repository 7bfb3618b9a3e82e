// Package auditdb indexes proposal outcomes in SQLite so they can be queried
// by coordinate, agent or failure kind. The journal stays the source of truth.
package auditdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/build"
)

type Index struct {
	db  *sql.DB
	log *zap.Logger

	ch chan row
	wg sync.WaitGroup

	// mu guards closed and every send on ch.
	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
	written atomic.Uint64
	failed  atomic.Uint64

	commitEvery   int
	commitMaxWait time.Duration
}

type row struct {
	ID          string
	RecordedAt  string
	Kind        string
	X, Y, Z     int
	AgentID     string
	State       string
	Failure     string
	Code        string
	Reason      string
	Compensated bool
	Resynced    bool
	TookMS      int64
	// flush asks the writer to commit and then signal.
	flush       chan struct{}
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	Written       uint64
	Dropped       uint64
	Failed        uint64
}

func Open(path string, log *zap.Logger) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Index{
		db:            db,
		log:           log.Named("auditdb"),
		ch:            make(chan row, 4096),
		commitEvery:   200,
		commitMaxWait: time.Second,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS proposals (
			id TEXT PRIMARY KEY,
			recorded_at TEXT NOT NULL,
			kind TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			state TEXT NOT NULL,
			failure TEXT NOT NULL,
			code TEXT NOT NULL,
			reason TEXT NOT NULL,
			compensated INTEGER NOT NULL,
			resynced INTEGER NOT NULL,
			took_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_proposals_pos ON proposals(x, z, y, recorded_at);`,
		`CREATE INDEX IF NOT EXISTS idx_proposals_agent ON proposals(agent_id, recorded_at);`,
		`CREATE INDEX IF NOT EXISTS idx_proposals_state ON proposals(state, failure);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Index) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.wg.Wait()
	return s.db.Close()
}

// ProposalResolved queues the outcome. When the writer falls behind the row
// is dropped and counted.
func (s *Index) ProposalResolved(o build.Outcome) {
	if s == nil {
		return
	}
	r := row{
		ID:          o.ProposalID,
		RecordedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		Kind:        string(o.Kind),
		X:           o.Coord.X,
		Y:           o.Coord.Y,
		Z:           o.Coord.Z,
		AgentID:     o.AgentID,
		State:       o.State.String(),
		Failure:     string(o.Failure),
		Code:        o.Code,
		Reason:      o.Reason,
		Compensated: o.Compensated,
		Resynced:    o.Resynced,
		TookMS:      o.Took.Milliseconds(),
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

// Flush waits until everything queued so far is committed.
func (s *Index) Flush(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	if err := s.send(ctx, row{flush: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send blocks until the writer takes r. It is a no-op once the index is
// closed.
func (s *Index) send(ctx context.Context, r row) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		close(r.flush)
		return nil
	}
	select {
	case s.ch <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Index) Stats() Stats {
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		Written:       s.written.Load(),
		Dropped:       s.dropped.Load(),
		Failed:        s.failed.Load(),
	}
}

func (s *Index) loop() {
	ctx := context.Background()
	insert, err := s.db.Prepare(`INSERT OR REPLACE INTO proposals(id,recorded_at,kind,x,y,z,agent_id,state,failure,code,reason,compensated,resynced,took_ms) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.log.Error("prepare insert failed", zap.Error(err))
	}
	defer func() {
		if insert != nil {
			_ = insert.Close()
		}
	}()

	var (
		tx         *sql.Tx
		pending    int
		lastCommit = time.Now()
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.failed.Add(uint64(pending))
			s.log.Warn("commit failed", zap.Error(err))
		} else {
			s.written.Add(uint64(pending))
		}
		tx = nil
		pending = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.flush != nil {
			commit()
			close(r.flush)
			continue
		}
		begin()
		if tx == nil || insert == nil {
			s.failed.Add(1)
			continue
		}
		if _, err := tx.Stmt(insert).Exec(
			r.ID, r.RecordedAt, r.Kind, r.X, r.Y, r.Z, r.AgentID,
			r.State, r.Failure, r.Code, r.Reason,
			boolInt(r.Compensated), boolInt(r.Resynced), r.TookMS,
		); err != nil {
			s.failed.Add(1)
			s.log.Warn("insert failed", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		pending++
		if pending >= s.commitEvery || time.Since(lastCommit) >= s.commitMaxWait {
			commit()
		}
	}
	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
