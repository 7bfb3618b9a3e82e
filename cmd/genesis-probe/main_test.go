package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/protocol"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

func TestParseCoord(t *testing.T) {
	c, err := parseCoord([]string{"1", "-2", "3"})
	require.NoError(t, err)
	require.Equal(t, voxel.Coord{X: 1, Y: -2, Z: 3}, c)

	_, err = parseCoord([]string{"1", "y", "3"})
	require.Error(t, err)
}

// fakeWorld is a minimal authority for end-to-end command runs.
type fakeWorld struct {
	mu     sync.Mutex
	places []protocol.PlaceRequest
	reject bool
}

func (f *fakeWorld) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/world/state", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tick":1}`))
	})
	mux.HandleFunc("/v3/voxels", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/v3/entities", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"entities":[]}`))
	})
	mux.HandleFunc("/v3/structures", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/v3/building/place", func(w http.ResponseWriter, r *http.Request) {
		var req protocol.PlaceRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.places = append(f.places, req)
		reject := f.reject
		f.mu.Unlock()
		if reject {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":"E_CONFLICT","message":"occupied"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	return mux
}

func writeConfig(t *testing.T, baseURL string) (path, journalDir string) {
	t.Helper()
	dir := t.TempDir()
	journalDir = filepath.Join(dir, "journal")
	cfg := fmt.Sprintf("authority:\n  base_url: %s\n  proposal_timeout: 5s\ntelemetry:\n  journal_dir: %s\n  audit_db: %s\n",
		baseURL, journalDir, filepath.Join(dir, "audit.sqlite"))
	path = filepath.Join(dir, "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path, journalDir
}

func runProbe(t *testing.T, args ...string) (string, error) {
	t.Helper()
	p := &probe{}
	root := newRootCmd(p)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	if terr := p.teardown(); err == nil {
		err = terr
	}
	return out.String(), err
}

func TestPlaceCommand_AppliedAndRecorded(t *testing.T) {
	world := &fakeWorld{}
	srv := httptest.NewServer(world.handler())
	t.Cleanup(srv.Close)
	t.Setenv("GENESIS_TOKEN", "tok")
	cfgPath, _ := writeConfig(t, srv.URL)

	out, err := runProbe(t, "--config", cfgPath, "--agent", "human-1", "place", "1", "2", "3", "--color", "#ff00ff", "--material", "glass")
	require.NoError(t, err)
	require.Contains(t, out, "place (1,2,3): applied")
	require.Contains(t, out, "glass #ff00ff")

	world.mu.Lock()
	require.Len(t, world.places, 1)
	require.Equal(t, "#ff00ff", world.places[0].Color)
	require.Equal(t, "human-1", world.places[0].AgentID)
	world.mu.Unlock()

	out, err = runProbe(t, "--config", cfgPath, "history")
	require.NoError(t, err)
	require.Contains(t, out, "applied")
	require.Contains(t, out, "(1,2,3)")
}

func TestPlaceCommand_RejectedFails(t *testing.T) {
	world := &fakeWorld{reject: true}
	srv := httptest.NewServer(world.handler())
	t.Cleanup(srv.Close)
	t.Setenv("GENESIS_TOKEN", "tok")
	cfgPath, _ := writeConfig(t, srv.URL)

	out, err := runProbe(t, "--config", cfgPath, "place", "0", "0", "0")
	require.ErrorIs(t, err, errReverted)
	require.True(t, strings.Contains(out, "reverted"), out)
}

func TestPlaceCommand_NoTokenFailsFast(t *testing.T) {
	world := &fakeWorld{}
	srv := httptest.NewServer(world.handler())
	t.Cleanup(srv.Close)
	t.Setenv("GENESIS_TOKEN", "")
	cfgPath, _ := writeConfig(t, srv.URL)

	_, err := runProbe(t, "--config", cfgPath, "place", "0", "0", "0")
	require.Error(t, err)
	world.mu.Lock()
	defer world.mu.Unlock()
	require.Empty(t, world.places)
}
