package authority

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/protocol"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

func newTestClient(t *testing.T, h http.Handler, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL, Tokens: StaticToken(token), Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestClient_WorldStateAndVoxels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/world/state", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(protocol.WorldStateDTO{
			Tick: 42, EntityCount: 3, VoxelCount: 9, TimeSpeed: 1.5,
			God: &protocol.GodDTO{ID: "god-1", State: protocol.GodStateDTO{GodPhase: "observing"}},
		})
	})
	mux.HandleFunc("/v3/voxels", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("min_x") != "-4" || q.Get("max_z") != "4" {
			t.Errorf("unexpected bounds query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`[{"x":1,"y":0,"z":2,"color":"#00ff00","material":"liquid"}]`))
	})
	c := newTestClient(t, mux, "")

	ws, err := c.WorldState(context.Background())
	if err != nil {
		t.Fatalf("WorldState: %v", err)
	}
	snap := SnapshotFromDTO(ws)
	if snap.Tick != 42 || snap.AuthorityID != "god-1" || snap.GodPhase != "observing" {
		t.Fatalf("snapshot=%+v", snap)
	}

	list, err := c.Voxels(context.Background(), Bounds{Min: voxel.Coord{X: -4, Y: -4, Z: -4}, Max: voxel.Coord{X: 4, Y: 4, Z: 4}})
	if err != nil {
		t.Fatalf("Voxels: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("voxels=%d", len(list))
	}
	v := VoxelFromDTO(list[0])
	if v.Material != voxel.MaterialLiquid || v.HasCollision {
		t.Fatalf("liquid voxel should default to no collision: %+v", v)
	}
}

func TestClient_PlaceSendsBearerAndBody(t *testing.T) {
	var got protocol.PlaceRequest
	var auth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v3/building/place" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}), "tok-1")

	err := c.Place(context.Background(), protocol.PlaceRequest{AgentID: "a1", X: 5, Z: 5, Color: "#ff0000", Material: "solid"})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if auth != "Bearer tok-1" {
		t.Fatalf("auth=%q", auth)
	}
	if got.X != 5 || got.Z != 5 || got.Color != "#ff0000" || got.AgentID != "a1" {
		t.Fatalf("body=%+v", got)
	}
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	t.Run("no token fails before sending", func(t *testing.T) {
		called := false
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }), "")
		err := c.Destroy(context.Background(), protocol.DestroyRequest{X: 1})
		if !errors.Is(err, ErrAuthMissing) {
			t.Fatalf("err=%v want ErrAuthMissing", err)
		}
		if called {
			t.Fatalf("request should not reach the authority")
		}
	})

	t.Run("401 is auth missing", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}), "expired")
		err := c.Destroy(context.Background(), protocol.DestroyRequest{X: 1})
		if !errors.Is(err, ErrAuthMissing) {
			t.Fatalf("err=%v want ErrAuthMissing", err)
		}
	})

	t.Run("rejection body", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"cell occupied","code":"E_OCCUPIED"}`))
		}), "tok")
		err := c.Place(context.Background(), protocol.PlaceRequest{})
		if !errors.Is(err, ErrRejected) {
			t.Fatalf("err=%v want ErrRejected", err)
		}
		var re *RejectedError
		if !errors.As(err, &re) {
			t.Fatalf("want *RejectedError, got %T", err)
		}
		if re.Status != 409 || re.Code != protocol.ErrOccupied || re.Reason != "cell occupied" {
			t.Fatalf("rejection=%+v", re)
		}
	})

	t.Run("rejection without body gets a status code", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}), "tok")
		var re *RejectedError
		if err := c.Place(context.Background(), protocol.PlaceRequest{}); !errors.As(err, &re) {
			t.Fatalf("err=%v", err)
		}
		if re.Code != protocol.ErrInvalidTarget {
			t.Fatalf("code=%s", re.Code)
		}
	})

	t.Run("transport failure is network", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		c, err := New(Options{BaseURL: url, Tokens: StaticToken("tok"), Timeout: time.Second})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := c.Place(context.Background(), protocol.PlaceRequest{}); !errors.Is(err, ErrNetwork) {
			t.Fatalf("err=%v want ErrNetwork", err)
		}
	})

	t.Run("deadline is network", func(t *testing.T) {
		block := make(chan struct{})
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-block:
			case <-r.Context().Done():
			}
		}), "tok")
		defer close(block)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err := c.Place(ctx, protocol.PlaceRequest{})
		if !errors.Is(err, ErrNetwork) || !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err=%v want ErrNetwork wrapping DeadlineExceeded", err)
		}
	})
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	for _, u := range []string{"", "ftp://x", "not a url"} {
		if _, err := New(Options{BaseURL: u}); err == nil {
			t.Fatalf("expected error for %q", u)
		}
	}
}
