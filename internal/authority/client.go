// Package authority is the HTTP client for the simulation authority's v3 API.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/protocol"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

// TokenSource yields the bearer credential. An empty token means none.
type TokenSource interface {
	Token() string
}

type StaticToken string

func (t StaticToken) Token() string { return strings.TrimSpace(string(t)) }

type Options struct {
	BaseURL    string
	Tokens     TokenSource
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	base   string
	tokens TokenSource
	http   *http.Client
	log    *zap.Logger
}

func New(opts Options) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("authority base url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url: %s", base)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &Client{
		base:   strings.TrimRight(u.String(), "/"),
		tokens: tokens,
		http:   hc,
		log:    log.Named("authority"),
	}, nil
}

// HasCredential reports whether mutating calls can be attempted.
func (c *Client) HasCredential() bool {
	return c.tokens.Token() != ""
}

// Bounds is an inclusive voxel query box.
type Bounds struct {
	Min voxel.Coord
	Max voxel.Coord
}

type EntityQuery struct {
	AliveOnly bool
	Limit     int
}

func (c *Client) WorldState(ctx context.Context) (protocol.WorldStateDTO, error) {
	var out protocol.WorldStateDTO
	err := c.do(ctx, http.MethodGet, "/v3/world/state", nil, nil, false, &out)
	return out, err
}

func (c *Client) Voxels(ctx context.Context, b Bounds) ([]protocol.VoxelDTO, error) {
	q := url.Values{}
	q.Set("min_x", strconv.Itoa(b.Min.X))
	q.Set("max_x", strconv.Itoa(b.Max.X))
	q.Set("min_y", strconv.Itoa(b.Min.Y))
	q.Set("max_y", strconv.Itoa(b.Max.Y))
	q.Set("min_z", strconv.Itoa(b.Min.Z))
	q.Set("max_z", strconv.Itoa(b.Max.Z))
	var out []protocol.VoxelDTO
	err := c.do(ctx, http.MethodGet, "/v3/voxels", q, nil, false, &out)
	return out, err
}

func (c *Client) Entities(ctx context.Context, eq EntityQuery) ([]protocol.EntityDTO, error) {
	q := url.Values{}
	q.Set("alive_only", strconv.FormatBool(eq.AliveOnly))
	if eq.Limit > 0 {
		q.Set("limit", strconv.Itoa(eq.Limit))
	}
	var out protocol.EntitiesResponse
	if err := c.do(ctx, http.MethodGet, "/v3/entities", q, nil, false, &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}

func (c *Client) Structures(ctx context.Context) ([]protocol.StructureDTO, error) {
	var out []protocol.StructureDTO
	err := c.do(ctx, http.MethodGet, "/v3/structures", nil, nil, false, &out)
	return out, err
}

func (c *Client) Place(ctx context.Context, req protocol.PlaceRequest) error {
	return c.do(ctx, http.MethodPost, "/v3/building/place", nil, req, true, nil)
}

func (c *Client) Destroy(ctx context.Context, req protocol.DestroyRequest) error {
	return c.do(ctx, http.MethodPost, "/v3/building/destroy", nil, req, true, nil)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body any, mutating bool, out any) error {
	token := c.tokens.Token()
	if mutating && token == "" {
		return ErrAuthMissing
	}

	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()
	c.log.Debug("request done",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 8*1024))
		return fmt.Errorf("%w: %s %s status=401", ErrAuthMissing, method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return decodeRejection(resp.StatusCode, raw)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A truncated body is a transport problem, not a refusal.
		return fmt.Errorf("%w: decode %s: %w", ErrNetwork, path, err)
	}
	return nil
}

func decodeRejection(status int, raw []byte) error {
	re := &RejectedError{Status: status}
	var dto protocol.RejectionDTO
	if err := json.Unmarshal(raw, &dto); err == nil {
		re.Code = strings.TrimSpace(dto.Code)
		re.Reason = strings.TrimSpace(dto.Error)
		if re.Reason == "" {
			re.Reason = strings.TrimSpace(dto.Detail)
		} else if dto.Detail != "" {
			re.Reason += ": " + strings.TrimSpace(dto.Detail)
		}
	} else {
		re.Reason = strings.TrimSpace(string(raw))
	}
	if re.Code == "" || !protocol.IsKnownCode(re.Code) {
		re.Code = codeForStatus(status)
	}
	return re
}
