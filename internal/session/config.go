package session

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/authority"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/build"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/config"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/protocol"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/transport/socket"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/speech"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

// FromConfig builds the authority client, the socket channel and the
// session described by cfg.
func FromConfig(cfg config.Config, agentID string, obs build.Observer, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	tokens := authority.StaticToken(cfg.Token)
	client, err := authority.New(authority.Options{
		BaseURL: cfg.Authority.BaseURL,
		Tokens:  tokens,
		Timeout: cfg.Authority.RequestTimeout,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	var sock *socket.Channel
	if cfg.Socket.URL != "" {
		var v *protocol.Validator
		if cfg.Socket.ValidateEvents {
			if v, err = protocol.NewValidator(); err != nil {
				return nil, fmt.Errorf("event schemas: %w", err)
			}
		}
		sock, err = socket.New(socket.Options{
			URL:              cfg.Socket.URL,
			Tokens:           tokens,
			MaxAttempts:      cfg.Socket.MaxReconnectAttempts,
			ReconnectDelay:   cfg.Socket.ReconnectDelay,
			HandshakeTimeout: cfg.Socket.HandshakeTimeout,
			ReadTimeout:      cfg.Socket.ReadTimeout,
			QueueSize:        cfg.Socket.QueueSize,
			Validator:        v,
			Logger:           log,
		})
		if err != nil {
			return nil, err
		}
	}

	b := cfg.Mirror.VoxelBounds
	return New(Options{
		Authority: client,
		Socket:    sock,
		Bounds: authority.Bounds{
			Min: voxel.Coord{X: b.Min[0], Y: b.Min[1], Z: b.Min[2]},
			Max: voxel.Coord{X: b.Max[0], Y: b.Max[1], Z: b.Max[2]},
		},
		EntityQuery: authority.EntityQuery{
			AliveOnly: cfg.Mirror.AliveOnly,
			Limit:     cfg.Mirror.EntityLimit,
		},
		RefreshMinInterval: cfg.Mirror.RefreshMinInterval,
		PollInterval:       cfg.Socket.PollInterval,
		ProposalTimeout:    cfg.Authority.ProposalTimeout,
		CachePath:          cfg.Mirror.CachePath,
		AgentID:            agentID,
		Speech: speech.Options{
			TTL:       cfg.Speech.TTL,
			MaxEvents: cfg.Speech.MaxEvents,
		},
		FeedMax:  cfg.Feed.MaxItems,
		Observer: obs,
		Logger:   log,
	})
}
