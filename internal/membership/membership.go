// Package membership tracks which log servers are currently reachable using
// gossip-based failure detection, and drives the present/absent transitions
// of the handle.Handle each log server is represented by.
//
// This is a direct adaptation of the teacher's GossipService
// (storage-node/internal/service/gossip_service.go): the same
// hashicorp/memberlist wiring (Delegate + EventDelegate), but instead of
// gossiping node health metrics, the delegate payload is unused and the
// event delegate feeds handle.Handle.Set/Clear for each log server tracked
// under this registry.
package membership

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/txlog/internal/handle"
	"github.com/devrev/pairdb/txlog/internal/locality"
)

// Config holds gossip protocol configuration, mirroring the teacher's
// GossipConfig field-for-field.
type Config struct {
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// Registry tracks the set of log-server handles known to this process and
// keeps them in sync with gossip membership events.
type Registry struct {
	nodeID     string
	logger     *zap.Logger
	memberlist *memberlist.Memberlist

	mu       sync.RWMutex
	handles  map[string]*handle.Handle
	rejoins  map[string]bool // serverID -> rejoins stopped
}

// NewRegistry creates a gossip-backed registry and joins the configured
// seed nodes. nodeID is this process's own gossip identity.
func NewRegistry(cfg *Config, nodeID string, logger *zap.Logger) (*Registry, error) {
	r := &Registry{
		nodeID:  nodeID,
		logger:  logger,
		handles: make(map[string]*handle.Handle),
		rejoins: make(map[string]bool),
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = nodeID
	mlConfig.BindPort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	mlConfig.Delegate = noopDelegate{}
	mlConfig.Events = &eventDelegate{registry: r}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create log-server membership list: %w", err)
	}
	r.memberlist = ml

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("failed to join some log-server seed nodes", zap.Error(err))
		}
	}

	return r, nil
}

// Register starts tracking a log server by its gossip name, returning the
// handle.Handle that will be kept in sync with its join/leave/update
// events. loc is the server's static locality data.
func (r *Registry) Register(serverID string, loc locality.Data) *handle.Handle {
	h := handle.New(loc)
	r.mu.Lock()
	r.handles[serverID] = h
	r.mu.Unlock()
	return h
}

// Handle returns the handle tracking serverID, if registered.
func (r *Registry) Handle(serverID string) (*handle.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[serverID]
	return h, ok
}

// Counts returns the current number of registered handles that are
// present and absent, for periodic metrics reporting.
func (r *Registry) Counts() (present, absent int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.handles {
		if _, ok := h.Get(); ok {
			present++
		} else {
			absent++
		}
	}
	return present, absent
}

// StopRejoins marks serverID as belonging to a retired epoch: further
// gossip join/update events for it are ignored, so a straggling old-epoch
// server cannot resurrect a handle recovery has already moved past
// (supplements spec §5 with original_source/fdbserver/LogSystem.h's
// stopRejoins).
func (r *Registry) StopRejoins(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejoins[serverID] = true
}

// Shutdown leaves the gossip cluster and releases resources.
func (r *Registry) Shutdown() error {
	return r.memberlist.Shutdown()
}

func (r *Registry) onJoin(node *memberlist.Node) {
	r.mu.RLock()
	h, ok := r.handles[node.Name]
	stopped := r.rejoins[node.Name]
	r.mu.RUnlock()
	if !ok || stopped {
		return
	}
	h.Set(handle.Interface{ServerID: node.Name, Address: node.Address()})
	r.logger.Info("log server joined", zap.String("server_id", node.Name), zap.String("addr", node.Address()))
}

func (r *Registry) onLeave(node *memberlist.Node) {
	r.mu.RLock()
	h, ok := r.handles[node.Name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	h.Clear()
	r.logger.Info("log server left", zap.String("server_id", node.Name))
}

func (r *Registry) onUpdate(node *memberlist.Node) {
	r.mu.RLock()
	h, ok := r.handles[node.Name]
	stopped := r.rejoins[node.Name]
	r.mu.RUnlock()
	if !ok || stopped {
		return
	}
	h.Set(handle.Interface{ServerID: node.Name, Address: node.Address()})
	r.logger.Debug("log server updated", zap.String("server_id", node.Name))
}

// eventDelegate adapts memberlist's event callbacks to Registry methods,
// mirroring the teacher's GossipEventDelegate.
type eventDelegate struct {
	registry *Registry
}

func (d *eventDelegate) NotifyJoin(node *memberlist.Node)   { d.registry.onJoin(node) }
func (d *eventDelegate) NotifyLeave(node *memberlist.Node)  { d.registry.onLeave(node) }
func (d *eventDelegate) NotifyUpdate(node *memberlist.Node) { d.registry.onUpdate(node) }

// noopDelegate carries no gossip payload: the log subsystem has no
// node-health metadata to propagate the way the teacher's GossipService
// does for storage nodes, but memberlist requires a Delegate.
type noopDelegate struct{}

func (noopDelegate) NodeMeta(limit int) []byte          { return nil }
func (noopDelegate) NotifyMsg([]byte)                   {}
func (noopDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (noopDelegate) LocalState(join bool) []byte        { return nil }
func (noopDelegate) MergeRemoteState(buf []byte, join bool) {}
