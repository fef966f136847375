package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultPollInterval = 3 * time.Second

// MeshConnector is the slice of internal/mesh.Mesh the resolver needs to
// reconcile router-socket edges against the latest server info. Kept as an
// interface (mirroring internal/dispatch.MeshSender) so the reconciliation
// logic below is testable without a real ROUTER socket.
type MeshConnector interface {
	Connect(peerID, endpoint string) error
	Disconnect(peerID string)
}

// Config configures one Resolver instance.
type Config struct {
	Self ServerInfo
	// PollInterval is how often the system controller is polled. Defaults
	// to 3s per spec.md §4.M.
	PollInterval time.Duration
	// Policies maps a serviceId to the selection policy its group uses.
	// Groups with no entry here use DefaultPolicy.
	Policies map[uint16]Policy
	// DefaultPolicy is used for any (serverType, serviceId) group absent
	// from Policies. Defaults to RoundRobin.
	DefaultPolicy Policy
}

// Resolver is the address resolver + server info center of spec.md §4.M. It
// polls a SystemController on a timer, connects/disconnects router-socket
// edges as the reported membership changes, and answers selection queries
// for internal/dispatch.AddressResolver.
type Resolver struct {
	cfg        Config
	controller SystemController
	mesh       MeshConnector
	logger     *slog.Logger

	mu          sync.RWMutex
	peers       map[string]ServerInfo // serverId -> latest Running info; absent/Disabled peers are pruned
	missedCount map[string]int

	stageMu     sync.RWMutex
	stageOwners map[int64]string

	stop chan struct{}
}

// NewResolver constructs a Resolver. Call Run in its own goroutine to start
// the polling loop.
func NewResolver(cfg Config, controller SystemController, mesh MeshConnector, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.DefaultPolicy == nil {
		cfg.DefaultPolicy = NewRoundRobinPolicy()
	}
	return &Resolver{
		cfg:         cfg,
		controller:  controller,
		mesh:        mesh,
		logger:      logger,
		peers:       make(map[string]ServerInfo),
		missedCount: make(map[string]int),
		stageOwners: make(map[int64]string),
		stop:        make(chan struct{}),
	}
}

// Run polls the system controller every PollInterval until ctx is canceled
// or Close is called. Meant to be run in its own goroutine.
func (r *Resolver) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.tick(ctx); err != nil {
				r.logger.Warn("discovery: updateServerInfo failed", "error", err)
			}
		}
	}
}

// Close stops Run.
func (r *Resolver) Close() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

// tick polls the controller once and reconciles mesh edges + the server
// info center against the result. Run calls it on every poll; this
// package's tests call it directly.
func (r *Resolver) tick(ctx context.Context) error {
	infos, err := r.controller.UpdateServerInfo(ctx, r.cfg.Self)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(infos))
	r.mu.Lock()
	for _, info := range infos {
		if info.ServerID == r.cfg.Self.ServerID {
			continue
		}
		seen[info.ServerID] = struct{}{}

		if info.State == ServerDisabled {
			r.disconnectLocked(info.ServerID)
			continue
		}

		if _, known := r.peers[info.ServerID]; !known {
			if err := r.mesh.Connect(info.ServerID, info.Endpoint); err != nil {
				r.logger.Warn("discovery: connect failed", "peer", info.ServerID, "error", err)
				continue
			}
		}
		r.peers[info.ServerID] = info
		r.missedCount[info.ServerID] = 0
	}

	// Peers in last tick's set but absent from this reply: disconnect after
	// two consecutive absences (spec.md §4.M).
	for serverID := range r.peers {
		if _, stillReported := seen[serverID]; stillReported {
			continue
		}
		r.missedCount[serverID]++
		if r.missedCount[serverID] >= 2 {
			r.disconnectLocked(serverID)
		}
	}
	r.mu.Unlock()
	return nil
}

// disconnectLocked removes serverID from the server info center and tears
// down its mesh edge. Caller must hold r.mu.
func (r *Resolver) disconnectLocked(serverID string) {
	if _, ok := r.peers[serverID]; ok {
		r.mesh.Disconnect(serverID)
	}
	delete(r.peers, serverID)
	delete(r.missedCount, serverID)
}

func (r *Resolver) policyFor(serviceID uint16) Policy {
	if p, ok := r.cfg.Policies[serviceID]; ok {
		return p
	}
	return r.cfg.DefaultPolicy
}

// --- dispatch.AddressResolver ---

// ResolveServiceID picks a connected peer hosting serviceID via that
// group's selection policy.
func (r *Resolver) ResolveServiceID(serviceID uint16) (string, bool) {
	r.mu.RLock()
	var candidates []ServerInfo
	for _, info := range r.peers {
		if info.ServiceID == serviceID {
			candidates = append(candidates, info)
		}
	}
	r.mu.RUnlock()

	picked, ok := r.policyFor(serviceID).Select(candidates)
	if !ok {
		return "", false
	}
	return picked.ServerID, true
}

// SelectService picks a connected peer for a named Api service group.
func (r *Resolver) SelectService(serviceName string) (string, uint16, bool) {
	r.mu.RLock()
	var candidates []ServerInfo
	for _, info := range r.peers {
		if info.ServiceName == serviceName {
			candidates = append(candidates, info)
		}
	}
	r.mu.RUnlock()
	if len(candidates) == 0 {
		return "", 0, false
	}

	picked, ok := r.policyFor(candidates[0].ServiceID).Select(candidates)
	if !ok {
		return "", 0, false
	}
	return picked.ServerID, picked.ServiceID, true
}

// ResolveStageOwner looks up the Play server registered as owning stageID.
func (r *Resolver) ResolveStageOwner(stageID int64) (string, bool) {
	r.stageMu.RLock()
	defer r.stageMu.RUnlock()
	serverID, ok := r.stageOwners[stageID]
	return serverID, ok
}

// RegisterStageOwner records that stageID is owned by serverID, overwriting
// any previous owner.
func (r *Resolver) RegisterStageOwner(stageID int64, serverID string) {
	r.stageMu.Lock()
	r.stageOwners[stageID] = serverID
	r.stageMu.Unlock()
}

// UnregisterStageOwner removes stageID's ownership record, e.g. once its
// stage is destroyed.
func (r *Resolver) UnregisterStageOwner(stageID int64) {
	r.stageMu.Lock()
	delete(r.stageOwners, stageID)
	r.stageMu.Unlock()
}
