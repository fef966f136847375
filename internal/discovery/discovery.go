// Package discovery implements the address resolver and server info center
// of spec.md §4.M: a background loop that polls a user-supplied
// SystemController for the current mesh membership, reconciles router-socket
// edges against it, and answers the selection queries internal/dispatch's
// AddressResolver needs.
package discovery

import (
	"context"

	"github.com/ulala-x/playhouse-go/internal/packet"
)

// ServerState is a peer's reported lifecycle state, per spec.md §3.
type ServerState uint8

const (
	ServerRunning ServerState = iota
	ServerDisabled
)

func (s ServerState) String() string {
	if s == ServerDisabled {
		return "Disabled"
	}
	return "Running"
}

// ServerInfo describes one mesh member (spec.md §3), including self.
type ServerInfo struct {
	ServerID    string
	ServerType  packet.ServerType
	ServiceID   uint16
	ServiceName string
	Endpoint    string
	Weight      int
	State       ServerState
}

// SystemController is the one-method service-discovery contract of
// spec.md §6: "updateServerInfo(selfInfo) → list<ServerInfo>". Called
// periodically; the returned list fully describes the mesh, including self.
// internal/discovery/pgcontroller and internal/discovery/staticcontroller
// are the two reference implementations; applications may supply their own.
type SystemController interface {
	UpdateServerInfo(ctx context.Context, self ServerInfo) ([]ServerInfo, error)
}
