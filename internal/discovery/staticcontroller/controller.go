// Package staticcontroller is the local/dev reference
// discovery.SystemController of spec.md §4.M: it reads a fixed YAML peer
// list once and echoes it back unchanged on every poll, alongside whatever
// self info the resolver supplies for the cycle.
//
// Grounded on the teacher's internal/config package: the same
// gopkg.in/yaml.v3 + `yaml:"..."` struct-tag convention, reused here for a
// peer list instead of a server config file.
package staticcontroller

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ulala-x/playhouse-go/internal/discovery"
	"github.com/ulala-x/playhouse-go/internal/packet"
)

// Entry is one peer's static description, as written in the YAML file.
type Entry struct {
	ServerID    string `yaml:"server_id"`
	ServerType  string `yaml:"server_type"` // "Play" or "Api"
	ServiceID   uint16 `yaml:"service_id"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
	Weight      int    `yaml:"weight"`
}

type fileFormat struct {
	Peers []Entry `yaml:"peers"`
}

// Controller is a discovery.SystemController that always reports the same
// fixed peer list, loaded once from a YAML file at construction.
type Controller struct {
	peers []discovery.ServerInfo
}

// Load reads and parses a static peer list from path.
func Load(path string) (*Controller, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading static peer list %q: %w", path, err)
	}
	var parsed fileFormat
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing static peer list %q: %w", path, err)
	}

	peers := make([]discovery.ServerInfo, 0, len(parsed.Peers))
	for _, e := range parsed.Peers {
		serverType, err := parseServerType(e.ServerType)
		if err != nil {
			return nil, fmt.Errorf("peer %q: %w", e.ServerID, err)
		}
		peers = append(peers, discovery.ServerInfo{
			ServerID:    e.ServerID,
			ServerType:  serverType,
			ServiceID:   e.ServiceID,
			ServiceName: e.ServiceName,
			Endpoint:    e.Endpoint,
			Weight:      e.Weight,
			State:       discovery.ServerRunning,
		})
	}
	return &Controller{peers: peers}, nil
}

func parseServerType(s string) (packet.ServerType, error) {
	switch s {
	case "Play":
		return packet.ServerTypePlay, nil
	case "Api":
		return packet.ServerTypeApi, nil
	default:
		return 0, fmt.Errorf("unknown server_type %q (want Play or Api)", s)
	}
}

// UpdateServerInfo implements discovery.SystemController: returns the
// static list loaded at construction, plus self (the resolver expects self
// echoed back in every reply per spec.md §4.M).
func (c *Controller) UpdateServerInfo(_ context.Context, self discovery.ServerInfo) ([]discovery.ServerInfo, error) {
	out := make([]discovery.ServerInfo, 0, len(c.peers)+1)
	out = append(out, self)
	out = append(out, c.peers...)
	return out, nil
}
