package staticcontroller

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulala-x/playhouse-go/internal/discovery"
	"github.com/ulala-x/playhouse-go/internal/packet"
)

const testYAML = `
peers:
  - server_id: api-1
    server_type: Api
    service_id: 1
    service_name: chat
    endpoint: tcp://api-1:9100
    weight: 5
  - server_id: play-2
    server_type: Play
    service_id: 1
    endpoint: tcp://play-2:9000
`

func writeTestFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesServerTypesAndFields(t *testing.T) {
	path := writeTestFile(t, testYAML)
	c, err := Load(path)
	require.NoError(t, err)
	require.Len(t, c.peers, 2)

	assert.Equal(t, "api-1", c.peers[0].ServerID)
	assert.Equal(t, packet.ServerTypeApi, c.peers[0].ServerType)
	assert.Equal(t, "chat", c.peers[0].ServiceName)
	assert.Equal(t, 5, c.peers[0].Weight)
	assert.Equal(t, packet.ServerTypePlay, c.peers[1].ServerType)
}

func TestLoadRejectsUnknownServerType(t *testing.T) {
	path := writeTestFile(t, "peers:\n  - server_id: x\n    server_type: Bogus\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestUpdateServerInfoEchoesSelfAndStaticPeers(t *testing.T) {
	path := writeTestFile(t, testYAML)
	c, err := Load(path)
	require.NoError(t, err)

	self := discovery.ServerInfo{ServerID: "play-1", ServerType: packet.ServerTypePlay}
	infos, err := c.UpdateServerInfo(context.Background(), self)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "play-1", infos[0].ServerID)
}
