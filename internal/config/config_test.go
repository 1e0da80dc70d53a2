package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muhammadmahdiamirpour/raitcp/internal/wire"
)

func TestParseEnvFile(t *testing.T) {
	r := strings.NewReader("RAITCP_LISTEN_PORT=9000\nRAITCP_ENDPOINTS=0.0.0.0:0=203.0.113.5:9100,0.0.0.0:0=203.0.113.6:9100\n")
	env, err := parseEnvFile(r)
	require.NoError(t, err)

	cfg, err := fromEnv(env, wire.Left)
	require.NoError(t, err)
	assert.Equal(t, wire.Left, cfg.Side)
	assert.EqualValues(t, 9000, cfg.ListenPort)
	require.Len(t, cfg.Endpoints, 2)
	assert.Equal(t, Endpoint{LocalAddr: "0.0.0.0:0", RemoteHost: "203.0.113.5", RemotePort: 9100}, cfg.Endpoints[0])
	assert.Equal(t, Endpoint{LocalAddr: "0.0.0.0:0", RemoteHost: "203.0.113.6", RemotePort: 9100}, cfg.Endpoints[1])
}

func TestFromEnvMissingListenPort(t *testing.T) {
	_, err := fromEnv(map[string]string{}, wire.Right)
	assert.Error(t, err)
}

func TestFromEnvNoEndpoints(t *testing.T) {
	cfg, err := fromEnv(map[string]string{"RAITCP_LISTEN_PORT": "3000"}, wire.Right)
	require.NoError(t, err)
	assert.Empty(t, cfg.Endpoints)
}

func TestParseEndpointsRejectsMalformed(t *testing.T) {
	_, err := parseEndpoints("no-equals-sign")
	assert.Error(t, err)

	_, err = parseEndpoints("0.0.0.0:0=missing-port")
	assert.Error(t, err)

	_, err = parseEndpoints("0.0.0.0:0=host:notanumber")
	assert.Error(t, err)
}

func TestDebugEnabled(t *testing.T) {
	t.Setenv("DEBUG", "")
	assert.False(t, DebugEnabled())

	t.Setenv("DEBUG", "yes")
	assert.True(t, DebugEnabled())

	t.Setenv("DEBUG", "1")
	assert.True(t, DebugEnabled())

	t.Setenv("DEBUG", "no")
	assert.False(t, DebugEnabled())
}
