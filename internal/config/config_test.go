package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, "default", c.Group)
	assert.Equal(t, DefaultTickInterval, c.TickInterval)
	assert.Equal(t, DefaultStopTimeout, c.StopTimeout)
	assert.Equal(t, "none", c.Update.Strategy)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, filepath.Join(DefaultFSRoot, "sup", "LOCK"), c.LockPath())
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "fleetsup.toml", `
group = "prod"
organization = "acme"
fs_root = "/tmp/fs"
tick_interval = "250ms"
stop_timeout = "3s"
env = ["A=1"]

[gossip]
listen = "127.0.0.1:9000"
peers = ["10.0.0.2:9638"]
permanent = true
ring = "prod-ring"

[update]
url = "https://depot.example.com"
interval = "30s"

[log]
level = "debug"
format = "json"

[[services]]
ident = "core/redis"
topology = "leader"
strategy = "at-once"

[[services]]
ident = "core/web/1.0.0"
group = "edge"
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", c.Group)
	assert.Equal(t, "acme", c.Organization)
	assert.Equal(t, 250*time.Millisecond, c.TickInterval)
	assert.Equal(t, 3*time.Second, c.StopTimeout)
	assert.Equal(t, []string{"10.0.0.2:9638"}, c.Gossip.Peers)
	assert.True(t, c.Gossip.Permanent)
	assert.Equal(t, "prod-ring", c.Gossip.Ring)
	assert.Equal(t, 30*time.Second, c.Update.Interval)
	assert.Equal(t, "json", c.Log.Format)
	require.Len(t, c.Services, 2)
	assert.Equal(t, "leader", c.Services[0].Topology)
	assert.Equal(t, "at-once", c.StrategyFor(c.Services[0]))
	assert.Equal(t, "none", c.StrategyFor(c.Services[1]))
	assert.Equal(t, "prod", c.GroupFor(c.Services[0]))
	assert.Equal(t, "edge", c.GroupFor(c.Services[1]))
	assert.Equal(t, "/tmp/fs/cache/keys", c.KeyCacheDir())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FLEETSUP_GROUP", "from-env")
	t.Setenv("FLEETSUP_GOSSIP_LISTEN", "127.0.0.1:1")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", c.Group)
	assert.Equal(t, "127.0.0.1:1", c.Gossip.Listen)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"bad strategy":      "[update]\nstrategy = \"rolling\"\n",
		"missing depot url": "[[services]]\nident = \"core/web\"\nstrategy = \"at-once\"\n",
		"missing ident":     "[[services]]\ntopology = \"leader\"\n",
		"zero tick":         "tick_interval = \"0s\"\n",
	}
	for name, body := range cases {
		_, err := Load(writeFile(t, "c.toml", body))
		assert.Error(t, err, name)
	}
}

func TestGlobalEnv(t *testing.T) {
	envFile := writeFile(t, "svc.env", "# comment\nDB_HOST = db.local\n\nBROKEN\nPORT=5432\n")
	c := Default()
	c.EnvFiles = []string{envFile}
	c.Env = []string{"PORT=6543"}
	got, err := c.GlobalEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"DB_HOST=db.local", "PORT=5432", "PORT=6543"}, got)

	c.EnvFiles = []string{filepath.Join(t.TempDir(), "missing.env")}
	_, err = c.GlobalEnv()
	assert.Error(t, err)
}
