package cmd

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maximthomas/goradius/pkg/auth"
	"github.com/maximthomas/goradius/pkg/config"
	"github.com/maximthomas/goradius/pkg/modules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	args := []string{"version", "--config", "../test/goradius.yaml"}
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	assert.NoError(t, err)
	conf := config.GetConfig()
	assert.True(t, len(conf.Modules) > 0)
	assert.Equal(t, "testing123", conf.Server.Secret)
}

func TestCheck(t *testing.T) {
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"check", "--config", "../test/goradius.yaml"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "configuration OK")
}

func TestCheckErrors(t *testing.T) {
	tests := []struct {
		name string
		conf config.Config
	}{
		{
			name: "unknown module type",
			conf: config.Config{Modules: map[string]modules.Definition{"x": {Type: "nope"}}},
		},
		{
			name: "undefined section entry",
			conf: config.Config{
				Modules:  map[string]modules.Definition{"pap": {}},
				Sections: auth.Sections{Authorize: []string{"pap", "files"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, check(context.Background(), tt.conf))
		})
	}
}

func TestSessionStore(t *testing.T) {
	instances, err := modules.LoadInstances(context.Background(), map[string]modules.Definition{
		"pap":  {},
		"acct": {},
	})
	require.NoError(t, err)
	defer instances.Detach()
	assert.NotNil(t, sessionStore(instances))
	assert.Nil(t, sessionStore(modules.Instances{}))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRunWaitsForAdminRequests(t *testing.T) {
	script := filepath.Join(t.TempDir(), "slow.lua")
	require.NoError(t, os.WriteFile(script, []byte(`
function authorize(p)
  local deadline = os.clock() + 0.5
  while os.clock() < deadline do end
  return radiusd.RLM_MODULE_OK
end
`), 0o600))
	adminAddr := freeAddr(t)
	conf := config.Config{
		Server: config.Server{Address: "127.0.0.1:0", Secret: "testing123"},
		Admin:  config.Admin{Address: adminAddr},
		Modules: map[string]modules.Definition{
			"lua": {Type: "script", Properties: map[string]interface{}{"filename": script}},
		},
		Sections: auth.Sections{Authorize: []string{"lua"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- run(ctx, conf) }()

	base := "http://" + adminAddr + "/goradius/v1"
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond)

	status := make(chan int, 1)
	go func() {
		body := `{"code":"access-request","pairs":[{"name":"User-Name","value":"bob"}]}`
		resp, err := http.Post(base+"/requests", "application/json", strings.NewReader(body))
		if err != nil {
			status <- 0
			return
		}
		_ = resp.Body.Close()
		status <- resp.StatusCode
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case code := <-status:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(10 * time.Second):
		t.Fatal("admin request did not complete during shutdown")
	}
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return")
	}
}
