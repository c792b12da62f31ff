package e2e_test

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/sideline/internal/api"
	"github.com/mcoot/sideline/internal/config"
	"github.com/mcoot/sideline/internal/factory"
	"github.com/mcoot/sideline/internal/supervisor"
	"github.com/mcoot/sideline/internal/testutil"
)

// cliRunner manages CLI binary execution
type cliRunner struct {
	binaryPath string
	serverURL  string
}

func newCLIRunner(t *testing.T, serverURL string) *cliRunner {
	t.Helper()

	projectRoot := findProjectRoot(t)

	binaryPath := filepath.Join(t.TempDir(), "sideline-test")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/sideline")
	cmd.Dir = projectRoot
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "failed to build CLI: %s", string(output))

	return &cliRunner{binaryPath: binaryPath, serverURL: serverURL}
}

func (r *cliRunner) run(args ...string) (string, error) {
	fullArgs := append([]string{
		"--server", r.serverURL,
		"--output", "json",
	}, args...)

	cmd := exec.Command(r.binaryPath, fullArgs...)
	output, err := cmd.Output()
	return string(output), err
}

func findProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// testAgent runs a real agent over badger and the in-process remote
type testAgent struct {
	url      string
	shutdown func()
}

func startTestAgent(t *testing.T, dataDir string) *testAgent {
	t.Helper()

	// Find a free port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	cfg := config.DefaultConfig()
	cfg.Server.Port = port
	cfg.Local.Path = dataDir
	cfg.Remote.Provider = config.RemoteMemory
	cfg.Sync.Interval = time.Hour

	logger := testutil.NopLogger()
	app, err := factory.New(cfg, logger)
	require.NoError(t, err)

	server := api.NewServer(app.Handler(), cfg.Server, logger)
	tree := supervisor.New(logger, cfg.Supervisor)
	app.Supervise(tree, server)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	url := "http://" + server.Addr()
	waitForServer(t, url+"/api/v1/health")

	return &testAgent{
		url: url,
		shutdown: func() {
			cancel()
			<-errCh
			require.NoError(t, app.Close())
		},
	}
}

func waitForServer(t *testing.T, url string) {
	t.Helper()

	client := &http.Client{Timeout: 100 * time.Millisecond}
	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Fatal("server did not become ready in time")
}

// Response types for JSON parsing
type healthResponse struct {
	Status string `json:"status"`
}

type savedPlayerResponse struct {
	Data struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"data"`
	Outcome struct {
		Kind string `json:"kind"`
	} `json:"outcome"`
}

type playerListResponse struct {
	Items []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"items"`
	Count int `json:"count"`
}

type statusResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"userId"`
	Online        bool   `json:"online"`
	QueueDepth    int    `json:"queueDepth"`
}

type syncResponse struct {
	Succeeded []string `json:"succeeded"`
	Remaining int      `json:"remaining"`
}

func decode[T any](t *testing.T, output string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(output), &v), "output: %s", output)
	return v
}

// Tests

func TestCLI_HealthCheck(t *testing.T) {
	agent := startTestAgent(t, t.TempDir())
	defer agent.shutdown()

	cli := newCLIRunner(t, agent.url)

	output, err := cli.run("health")
	require.NoError(t, err, "output: %s", output)
	assert.Equal(t, "ok", decode[healthResponse](t, output).Status)
}

func TestCLI_OfflineFirstFlow(t *testing.T) {
	agent := startTestAgent(t, t.TempDir())
	defer agent.shutdown()

	cli := newCLIRunner(t, agent.url)

	output, err := cli.run("players", "add", "--name", "Aino")
	require.NoError(t, err, "output: %s", output)
	saved := decode[savedPlayerResponse](t, output)
	assert.Equal(t, "queued", saved.Outcome.Kind)

	output, err = cli.run("status")
	require.NoError(t, err, "output: %s", output)
	status := decode[statusResponse](t, output)
	assert.False(t, status.Authenticated)
	assert.Equal(t, 1, status.QueueDepth)

	output, err = cli.run("auth", "signin", "coach-1")
	require.NoError(t, err, "output: %s", output)

	output, err = cli.run("sync")
	require.NoError(t, err, "output: %s", output)
	result := decode[syncResponse](t, output)
	assert.Equal(t, []string{saved.Data.ID}, result.Succeeded)
	assert.Zero(t, result.Remaining)

	output, err = cli.run("players", "add", "--name", "Veera")
	require.NoError(t, err, "output: %s", output)
	assert.Equal(t, "committed", decode[savedPlayerResponse](t, output).Outcome.Kind)

	output, err = cli.run("players", "list")
	require.NoError(t, err, "output: %s", output)
	assert.Equal(t, 2, decode[playerListResponse](t, output).Count)
}

func TestCLI_LocalDataSurvivesRestart(t *testing.T) {
	dataDir := t.TempDir()

	agent := startTestAgent(t, dataDir)
	cli := newCLIRunner(t, agent.url)
	output, err := cli.run("players", "add", "--name", "Aino")
	require.NoError(t, err, "output: %s", output)
	agent.shutdown()

	agent = startTestAgent(t, dataDir)
	defer agent.shutdown()
	cli.serverURL = agent.url

	output, err = cli.run("players", "list")
	require.NoError(t, err, "output: %s", output)
	list := decode[playerListResponse](t, output)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "Aino", list.Items[0].Name)

	output, err = cli.run("status")
	require.NoError(t, err, "output: %s", output)
	assert.Equal(t, 1, decode[statusResponse](t, output).QueueDepth)
}
