package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhubert/agentdesk/claude"
	"github.com/zhubert/agentdesk/config"
	"github.com/zhubert/agentdesk/credstore"
	"github.com/zhubert/agentdesk/ipc"
	"github.com/zhubert/agentdesk/process"
	"github.com/zhubert/agentdesk/provider"
	"github.com/zhubert/agentdesk/session"
	"github.com/zhubert/agentdesk/sysstats"
)

type fixedSampler struct {
	samples atomic.Int32
}

func (f *fixedSampler) Sample(ctx context.Context) (sysstats.Sample, error) {
	f.samples.Add(1)
	return sysstats.Sample{CPUUsage: 0.25, RAMUsage: 0.5, StorageData: 0.75}, nil
}

func (f *fixedSampler) Static(ctx context.Context) (sysstats.Static, error) {
	return sysstats.Static{TotalStorage: 500, CPUModel: "Fixed CPU", TotalMemoryGB: 32}, nil
}

type harness struct {
	app     *App
	runners *claude.MockRunnerFactory
	sampler *fixedSampler
	client  *ipc.Client
	dir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir, err := os.MkdirTemp("", "ad-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cipher, err := credstore.NewSecretboxCipher(make([]byte, 32))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.StatsInterval = config.Duration(20 * time.Millisecond)
	cfg.SocketPath = filepath.Join(dir, "s.sock")

	runners := &claude.MockRunnerFactory{}
	sampler := &fixedSampler{}
	a, err := New(cfg, Deps{
		Credentials:   credstore.New(filepath.Join(dir, "providers.json"), cipher, nil),
		Sampler:       sampler,
		RunnerFactory: runners.Factory(),
		Store:         session.NewFileStore(filepath.Join(dir, "sessions")),
		Tracker:       process.NewTracker(filepath.Join(dir, "pids")),
	})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	listener, err := a.Server.Listen(cfg.SocketPath)
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- a.Serve(listener) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Shutdown(ctx)
		<-served
	})

	return &harness{app: a, runners: runners, sampler: sampler, client: ipc.NewClient(cfg.SocketPath), dir: dir}
}

func receiveType(t *testing.T, conn *ipc.Conn, want string) ipc.RawEvent {
	t.Helper()
	for {
		ev, err := conn.Receive()
		require.NoError(t, err)
		if ev.Type == want {
			return ev
		}
	}
}

func receiveStatus(t *testing.T, conn *ipc.Conn, want session.Status) map[string]any {
	t.Helper()
	for {
		ev := receiveType(t, conn, ipc.EventSessionStatus)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(ev.Payload, &payload))
		if payload["status"] == string(want) {
			return payload
		}
	}
}

func TestApp_SessionLifecycleOverSocket(t *testing.T) {
	h := newHarness(t)
	h.runners.Configure = func(m *claude.MockRunner) {
		m.OnStart = func(m *claude.MockRunner) {
			m.EmitLine(`{"type":"system","subtype":"init","session_id":"cli-7"}`)
			m.EmitLine(`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`)
			m.Finish(nil)
		}
	}

	conn, err := h.client.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(ipc.ClientSessionStart, map[string]any{
		"title":  "Greeting",
		"prompt": "say hi",
		"cwd":    h.dir,
	}))

	running := receiveStatus(t, conn, session.StatusRunning)
	assert.Equal(t, "Greeting", running["title"])
	prompt := receiveType(t, conn, ipc.EventStreamUserPrompt)
	assert.Contains(t, string(prompt.Payload), "say hi")
	receiveType(t, conn, ipc.EventStreamMessage)
	done := receiveStatus(t, conn, session.StatusCompleted)
	id := done["sessionId"].(string)

	info, ok := h.app.Registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, "cli-7", info.ClaudeSessionID)
	assert.Equal(t, []string{h.dir}, h.app.Manager.ListRecentCwds(0))

	require.NoError(t, conn.Send(ipc.ClientSessionHistory, map[string]string{"sessionId": id}))
	history := receiveType(t, conn, ipc.EventSessionHistory)
	var payload struct {
		Messages []json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(history.Payload, &payload))
	assert.Len(t, payload.Messages, 3, "user prompt plus two stream messages")
}

func TestApp_StatisticsAndStaticData(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conn, err := h.client.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	ev := receiveType(t, conn, sysstats.EventType)
	assert.JSONEq(t, `{"cpuUsage":0.25,"ramUsage":0.5,"storageData":0.75}`, string(ev.Payload))

	var static sysstats.Static
	require.NoError(t, h.client.StaticData(ctx, &static))
	assert.Equal(t, sysstats.Static{TotalStorage: 500, CPUModel: "Fixed CPU", TotalMemoryGB: 32}, static)
}

func TestApp_ExternalProviderEditIsBroadcast(t *testing.T) {
	h := newHarness(t)
	conn, err := h.client.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.app.Bus.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	// A second store on the same file plays the part of another process
	cipher, err := credstore.NewSecretboxCipher(make([]byte, 32))
	require.NoError(t, err)
	other := credstore.New(h.app.Credentials.Path(), cipher, nil)

	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	_, err = other.Save(provider.Config{
		Name:      "Elsewhere",
		BaseURL:   "https://elsewhere.example.com",
		AuthToken: "tok",
	})
	require.NoError(t, err)

	ev := receiveType(t, conn, ipc.EventProviderList)
	assert.Contains(t, string(ev.Payload), "Elsewhere")
}

func TestApp_ShutdownIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, h.app.Shutdown(ctx))
	require.NoError(t, h.app.Shutdown(ctx))
	assert.Error(t, h.app.Start(ctx))
	assert.Error(t, h.client.Health(ctx))
}
