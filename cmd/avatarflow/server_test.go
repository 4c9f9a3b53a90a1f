package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/avatarflow/config"
)

const testAPIKey = "test-secret-key"

// newUpstream 模拟 OpenAI 与渲染 sidecar 的健康端点
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, upstream string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.HTTPPort = 0
	cfg.Server.MetricsPort = 0
	cfg.Server.RateLimitRPS = 0
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Server.APIKeys = []string{testAPIKey}
	cfg.Server.AllowQueryAPIKey = true
	cfg.OpenAI.APIKey = "sk-test"
	cfg.OpenAI.BaseURL = upstream
	cfg.OpenAI.Timeout = 5 * time.Second
	cfg.Render.Endpoint = upstream
	cfg.Render.OutputDir = t.TempDir()
	cfg.Pipeline.TempDir = t.TempDir()
	cfg.Log.Level = "info"
	return cfg
}

func startServer(t *testing.T, cfg *config.Config) (*Server, string) {
	t.Helper()
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	s := NewServer(cfg, nil, level, zap.NewNop(), nil)
	require.NoError(t, s.Start(context.Background()))
	return s, s.httpManager.BoundAddr()
}

func getJSON(t *testing.T, url string, header http.Header, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_HealthReportsServices(t *testing.T) {
	upstream := newUpstream(t)
	s, addr := startServer(t, testConfig(t, upstream.URL))
	defer s.Shutdown()

	assert.Eventually(t, func() bool {
		var status struct {
			Status   string          `json:"status"`
			Services map[string]bool `json:"services"`
		}
		code := getJSON(t, "http://"+addr+"/health", nil, &status)
		return code == http.StatusOK &&
			status.Status == "healthy" &&
			status.Services["stt"] && status.Services["llm"] &&
			status.Services["tts"] && status.Services["avatar"]
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, http.StatusOK, getJSON(t, "http://"+addr+"/ready", nil, nil))
}

func TestServer_RenderEngineUnavailable(t *testing.T) {
	upstream := newUpstream(t)
	cfg := testConfig(t, upstream.URL)
	cfg.Render.Endpoint = "http://127.0.0.1:1"
	s, addr := startServer(t, cfg)
	defer s.Shutdown()

	var status struct {
		Services map[string]bool `json:"services"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, "http://"+addr+"/health", nil, &status))
	assert.False(t, status.Services["avatar"])
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, "http://"+addr+"/ready", nil, nil))
}

func TestServer_StatsRequiresAPIKey(t *testing.T) {
	upstream := newUpstream(t)
	s, addr := startServer(t, testConfig(t, upstream.URL))
	defer s.Shutdown()

	assert.Equal(t, http.StatusUnauthorized, getJSON(t, "http://"+addr+"/api/v1/stats", nil, nil))

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Sessions int `json:"sessions"`
		} `json:"data"`
	}
	code := getJSON(t, "http://"+addr+"/api/v1/stats", http.Header{"X-Api-Key": {testAPIKey}}, &resp)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, 0, resp.Data.Sessions)
}

func TestServer_VideoSkipsAuth(t *testing.T) {
	upstream := newUpstream(t)
	cfg := testConfig(t, upstream.URL)
	s, addr := startServer(t, cfg)
	defer s.Shutdown()

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Render.OutputDir, "avatar_test.mp4"), []byte("mp4"), 0o644))

	resp, err := http.Get("http://" + addr + "/video/avatar_test.mp4")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
}

func TestServer_WebSocketAuth(t *testing.T) {
	upstream := newUpstream(t)
	s, addr := startServer(t, testConfig(t, upstream.URL))
	defer s.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, "ws://"+addr+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/ws?api_key="+testAPIKey, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var frame map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &frame))
	assert.Equal(t, "connection", frame["type"])
	assert.True(t, strings.HasPrefix(frame["session_id"].(string), "session_"))

	assert.Eventually(t, func() bool { return s.registry.Count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	upstream := newUpstream(t)
	s, addr := startServer(t, testConfig(t, upstream.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/ws?api_key="+testAPIKey, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var frame map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &frame))

	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("shutdown did not complete")
	}
	assert.Equal(t, 0, s.registry.Count())
	assert.False(t, s.httpManager.IsRunning())
}

func TestServer_ApplyReload(t *testing.T) {
	upstream := newUpstream(t)
	cfg := testConfig(t, upstream.URL)
	s, _ := startServer(t, cfg)
	defer s.Shutdown()

	updated := *cfg
	updated.Log.Level = "debug"
	updated.Pipeline.SystemPrompt = "You are a pirate."

	s.applyReload(cfg, &updated)

	assert.Equal(t, zapcore.DebugLevel, s.level.Level())
	assert.Equal(t, "You are a pirate.", s.orchestrator.SystemPrompt())
}

func TestServer_HotReloadFromFile(t *testing.T) {
	upstream := newUpstream(t)
	cfg := testConfig(t, upstream.URL)

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig := func(prompt string) {
		body := "openai:\n  api_key: sk-test\npipeline:\n  system_prompt: \"" + prompt + "\"\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	writeConfig("first")

	loader := config.NewLoader().WithConfigPath(path)
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	s := NewServer(cfg, loader, level, zap.NewNop(), nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Shutdown()
	require.NotNil(t, s.reloader)

	writeConfig("second")
	require.NoError(t, s.reloader.Reload())
	assert.Equal(t, "second", s.orchestrator.SystemPrompt())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}
