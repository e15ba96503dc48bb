package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalworks/nucleation/api"
	"github.com/signalworks/nucleation/internal/config"
	"github.com/signalworks/nucleation/internal/store"
)

type stubStore struct {
	closeCalled int
	closeErr    error
}

func (s *stubStore) SaveExperiment(context.Context, *store.ExperimentRecord) error { return nil }
func (s *stubStore) SaveDetectorMetrics(context.Context, *store.MetricsRecord) error {
	return nil
}
func (s *stubStore) GetExperiment(context.Context, string) (*store.ExperimentRecord, error) {
	return nil, nil
}
func (s *stubStore) ListExperiments(context.Context, store.ExperimentFilter) ([]*store.ExperimentRecord, error) {
	return nil, nil
}
func (s *stubStore) GetDetectorMetrics(context.Context, string) ([]*store.MetricsRecord, error) {
	return nil, nil
}
func (s *stubStore) GetDetectorHistory(context.Context, string, int) ([]*store.MetricsRecord, error) {
	return nil, nil
}
func (s *stubStore) Close() error {
	s.closeCalled++
	return s.closeErr
}

func saveServerGlobals(t *testing.T) func() {
	t.Helper()

	oldOsExit := osExit
	oldStderrWriter := stderrWriter
	oldLoadConfig := loadConfig
	oldOpenStore := openStore
	oldNewServer := newServer
	oldRunServer := runServer

	return func() {
		osExit = oldOsExit
		stderrWriter = oldStderrWriter
		loadConfig = oldLoadConfig
		openStore = oldOpenStore
		newServer = oldNewServer
		runServer = oldRunServer
	}
}

func TestRunMain_Success(t *testing.T) {
	restore := saveServerGlobals(t)
	t.Cleanup(restore)
	t.Setenv("NUCLEATION_DISABLE_AUTH", "true")

	stderrBuf := &bytes.Buffer{}
	stderrWriter = stderrBuf

	cfg := &config.Config{
		Storage: config.StorageConfig{Type: "memory"},
		Server:  config.ServerConfig{Addr: ":7070"},
	}
	var gotConfigPath string
	loadConfig = func(path string) (*config.Config, error) {
		gotConfigPath = path
		return cfg, nil
	}

	st := &stubStore{}
	openStore = func(c *config.Config) (store.Store, error) {
		if c != cfg {
			t.Fatalf("openStore: cfg mismatch")
		}
		return st, nil
	}

	var gotAddr string
	runCalled := 0
	runServer = func(srv *api.Server, addr string) error {
		if srv == nil {
			t.Fatalf("runServer: nil server")
		}
		gotAddr = addr
		runCalled++
		return nil
	}

	code := runMain(nil)
	if code != 0 {
		t.Fatalf("runMain: got %d, stderr %q", code, stderrBuf.String())
	}
	if gotConfigPath != config.DefaultPath {
		t.Fatalf("config path: got %q", gotConfigPath)
	}
	if runCalled != 1 || gotAddr != ":7070" {
		t.Fatalf("runServer: called=%d addr=%q", runCalled, gotAddr)
	}
	if st.closeCalled != 1 {
		t.Fatalf("store close: got %d calls", st.closeCalled)
	}
}

func TestRunMain_AddrFlagOverridesConfig(t *testing.T) {
	restore := saveServerGlobals(t)
	t.Cleanup(restore)
	t.Setenv("NUCLEATION_DISABLE_AUTH", "true")

	stderrWriter = &bytes.Buffer{}
	loadConfig = func(string) (*config.Config, error) {
		return &config.Config{
			Storage: config.StorageConfig{Type: "memory"},
			Server:  config.ServerConfig{Addr: ":7070"},
		}, nil
	}
	openStore = func(*config.Config) (store.Store, error) { return &stubStore{}, nil }

	var gotAddr string
	runServer = func(_ *api.Server, addr string) error {
		gotAddr = addr
		return nil
	}

	if code := runMain([]string{"-addr", ":9999"}); code != 0 {
		t.Fatalf("runMain: got %d", code)
	}
	if gotAddr != ":9999" {
		t.Fatalf("addr: got %q want %q", gotAddr, ":9999")
	}
}

func TestRunMain_ConfigError(t *testing.T) {
	restore := saveServerGlobals(t)
	t.Cleanup(restore)

	stderrBuf := &bytes.Buffer{}
	stderrWriter = stderrBuf

	loadConfig = func(string) (*config.Config, error) {
		return nil, errors.New("config: boom")
	}

	if code := runMain(nil); code != 1 {
		t.Fatalf("runMain: got %d want 1", code)
	}
	if !strings.Contains(stderrBuf.String(), "config: boom") {
		t.Fatalf("stderr: got %q", stderrBuf.String())
	}
}

func TestRunMain_StoreError(t *testing.T) {
	restore := saveServerGlobals(t)
	t.Cleanup(restore)

	stderrBuf := &bytes.Buffer{}
	stderrWriter = stderrBuf

	loadConfig = func(string) (*config.Config, error) { return &config.Config{}, nil }
	openStore = func(*config.Config) (store.Store, error) {
		return nil, errors.New("store: boom")
	}

	if code := runMain(nil); code != 1 {
		t.Fatalf("runMain: got %d want 1", code)
	}
	if !strings.Contains(stderrBuf.String(), "store: boom") {
		t.Fatalf("stderr: got %q", stderrBuf.String())
	}
}

func TestRunMain_MissingAuthConfig(t *testing.T) {
	restore := saveServerGlobals(t)
	t.Cleanup(restore)
	t.Setenv("NUCLEATION_API_KEY", "")
	t.Setenv("NUCLEATION_DISABLE_AUTH", "")

	stderrBuf := &bytes.Buffer{}
	stderrWriter = stderrBuf

	loadConfig = func(string) (*config.Config, error) {
		return &config.Config{Storage: config.StorageConfig{Type: "memory"}}, nil
	}
	openStore = func(*config.Config) (store.Store, error) { return &stubStore{}, nil }

	if code := runMain(nil); code != 1 {
		t.Fatalf("runMain: got %d want 1", code)
	}
	if !strings.Contains(stderrBuf.String(), "auth") {
		t.Fatalf("stderr: got %q", stderrBuf.String())
	}
}

func TestRunMain_BadFlag(t *testing.T) {
	restore := saveServerGlobals(t)
	t.Cleanup(restore)

	stderrWriter = &bytes.Buffer{}
	if code := runMain([]string{"-definitely-not-a-flag"}); code != 2 {
		t.Fatalf("runMain: got %d want 2", code)
	}
}

func TestRunMain_RealConfigFile(t *testing.T) {
	restore := saveServerGlobals(t)
	t.Cleanup(restore)
	t.Setenv("NUCLEATION_DISABLE_AUTH", "true")
	t.Setenv("NUCLEATION_DB_PATH", "")
	t.Setenv("NUCLEATION_ADDR", "")

	stderrWriter = &bytes.Buffer{}

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("storage:\n  type: memory\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var gotAddr string
	runServer = func(_ *api.Server, addr string) error {
		gotAddr = addr
		return nil
	}

	if code := runMain([]string{"-config", cfgPath}); code != 0 {
		t.Fatalf("runMain: got %d", code)
	}
	if gotAddr != ":8080" {
		t.Fatalf("addr: got %q want default :8080", gotAddr)
	}
}
