package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/poem-crawler/internal/config"
	"github.com/JakeFAU/poem-crawler/internal/crawler"
)

// MockApp is a mock implementation of the crawlApp interface.
type MockApp struct {
	mock.Mock
}

func (m *MockApp) Run(ctx context.Context) (crawler.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).(crawler.Result), args.Error(1)
}

func (m *MockApp) OutputLocation() string {
	return m.Called().String(0)
}

func (m *MockApp) LogPath() string {
	return m.Called().String(0)
}

func (m *MockApp) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// writeConfig points the progress log into a temp dir and quiets logging.
func writeConfig(t *testing.T, logBody string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "crawl_poems_log.txt")
	if logBody != "" {
		require.NoError(t, os.WriteFile(logPath, []byte(logBody), 0o600))
	}
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := "progress_log:\n  path: " + logPath + "\nlogging:\n  development: false\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))
	return cfgPath, logPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func swapApp(t *testing.T, fake *MockApp, buildErr error) *config.Config {
	t.Helper()
	var seen config.Config
	orig := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (crawlApp, error) {
		seen = cfg
		if buildErr != nil {
			return nil, buildErr
		}
		return fake, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &seen
}

func TestCrawlPrintsSummary(t *testing.T) {
	cfgPath, logPath := writeConfig(t, "")
	fake := new(MockApp)
	fake.On("Run", mock.Anything).Return(crawler.Result{Pages: 2, Saved: 5, Empty: 1}, nil)
	fake.On("OutputLocation").Return("su-shi-poems")
	fake.On("LogPath").Return("log/crawl_poems_log.txt")
	fake.On("Close", mock.Anything).Return(nil)
	seen := swapApp(t, fake, nil)

	out, err := execute(t, "crawl", "--config", cfgPath)
	require.NoError(t, err)
	fake.AssertExpectations(t)
	require.Equal(t, logPath, seen.ProgressLog.Path)
	require.Contains(t, out, "Crawl complete: 5 new poems saved across 2 pages.")
	require.Contains(t, out, "Poems without content: 1")
	require.Contains(t, out, "Output: su-shi-poems")
	require.Contains(t, out, "Progress log: log/crawl_poems_log.txt")
}

func TestCrawlReturnsRunError(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	fake := new(MockApp)
	fake.On("Run", mock.Anything).Return(crawler.Result{Saved: 1}, crawler.ErrFetch)
	fake.On("Close", mock.Anything).Return(nil)
	swapApp(t, fake, nil)

	_, err := execute(t, "crawl", "--config", cfgPath)
	require.ErrorIs(t, err, crawler.ErrFetch)
	fake.AssertExpectations(t)
	fake.AssertNotCalled(t, "OutputLocation")
}

func TestCrawlReturnsBuildError(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	swapApp(t, nil, errors.New("no bucket"))

	_, err := execute(t, "crawl", "--config", cfgPath)
	require.ErrorContains(t, err, "initialize crawler: no bucket")
}

func TestCrawlRejectsBadConfig(t *testing.T) {
	_, err := execute(t, "crawl", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "load config")
}

func TestResumePoint(t *testing.T) {
	t.Parallel()

	cfgPath, _ := writeConfig(t, "###赤壁赋###\n###水调歌头###\n")
	out, err := execute(t, "resume-point", "--config", cfgPath)
	require.NoError(t, err)
	require.Equal(t, "水调歌头\n", out)
}

func TestResumePointFreshStart(t *testing.T) {
	t.Parallel()

	cfgPath, _ := writeConfig(t, "")
	out, err := execute(t, "resume-point", "--config", cfgPath)
	require.NoError(t, err)
	require.Contains(t, out, "starts fresh")
}

func TestLogListsMarkers(t *testing.T) {
	t.Parallel()

	cfgPath, logPath := writeConfig(t, "###赤壁赋###\n###水调歌头###\n")
	out, err := execute(t, "log", "--config", cfgPath)
	require.NoError(t, err)
	require.Contains(t, out, "[1] 赤壁赋\n[2] 水调歌头\n")
	require.Contains(t, out, "2 poems recorded in "+logPath)
}

func TestLogLevelFlagValidated(t *testing.T) {
	t.Parallel()

	cfgPath, _ := writeConfig(t, "")
	_, err := execute(t, "log", "--config", cfgPath, "--log-level", "loud")
	require.ErrorContains(t, err, "init logger")
}
