package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"XQNotifier/src/config"
	"XQNotifier/src/datapush"
	"XQNotifier/src/processor"
	"XQNotifier/src/storage"
	"XQNotifier/src/utils"
)

// writeConfig 在临时目录写入配置，返回配置目录和监控目录
func writeConfig(t *testing.T, fields map[string]interface{}) (string, string) {
	t.Helper()
	base := t.TempDir()
	dir := filepath.Join(base, "config")
	watch := filepath.Join(base, "local")
	require.NoError(t, os.MkdirAll(dir, 0755))

	doc := map[string]interface{}{
		"notifier":        "dryrun",
		"watch_directory": watch,
	}
	for k, v := range fields {
		doc[k] = v
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), data, 0600))
	return dir, watch
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		_ = testCmd.Flags().Set("trigger", "false")
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}

func TestBuildNotifier(t *testing.T) {
	logger := storage.NewNopLogger()
	cases := map[string]string{
		config.NotifierTelegram: "telegram",
		config.NotifierDingTalk: "dingtalk",
		config.NotifierEmail:    "email",
		config.NotifierDryRun:   "dryrun",
	}
	for kind, name := range cases {
		cfg := config.Default()
		cfg.Notifier = kind
		n, err := buildNotifier(cfg, logger)
		require.NoError(t, err, kind)
		assert.Equal(t, name, n.Name())
	}

	cfg := config.Default()
	cfg.Notifier = "pigeon"
	_, err := buildNotifier(cfg, logger)
	assert.Error(t, err)
}

func TestNewEngineFactory(t *testing.T) {
	cfg := config.Default()
	cfg.WatchDirectory = t.TempDir()
	logger := storage.NewNopLogger()
	n := datapush.NewDryRunNotifier(logger)

	factory, err := newEngineFactory(cfg, n, logger)
	require.NoError(t, err)
	assert.NotNil(t, factory(processor.Hooks{}))

	cfg.FallbackEncoding = "klingon"
	_, err = newEngineFactory(cfg, n, logger)
	assert.Error(t, err)

	cfg.FallbackEncoding = "big5"
	cfg.Patterns = []string{"[bad"}
	_, err = newEngineFactory(cfg, n, logger)
	assert.Error(t, err)
}

func TestStartCron(t *testing.T) {
	cfg := config.Default()
	logger := storage.NewNopLogger()
	n := datapush.NewDryRunNotifier(logger)
	sup := processor.NewSupervisor(nil, logger)

	c, err := startCron(cfg, n, sup, logger)
	require.NoError(t, err)
	assert.Nil(t, c)

	cfg.HeartbeatSpec = "@every 1h"
	cfg.Log.RotateSpec = "0 0 0 * * *"
	c, err = startCron(cfg, n, sup, logger)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Len(t, c.Entries(), 2)
	c.Stop()

	cfg.HeartbeatSpec = "every now and then"
	_, err = startCron(cfg, n, sup, logger)
	assert.Error(t, err)
}

func TestHeartbeatMessage(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.Local)
	msg := heartbeatMessage(processor.Status{Running: true, TrackedFiles: 4, Sent: 2, Failed: 1}, now)
	assert.Equal(t, "💓 XQ 通知服務運行中 [2025-06-02 09:00:00]\n追蹤檔案: 4\n已發送: 2 失敗: 1", msg)

	msg = heartbeatMessage(processor.Status{}, now)
	assert.Contains(t, msg, "已停止")
}

func TestInitCmd(t *testing.T) {
	base := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(base))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	dir := filepath.Join(base, "config")

	out, err := execute(t, "init", "--config-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "已生成配置文件")
	assert.FileExists(t, filepath.Join(dir, "config.json"))
	assert.DirExists(t, filepath.Join(base, "local"))

	// 生成的示例配置带占位符，不能直接运行
	cfg, err := config.LoadConfig(dir, "config.json")
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())

	_, err = execute(t, "init", "--config-dir", dir)
	assert.Error(t, err, "已存在的配置不应被覆盖")
}

func TestTestCmd_DryRun(t *testing.T) {
	dir, _ := writeConfig(t, nil)

	out, err := execute(t, "test", "--config-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "[dryrun]")
	assert.Contains(t, out, "Test message - ")
	assert.Contains(t, out, "测试消息已通过 dryrun 发送")
}

func TestTestCmd_Trigger(t *testing.T) {
	dir, watch := writeConfig(t, nil)

	out, err := execute(t, "test", "--trigger", "--config-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "已写入")

	data, err := os.ReadFile(filepath.Join(watch, "xq_trigger.txt"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "Test message - "))
}

func TestTestCmd_InvalidConfig(t *testing.T) {
	dir, _ := writeConfig(t, map[string]interface{}{"notifier": "telegram"})

	_, err := execute(t, "test", "--config-dir", dir)
	assert.Error(t, err)
}

func TestChatIDCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot42:abc/getUpdates", r.URL.Path)
		io.WriteString(w, `{"ok":true,"result":[
			{"update_id":1,"message":{"chat":{"id":111,"type":"private","username":"old"}}},
			{"update_id":2,"message":{"chat":{"id":-1002003004,"type":"supergroup","title":"XQ 信號群"}}}
		]}`)
	}))
	defer srv.Close()

	dir, _ := writeConfig(t, map[string]interface{}{
		"telegram_bot_token": "42:abc",
		"telegram_api_base":  srv.URL,
	})

	out, err := execute(t, "chat-id", "--config-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Chat ID: -1002003004")
	assert.Contains(t, out, "XQ 信號群 (supergroup)")
}

func TestChatIDCmd_NoToken(t *testing.T) {
	dir, _ := writeConfig(t, map[string]interface{}{"telegram_bot_token": config.PlaceholderBotToken})

	_, err := execute(t, "chat-id", "--config-dir", dir)
	assert.Error(t, err)
}

func TestStateAndExportCmd(t *testing.T) {
	dir, watch := writeConfig(t, nil)

	out, err := execute(t, "state", "--config-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "没有记录")

	require.NoError(t, os.MkdirAll(watch, 0755))
	ts := time.Date(2025, 6, 2, 9, 30, 0, 0, time.Local)
	store := storage.NewStateStore(filepath.Join(watch, ".xq_monitor_state.json"), storage.NewNopLogger())
	require.NoError(t, store.Save(storage.MonitorState{
		filepath.Join(watch, "a.log"): {LastModified: ts, LastContent: "signal1", Baseline: true},
		filepath.Join(watch, "b.log"): {LastModified: ts, LastContent: "signal1\nsignal2"},
	}))

	out, err = execute(t, "state", "--config-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "2 个文件")
	assert.Contains(t, out, "a.log")
	assert.Contains(t, out, "[基线]")

	report := filepath.Join(t.TempDir(), "state.xlsx")
	out, err = execute(t, "export", report, "--config-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "已导出 2 条记录")

	f, err := excelize.OpenFile(report)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(utils.StateSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestExportCmd_RequiresPath(t *testing.T) {
	dir, _ := writeConfig(t, nil)

	_, err := execute(t, "export", "--config-dir", dir)
	assert.Error(t, err)
}
