package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*StateStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".xq_monitor_state.json")
	return NewStateStore(path, NewNopLogger()), path
}

func sampleState() MonitorState {
	ts := time.Date(2025, 3, 4, 9, 30, 0, 0, time.UTC)
	return MonitorState{
		"/data/local/a.log": {LastModified: ts, LastContent: "signal1\nsignal2", Baseline: false},
		"/data/local/b.log": {LastModified: ts.Add(time.Minute), LastContent: "舊資料", Baseline: true},
	}
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	store, _ := newTestStore(t)
	state := store.Load()
	assert.NotNil(t, state)
	assert.Empty(t, state)
}

func TestLoad_CorruptFileIsEmpty(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), ".state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"files":{"a":`), 0644))

	store := NewStateStore(path, NewWriterLogger(&buf))
	state := store.Load()
	assert.Empty(t, state)
	assert.Contains(t, buf.String(), "已损坏")
}

func TestSaveThenLoad(t *testing.T) {
	store, path := newTestStore(t)
	want := sampleState()

	require.NoError(t, store.Save(want))

	got := store.Load()
	require.Len(t, got, 2)
	assert.True(t, want["/data/local/a.log"].LastModified.Equal(got["/data/local/a.log"].LastModified))
	assert.Equal(t, "signal1\nsignal2", got["/data/local/a.log"].LastContent)
	assert.True(t, got["/data/local/b.log"].Baseline)
	assert.Equal(t, "舊資料", got["/data/local/b.log"].LastContent)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "保存后不应残留临时文件")
}

func TestLoad_IgnoresUnknownFields(t *testing.T) {
	store, path := newTestStore(t)
	doc := `{
  "version": 7,
  "future_flag": true,
  "files": {
    "/x/a.log": {"last_modified": "2025-01-02T03:04:05Z", "last_content": "A", "baseline": true, "checksum": "abc"}
  }
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	state := store.Load()
	require.Contains(t, state, "/x/a.log")
	assert.Equal(t, "A", state["/x/a.log"].LastContent)
	assert.True(t, state["/x/a.log"].Baseline)
}

// 模拟在临时文件写完、重命名之前进程被终止
func TestCrashBetweenTempWriteAndRename(t *testing.T) {
	store, path := newTestStore(t)

	old := MonitorState{"/x/a.log": {LastContent: "old"}}
	require.NoError(t, store.Save(old))

	tmp, err := store.writeTemp([]byte(`{"version":1,"files":{"/x/a.log":{"last_content":"new"}}}`))
	require.NoError(t, err)
	require.FileExists(t, tmp)

	// 截断的临时文件同样不应影响正式文件
	partial, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	require.NoError(t, err)
	_, _ = partial.WriteString(`{"version":1,"fil`)
	partial.Close()

	restarted := NewStateStore(path, NewNopLogger())
	recovered := restarted.Load()
	require.Contains(t, recovered, "/x/a.log")
	assert.Equal(t, "old", recovered["/x/a.log"].LastContent)

	restarted.Cleanup()
	assert.NoFileExists(t, tmp, "遗留的临时文件应在启动时清理")
	assert.NoFileExists(t, partial.Name())
}

// 另一个进程只读载入时，正在保存的临时文件不能被删除
func TestLoad_KeepsInFlightTempFile(t *testing.T) {
	store, path := newTestStore(t)
	require.NoError(t, store.Save(MonitorState{"/x/a.log": {LastContent: "old"}}))

	tmp, err := store.writeTemp([]byte(`{"version":1,"files":{"/x/a.log":{"last_content":"new"}}}`))
	require.NoError(t, err)

	reader := NewStateStore(path, NewNopLogger())
	assert.Equal(t, "old", reader.Load()["/x/a.log"].LastContent)
	require.FileExists(t, tmp)

	require.NoError(t, os.Rename(tmp, path))
	assert.Equal(t, "new", reader.Load()["/x/a.log"].LastContent)
}

func TestContentUnknownRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Save(MonitorState{"/x/a.log": {Baseline: true, ContentUnknown: true}}))

	got := store.Load()["/x/a.log"]
	require.NotNil(t, got)
	assert.True(t, got.ContentUnknown)
	assert.True(t, got.Baseline)
}

func TestSave_ReplacesPreviousState(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Save(sampleState()))
	require.NoError(t, store.Save(MonitorState{"/only.log": {LastContent: "z"}}))

	got := store.Load()
	assert.Len(t, got, 1)
	assert.Contains(t, got, "/only.log")
}

func TestSave_MissingDirectoryFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone", ".state.json")
	store := NewStateStore(path, NewNopLogger())
	assert.Error(t, store.Save(sampleState()))
}

func TestIsStateFile(t *testing.T) {
	assert.True(t, IsStateFile(".xq_monitor_state.json", ".xq_monitor_state.json"))
	assert.True(t, IsStateFile(".xq_monitor_state.json.123456.tmp", ".xq_monitor_state.json"))
	assert.False(t, IsStateFile("a.log", ".xq_monitor_state.json"))
}
