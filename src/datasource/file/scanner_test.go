package file

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"XQNotifier/src/storage"
)

func touch(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func names(cands []Candidate) []string {
	var out []string
	for _, c := range cands {
		out = append(out, c.Name)
	}
	sort.Strings(out)
	return out
}

func TestScanner_MatchesPatternsAndTrigger(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.log", "x")
	touch(t, dir, "B.LOG", "x")
	touch(t, dir, "notes.txt", "x")
	touch(t, dir, "xq_trigger.txt", "x")
	touch(t, dir, ".xq_monitor_state.json", "{}")
	touch(t, dir, ".xq_monitor_state.json.123.tmp", "{}")
	touch(t, dir, ".hidden.log", "x")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.log"), 0755))

	s, err := NewScanner(dir, []string{"*.log"}, "xq_trigger.txt", ".xq_monitor_state.json", storage.NewNopLogger())
	require.NoError(t, err)

	got := s.Scan()
	assert.Equal(t, []string{"B.LOG", "a.log", "xq_trigger.txt"}, names(got))

	for _, c := range got {
		assert.True(t, filepath.IsAbs(c.Key))
		assert.Equal(t, filepath.Join(s.dir, c.Name), c.Key)
		assert.False(t, c.ModTime.IsZero())
	}
}

func TestScanner_KeyIsStableAcrossRelativeDirs(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.log", "x")

	s1, err := NewScanner(dir, []string{"*.log"}, "", "", storage.NewNopLogger())
	require.NoError(t, err)
	s2, err := NewScanner(dir+string(filepath.Separator)+".", []string{"*.log"}, "", "", storage.NewNopLogger())
	require.NoError(t, err)

	assert.Equal(t, s1.Scan()[0].Key, s2.Scan()[0].Key)
}

func TestScanner_MissingDirectory(t *testing.T) {
	var buf bytes.Buffer
	dir := filepath.Join(t.TempDir(), "later")

	s, err := NewScanner(dir, []string{"*.log"}, "", "", storage.NewWriterLogger(&buf))
	require.NoError(t, err)

	assert.Empty(t, s.Scan())
	assert.Empty(t, s.Scan())
	assert.Equal(t, 1, strings.Count(buf.String(), "不可访问"), "同一次缺失只记录一次")

	require.NoError(t, os.Mkdir(dir, 0755))
	touch(t, dir, "a.log", "signal1")

	got := s.Scan()
	require.Len(t, got, 1)
	assert.Equal(t, "a.log", got[0].Name)
	assert.Contains(t, buf.String(), "已恢复")
}

func TestNewScanner_BadPattern(t *testing.T) {
	_, err := NewScanner(t.TempDir(), []string{"[abc"}, "", "", storage.NewNopLogger())
	assert.Error(t, err)
}

func TestScanner_Matches(t *testing.T) {
	s, err := NewScanner(t.TempDir(), []string{"*.log", "signal_*.txt"}, ".trigger", ".state.json", storage.NewNopLogger())
	require.NoError(t, err)

	tests := []struct {
		name string
		want bool
	}{
		{"trade.log", true},
		{"Trade.Log", true},
		{"signal_2025.txt", true},
		{"other.txt", false},
		{".trigger", true}, // 触发文件即使以点开头也要监控
		{".state.json", false},
		{".state.json.99.tmp", false},
		{".x.log", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Matches(tt.name), tt.name)
	}
}
