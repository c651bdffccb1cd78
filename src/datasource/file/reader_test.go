package file

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"

	"XQNotifier/src/storage"
)

func writeBytes(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signal.log")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestRead_UTF8(t *testing.T) {
	r, err := NewContentReader("big5", storage.NewNopLogger())
	require.NoError(t, err)

	path := writeBytes(t, []byte("\xEF\xBB\xBF2330 台積電 買進\r\n2317 鴻海 賣出\r\n\r\n"))
	text, err := r.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "2330 台積電 買進\n2317 鴻海 賣出", text)
}

func TestRead_Big5Fallback(t *testing.T) {
	r, err := NewContentReader("big5", storage.NewNopLogger())
	require.NoError(t, err)

	encoded, err := traditionalchinese.Big5.NewEncoder().Bytes([]byte("2330 台積電 買進訊號"))
	require.NoError(t, err)
	require.False(t, bytes.Equal(encoded, []byte("2330 台積電 買進訊號")))

	text, err := r.Read(writeBytes(t, encoded))
	require.NoError(t, err)
	assert.Equal(t, "2330 台積電 買進訊號", text)
}

func TestRead_GBKFallback(t *testing.T) {
	r, err := NewContentReader("gbk", storage.NewNopLogger())
	require.NoError(t, err)

	encoded, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("买入信号"))
	require.NoError(t, err)

	text, err := r.Read(writeBytes(t, encoded))
	require.NoError(t, err)
	assert.Equal(t, "买入信号", text)
}

func TestRead_UndecodableIsReadFailure(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewContentReader("big5", storage.NewWriterLogger(&buf))
	require.NoError(t, err)

	// 0xFF 在 Big5 中不是合法的首字节
	text, err := r.Read(writeBytes(t, []byte{0xFF, 0xFF, 0x41}))
	assert.ErrorIs(t, err, ErrReadFailure)
	assert.Empty(t, text)
	assert.Contains(t, buf.String(), "解码失败")
}

func TestRead_NoFallback(t *testing.T) {
	r, err := NewContentReader("", storage.NewNopLogger())
	require.NoError(t, err)

	_, err = r.Read(writeBytes(t, []byte{0xB6, 0x52}))
	assert.ErrorIs(t, err, ErrReadFailure)
}

func TestRead_MissingFile(t *testing.T) {
	r, err := NewContentReader("big5", storage.NewNopLogger())
	require.NoError(t, err)

	text, err := r.Read(filepath.Join(t.TempDir(), "gone.log"))
	assert.ErrorIs(t, err, ErrReadFailure)
	assert.Empty(t, text)
}

func TestNewContentReader_UnknownEncoding(t *testing.T) {
	_, err := NewContentReader("klingon", storage.NewNopLogger())
	assert.Error(t, err)
}

func TestEnsureDir(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "a", "b")
	require.NoError(t, EnsureDir(dir))
	require.NoError(t, EnsureDir(dir))
	assert.DirExists(t, dir)

	file := filepath.Join(base, "f")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.Error(t, EnsureDir(file))
}

func TestWriteTestSignal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local", "xq_trigger.txt")
	now := time.Date(2025, 6, 2, 13, 5, 9, 0, time.Local)

	msg, err := WriteTestSignal(path, now)
	require.NoError(t, err)
	assert.Equal(t, "Test message - 13:05:09", msg)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, msg, string(data))

	// 再次写入时覆盖原内容
	_, err = WriteTestSignal(path, now.Add(time.Second))
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Test message - 13:05:10", string(data))
}
