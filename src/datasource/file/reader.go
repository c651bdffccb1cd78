// reader.go
package file

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"XQNotifier/src/storage"
)

// ErrReadFailure 文件无法读取或无法解码
var ErrReadFailure = errors.New("读取文件失败")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ContentReader 读取文本文件，UTF-8 解码失败时使用备用编码
type ContentReader struct {
	fallbackName string
	fallback     encoding.Encoding
	logger       *storage.Logger
}

// NewContentReader 创建读取器。fallbackName 使用 WHATWG 编码名，
// 如 big5、gbk、gb18030、shift_jis；为空表示不做回退。
func NewContentReader(fallbackName string, logger *storage.Logger) (*ContentReader, error) {
	r := &ContentReader{fallbackName: fallbackName, logger: logger}
	if fallbackName == "" {
		return r, nil
	}

	enc, err := htmlindex.Get(fallbackName)
	if err != nil {
		return nil, fmt.Errorf("不支持的备用编码 %q: %w", fallbackName, err)
	}
	r.fallback = enc
	return r, nil
}

// Read 返回文件的全部文本，去掉首尾空白并统一为 \n 换行。
// 读取或解码失败时返回空字符串和 ErrReadFailure，同时记录警告。
func (r *ContentReader) Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		r.logger.Warning(fmt.Sprintf("读取文件 %s 失败: %v", path, err))
		return "", fmt.Errorf("%w: %v", ErrReadFailure, err)
	}

	text, err := r.decode(data)
	if err != nil {
		r.logger.Warning(fmt.Sprintf("文件 %s 解码失败: %v", path, err))
		return "", fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	return normalize(text), nil
}

func (r *ContentReader) decode(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}
	if r.fallback == nil {
		return "", errors.New("内容不是有效的 UTF-8")
	}

	decoded, _, err := transform.Bytes(r.fallback.NewDecoder(), data)
	if err != nil {
		return "", fmt.Errorf("按 %s 解码失败: %w", r.fallbackName, err)
	}
	// x/text 的解码器遇到非法字节时输出替换字符而不是报错
	if bytes.ContainsRune(decoded, utf8.RuneError) {
		return "", fmt.Errorf("内容既不是 UTF-8 也不是 %s", r.fallbackName)
	}
	return string(decoded), nil
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}

// EnsureDir 确保目录存在
func EnsureDir(dirPath string) error {
	if info, err := os.Stat(dirPath); err == nil {
		if info.IsDir() {
			return nil
		}
		return fmt.Errorf("%s exists but is not a directory", dirPath)
	}
	return os.MkdirAll(dirPath, 0755)
}

// WriteTestSignal 覆盖写入触发文件，内容为带时间的测试消息，返回写入的内容
func WriteTestSignal(path string, now time.Time) (string, error) {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return "", err
	}
	msg := fmt.Sprintf("Test message - %s", now.Format("15:04:05"))
	if err := os.WriteFile(path, []byte(msg), 0644); err != nil {
		return "", fmt.Errorf("写入触发文件失败: %w", err)
	}
	return msg, nil
}
