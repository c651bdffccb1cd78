// scanner.go
package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"XQNotifier/src/storage"
)

// Candidate 一次扫描中发现的候选文件
type Candidate struct {
	Key     string    // 规范化后的绝对路径，作为 FileKey
	Name    string    // 文件名
	ModTime time.Time // 修改时间
}

// Scanner 轮询方式枚举监控目录中匹配规则的文件
type Scanner struct {
	dir         string
	patterns    []string // 小写后的 glob 规则，按文件名匹配
	triggerFile string   // 按原样匹配的触发文件名
	stateFile   string   // 状态文件名，扫描时跳过
	logger      *storage.Logger

	missing bool // 目录当前不可访问，用于避免每个周期重复打印
}

// NewScanner 创建扫描器。patterns 中任一规则非法时返回错误。
func NewScanner(dir string, patterns []string, triggerFile, stateFile string, logger *storage.Logger) (*Scanner, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("解析监控目录失败: %w", err)
	}

	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("无效的匹配规则 %q: %w", p, err)
		}
		lowered = append(lowered, strings.ToLower(p))
	}

	return &Scanner{
		dir:         filepath.Clean(abs),
		patterns:    lowered,
		triggerFile: triggerFile,
		stateFile:   stateFile,
		logger:      logger,
	}, nil
}

// Scan 返回本周期的候选文件，顺序不作保证。
// 目录不存在或不可读时返回空结果并记录日志，下个周期重试。
func (s *Scanner) Scan() []Candidate {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !s.missing {
			s.logger.Warning(fmt.Sprintf("监控目录不可访问，稍后重试: %v", err))
			s.missing = true
		}
		return nil
	}
	if s.missing {
		s.logger.Info("监控目录已恢复: " + s.dir)
		s.missing = false
	}

	var found []Candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !s.Matches(name) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// 文件在枚举和 stat 之间被删除
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		found = append(found, Candidate{
			Key:     filepath.Join(s.dir, name),
			Name:    name,
			ModTime: info.ModTime(),
		})
	}
	return found
}

// Matches 判断文件名是否需要监控
func (s *Scanner) Matches(name string) bool {
	if s.triggerFile != "" && name == s.triggerFile {
		return true
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	if s.stateFile != "" && storage.IsStateFile(name, s.stateFile) {
		return false
	}

	lower := strings.ToLower(name)
	for _, p := range s.patterns {
		if ok, _ := filepath.Match(p, lower); ok {
			return true
		}
	}
	return false
}
