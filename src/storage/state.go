package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const stateVersion = 1

// FileRecord 单个被监控文件的最后观测状态
type FileRecord struct {
	LastModified   time.Time `json:"last_modified"`
	LastContent    string    `json:"last_content"`
	Baseline       bool      `json:"baseline"`                  // 启动扫描时已存在的文件
	ContentUnknown bool      `json:"content_unknown,omitempty"` // 启动时读取失败，下次读取成功时直接作为基线
}

// MonitorState 文件路径(FileKey) -> 记录，整体作为持久化单元
type MonitorState map[string]*FileRecord

// stateDocument 磁盘上的状态文件格式，未知字段在读取时忽略
type stateDocument struct {
	Version int                   `json:"version"`
	SavedAt time.Time             `json:"saved_at"`
	Files   map[string]FileRecord `json:"files"`
}

// StateStore 负责 MonitorState 的读取与原子保存
type StateStore struct {
	path   string
	logger *Logger
}

// NewStateStore 创建状态存储，path 为状态文件完整路径
func NewStateStore(path string, logger *Logger) *StateStore {
	return &StateStore{path: path, logger: logger}
}

// Path 返回状态文件路径
func (s *StateStore) Path() string { return s.path }

// Load 读取状态文件。文件不存在或已损坏时返回空状态，不返回错误。
func (s *StateStore) Load() MonitorState {
	state := make(MonitorState)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warning(fmt.Sprintf("读取状态文件失败，按空状态处理: %v", err))
		}
		return state
	}

	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warning(fmt.Sprintf("状态文件 %s 已损坏，按空状态处理: %v", s.path, err))
		return state
	}

	for key, rec := range doc.Files {
		rec := rec
		state[key] = &rec
	}
	s.logger.Info(fmt.Sprintf("已载入状态文件: %d 个文件记录", len(state)))
	return state
}

// Save 先写入同目录临时文件并 fsync，再重命名覆盖正式文件。
// 任何时刻读到的状态文件要么是旧的完整版本，要么是新的完整版本。
func (s *StateStore) Save(state MonitorState) error {
	doc := stateDocument{
		Version: stateVersion,
		SavedAt: time.Now(),
		Files:   make(map[string]FileRecord, len(state)),
	}
	for key, rec := range state {
		if rec != nil {
			doc.Files[key] = *rec
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化状态失败: %w", err)
	}

	tmp, err := s.writeTemp(data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("替换状态文件失败: %w", err)
	}
	return nil
}

// writeTemp 写入临时文件并返回其路径
func (s *StateStore) writeTemp(data []byte) (string, error) {
	dir := filepath.Dir(s.path)
	f, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("创建临时状态文件失败: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("写入临时状态文件失败: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("同步临时状态文件失败: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("关闭临时状态文件失败: %w", err)
	}
	return tmp, nil
}

// Cleanup 清理上次异常退出遗留的临时文件。
// 只能由持有状态的监控进程在开始保存之前调用，只读的命令不要调用。
func (s *StateStore) Cleanup() {
	matches, err := filepath.Glob(s.path + ".*.tmp")
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			s.logger.Debug("已清理遗留的临时状态文件: " + m)
		}
	}
}

// IsStateFile 判断文件名是否为状态文件或其临时文件
func IsStateFile(name, stateFile string) bool {
	if name == stateFile {
		return true
	}
	matched, _ := filepath.Match(stateFile+".*.tmp", name)
	return matched
}
