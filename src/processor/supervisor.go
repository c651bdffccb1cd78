package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"XQNotifier/src/storage"
)

var (
	ErrAlreadyRunning = errors.New("监控已在运行")
	ErrNotRunning     = errors.New("监控未运行")
)

// EngineFactory 每次启动时创建新的引擎，引擎会重新载入持久化状态
type EngineFactory func(hooks Hooks) *Engine

// EventSummary 最近一次通知的摘要
type EventSummary struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	Kind      string    `json:"kind"`
	Fragment  string    `json:"fragment"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Status 监控运行状态
type Status struct {
	Running      bool          `json:"running"`
	StartedAt    time.Time     `json:"started_at,omitempty"`
	Cycles       int           `json:"cycles"`
	TrackedFiles int           `json:"tracked_files"`
	Sent         int           `json:"sent"`
	Failed       int           `json:"failed"`
	LastEvent    *EventSummary `json:"last_event,omitempty"`
}

// Supervisor 管理引擎协程的启动与停止，供控制面板和命令行使用
type Supervisor struct {
	factory EngineFactory
	logger  *storage.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	status Status
}

// NewSupervisor 创建监控管理器
func NewSupervisor(factory EngineFactory, logger *storage.Logger) *Supervisor {
	return &Supervisor{factory: factory, logger: logger}
}

// Start 在新协程中运行引擎，parent 取消时引擎同样停止
func (s *Supervisor) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Running {
		return ErrAlreadyRunning
	}

	engine := s.factory(Hooks{OnEvent: s.recordEvent, OnCycle: s.recordCycle})
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	s.cancel = cancel
	s.done = done
	s.status = Status{Running: true, StartedAt: time.Now()}

	go func() {
		defer close(done)
		if err := engine.Run(ctx); err != nil {
			s.logger.Error(fmt.Sprintf("监控异常退出: %v", err))
		}
		s.mu.Lock()
		s.status.Running = false
		s.mu.Unlock()
	}()

	s.logger.Info("监控已启动")
	return nil
}

// Stop 发出停止信号并等待当前周期结束、状态保存完成
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.status.Running || s.cancel == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("等待监控停止超时: %w", ctx.Err())
	}
}

// Wait 等待引擎协程退出，未启动时立即返回
func (s *Supervisor) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running 是否正在监控
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Running
}

// Status 返回状态副本
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.status
	if st.LastEvent != nil {
		ev := *st.LastEvent
		st.LastEvent = &ev
	}
	return st
}

func (s *Supervisor) recordEvent(ev NotificationEvent, err error) {
	summary := &EventSummary{
		ID:        ev.ID,
		FileName:  ev.FileName,
		Kind:      ev.Kind.String(),
		Fragment:  ev.Fragment,
		Timestamp: ev.Timestamp,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		summary.Error = err.Error()
		s.status.Failed++
	} else {
		s.status.Sent++
	}
	s.status.LastEvent = summary
}

func (s *Supervisor) recordCycle(r CycleReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Cycles = r.Cycle
	s.status.TrackedFiles = r.Tracked
}
