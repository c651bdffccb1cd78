// Package web 提供监控服务的控制面板
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"XQNotifier/src/datasource/file"
	"XQNotifier/src/metrics"
	"XQNotifier/src/processor"
	"XQNotifier/src/storage"
)

// Controller 面板需要的监控控制能力
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
	Status() processor.Status
}

// PanelInfo 面板展示的静态配置信息
type PanelInfo struct {
	WatchDirectory string `json:"watch_directory"`
	TriggerFile    string `json:"trigger_file"`
	Notifier       string `json:"notifier"`
}

type statusResponse struct {
	processor.Status
	PanelInfo
}

// Server 控制面板 HTTP 服务
type Server struct {
	addr   string
	ctrl   Controller
	info   PanelInfo
	logger *storage.Logger

	appCtx   context.Context // 通过面板启动的监控随 appCtx 结束
	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{} // 关闭时结束所有日志流
	quitOnce sync.Once
	now      func() time.Time
}

// NewServer 创建控制面板。info.TriggerFile 为测试按钮写入的触发文件。
func NewServer(appCtx context.Context, addr string, ctrl Controller, info PanelInfo, logger *storage.Logger) *Server {
	return &Server{
		addr:   addr,
		ctrl:   ctrl,
		info:   info,
		logger: logger,
		appCtx: appCtx,
		quit:   make(chan struct{}),
		now:    time.Now,
	}
}

// Handler 返回面板的路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("POST /test", s.handleTest)
	mux.HandleFunc("GET /logs", s.handleLogs)
	mux.HandleFunc("GET /ws/logs", s.handleWSLogs)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start 开始监听
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", s.addr, err)
	}
	s.listener = ln

	// 日志流是长连接，不设置 WriteTimeout
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("控制面板已启动: http://" + ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(fmt.Sprintf("控制面板异常退出: %v", err))
		}
	}()
	return nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown 关闭服务并等待协程退出
func (s *Server) Shutdown(ctx context.Context) error {
	s.quitOnce.Do(func() { close(s.quit) })
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	return err
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: s.ctrl.Status(), PanelInfo: s.info})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.ctrl.Start(s.appCtx)
	switch {
	case errors.Is(err, processor.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"running": true})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	err := s.ctrl.Stop(ctx)
	switch {
	case errors.Is(err, processor.ErrNotRunning):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		s.logger.Info("监控已通过控制面板停止")
		writeJSON(w, http.StatusOK, map[string]bool{"running": false})
	}
}

// handleTest 写入触发文件，由监控流程发出通知
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	msg, err := file.WriteTestSignal(s.info.TriggerFile, s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("已写入测试触发: " + msg)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"written": msg,
		"running": s.ctrl.Running(),
	})
}

// handleLogs 以 chunked 文本流持续输出日志
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Transfer-Encoding", "chunked")

	// 创建日志订阅通道
	logChan := s.logger.Subscribe()
	defer s.logger.Unsubscribe(logChan)

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	for {
		select {
		case msg, ok := <-logChan:
			if !ok {
				return
			}
			// 如果写入失败(如客户端断开连接)，则退出循环
			if _, err := fmt.Fprintln(w, msg); err != nil {
				return
			}
			// 刷新响应缓冲区，确保消息立即发送到客户端
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		case <-r.Context().Done():
			return
		case <-s.quit:
			return
		}
	}
}

// handleWSLogs 通过 websocket 推送日志，每条日志一帧
func (s *Server) handleWSLogs(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warning(fmt.Sprintf("WebSocket 升级失败: %v", err))
		return
	}
	defer conn.CloseNow()

	// 不处理客户端消息，CloseRead 在客户端断开时取消 ctx
	ctx := conn.CloseRead(r.Context())

	logChan := s.logger.Subscribe()
	defer s.logger.Unsubscribe(logChan)

	for {
		select {
		case msg, ok := <-logChan:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "logger closed")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, []byte(msg))
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		case <-s.quit:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
