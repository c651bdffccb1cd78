package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel 定义日志级别类型
type LogLevel int

// 日志级别常量定义
const (
	DEBUG   LogLevel = iota // 调试信息
	INFO                    // 普通信息
	WARNING                 // 警告信息
	ERROR                   // 错误信息
)

const timeLayout = "2006-01-02 15:04:05"

// LogOptions 日志文件与轮转设置
type LogOptions struct {
	Filename   string // 为空则只输出到 stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      string // debug/info/warn/error
	Quiet      bool   // 不输出到 stdout
}

// Logger 日志记录器结构体
// 通过构造函数注入到各个组件，不使用全局实例
type Logger struct {
	zl          *zap.Logger
	rotator     *lumberjack.Logger // 可能为 nil
	mu          sync.Mutex         // 保护订阅者列表
	subscribers []chan string      // 订阅者通道列表
}

// NewLogger 创建新的日志记录器
// 参数:
//
//	opts: 日志文件路径、轮转与级别设置
//
// 返回值:
//
//	*Logger: 日志记录器实例
//	error: 创建过程中的错误
func NewLogger(opts LogOptions) (*Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil || opts.Level == "" {
		level = zapcore.InfoLevel
	}

	var sinks []zapcore.WriteSyncer
	if !opts.Quiet {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}

	var rotator *lumberjack.Logger
	if opts.Filename != "" {
		rotator = &lumberjack.Logger{
			Filename:   opts.Filename,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			LocalTime:  true,
		}
		sinks = append(sinks, zapcore.AddSync(rotator))
	}
	if len(sinks) == 0 {
		return nil, errors.New("日志没有任何输出目标")
	}

	l := &Logger{rotator: rotator}
	l.zl = zap.New(
		zapcore.NewCore(newEncoder(), zapcore.NewMultiWriteSyncer(sinks...), level),
		zap.Hooks(l.broadcast),
	)
	return l, nil
}

// NewWriterLogger 创建写入任意 io.Writer 的记录器，主要用于测试
func NewWriterLogger(w io.Writer) *Logger {
	l := &Logger{}
	l.zl = zap.New(
		zapcore.NewCore(newEncoder(), zapcore.AddSync(w), zapcore.DebugLevel),
		zap.Hooks(l.broadcast),
	)
	return l
}

// NewNopLogger 丢弃所有输出
func NewNopLogger() *Logger {
	return NewWriterLogger(io.Discard)
}

func newEncoder() zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.CallerKey = zapcore.OmitKey
	encCfg.ConsoleSeparator = " "
	return zapcore.NewConsoleEncoder(encCfg)
}

// Close 刷新缓冲并关闭日志文件
func (l *Logger) Close() error {
	_ = l.zl.Sync()

	l.mu.Lock()
	for _, ch := range l.subscribers {
		close(ch)
	}
	l.subscribers = nil
	l.mu.Unlock()

	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Rotate 立即切换到新的日志文件，旧文件按时间戳改名保留
func (l *Logger) Rotate() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Rotate()
}

// Log 记录日志方法
// 参数:
//
//	level: 日志级别
//	message: 日志消息内容
func (l *Logger) Log(level LogLevel, message string) {
	switch level {
	case DEBUG:
		l.zl.Debug(message)
	case INFO:
		l.zl.Info(message)
	case WARNING:
		l.zl.Warn(message)
	default:
		l.zl.Error(message)
	}
}

// broadcast 作为 zap hook，把每条已写出的日志推送给订阅者
func (l *Logger) broadcast(e zapcore.Entry) error {
	entry := fmt.Sprintf("[%s] %s: %s",
		e.Time.Format(timeLayout),
		levelName(e.Level),
		e.Message)

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subscribers {
		select {
		case ch <- entry: // 尝试发送日志条目
		default: // 如果通道已满则跳过
		}
	}
	return nil
}

// Subscribe 订阅日志消息
// 返回值:
//
//	<-chan string: 只读通道，用于接收日志消息
func (l *Logger) Subscribe() <-chan string {
	l.mu.Lock()
	defer l.mu.Unlock()

	// 创建带缓冲的通道(容量100)
	ch := make(chan string, 100)
	l.subscribers = append(l.subscribers, ch)
	return ch
}

// Unsubscribe 取消订阅并关闭通道
func (l *Logger) Unsubscribe(sub <-chan string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, ch := range l.subscribers {
		if ch == sub {
			l.subscribers = append(l.subscribers[:i], l.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// String 实现LogLevel的String方法
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARNING:
		return "WARNING"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func levelName(l zapcore.Level) string {
	switch l {
	case zapcore.DebugLevel:
		return DEBUG.String()
	case zapcore.InfoLevel:
		return INFO.String()
	case zapcore.WarnLevel:
		return WARNING.String()
	default:
		return strings.ToUpper(l.String())
	}
}

// 以下是快捷日志方法
func (l *Logger) Debug(msg string)   { l.Log(DEBUG, msg) }   // 记录调试信息
func (l *Logger) Info(msg string)    { l.Log(INFO, msg) }    // 记录普通信息
func (l *Logger) Warning(msg string) { l.Log(WARNING, msg) } // 记录警告信息
func (l *Logger) Error(msg string)   { l.Log(ERROR, msg) }   // 记录错误信息
