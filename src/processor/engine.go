package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"XQNotifier/src/datasource/file"
	"XQNotifier/src/metrics"
	"XQNotifier/src/storage"
)

// FileScanner 每个周期返回候选文件
type FileScanner interface {
	Scan() []file.Candidate
}

// ContentReader 读取文件完整文本
type ContentReader interface {
	Read(path string) (string, error)
}

// StateStore 负责 MonitorState 的载入与保存
type StateStore interface {
	Load() storage.MonitorState
	Save(state storage.MonitorState) error
	// Cleanup 清理异常退出遗留的临时文件，只由持有状态的引擎调用
	Cleanup()
}

// Notifier 通知渠道
type Notifier interface {
	Name() string
	Send(ctx context.Context, destination, text string) error
}

// EventKind 通知类型
type EventKind int

const (
	NewFile EventKind = iota
	UpdatedFile
)

func (k EventKind) String() string {
	if k == NewFile {
		return "new_file"
	}
	return "updated_file"
}

// NotificationEvent 一次通知，不做持久化
type NotificationEvent struct {
	ID        string
	FileName  string
	Path      string
	Timestamp time.Time
	Kind      EventKind
	Fragment  string
	Skipped   int
}

// Message 生成发送给通知渠道的文本
func (e NotificationEvent) Message(title string) string {
	label := "檔案"
	if e.Kind == NewFile {
		label = "新檔案"
	}
	return fmt.Sprintf("🔔 %s [%s]\n📁 %s: %s\n\n%s",
		title, e.Timestamp.Format("2006-01-02 15:04:05"), label, e.FileName, e.Fragment)
}

// EngineOptions 引擎参数
type EngineOptions struct {
	Destination   string        // 通知目标
	Title         string        // 消息标题
	ScanInterval  time.Duration // 扫描间隔
	SettleDelay   time.Duration // 发现修改后等待写入完成的时间
	PersistEvery  int           // 已知文件的修改每隔多少个周期保存一次
	NotifyTimeout time.Duration // 单次发送超时，0 表示不限制
	StartupNotice string        // 启动时发送的消息，为空则不发送
}

// CycleReport 一个扫描周期的统计
type CycleReport struct {
	Cycle      int
	Candidates int
	Tracked    int
	Duration   time.Duration
}

// Hooks 引擎向外报告进度，回调在引擎协程中同步执行
type Hooks struct {
	OnEvent func(ev NotificationEvent, err error)
	OnCycle func(r CycleReport)
}

// Engine 扫描、读取、比较、通知、持久化。
// MonitorState 只由运行 Run 的协程读写，不加锁。
type Engine struct {
	scanner  FileScanner
	reader   ContentReader
	store    StateStore
	notifier Notifier
	logger   *storage.Logger
	opts     EngineOptions
	hooks    Hooks

	state   storage.MonitorState
	dirty   bool
	cycles  int
	started bool

	now   func() time.Time
	sleep func(time.Duration)
}

// NewEngine 创建引擎
func NewEngine(scanner FileScanner, reader ContentReader, store StateStore, notifier Notifier,
	logger *storage.Logger, opts EngineOptions, hooks Hooks) *Engine {
	if opts.PersistEvery <= 0 {
		opts.PersistEvery = 1
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = time.Second
	}
	return &Engine{
		scanner:  scanner,
		reader:   reader,
		store:    store,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
		hooks:    hooks,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Start 载入状态并做一次完整扫描。
// 没有历史记录的现存文件记为基线，不发送通知；已有记录的文件沿用原记录。
func (e *Engine) Start() {
	e.store.Cleanup()
	e.state = e.store.Load()
	e.started = true

	added := 0
	for _, c := range e.scanner.Scan() {
		if _, ok := e.state[c.Key]; ok {
			continue
		}

		rec := &storage.FileRecord{LastModified: c.ModTime, Baseline: true}
		content, err := e.reader.Read(c.Key)
		if err != nil {
			// 内容未知，不能用空内容作为比较基准
			metrics.RecordReadFailure()
			rec.ContentUnknown = true
		} else {
			rec.LastContent = content
		}
		e.state[c.Key] = rec
		added++
	}

	if added > 0 {
		e.persist()
	}
	e.logger.Info(fmt.Sprintf("初始扫描完成: %d 个已记录文件，其中 %d 个为本次新增基线", len(e.state), added))
}

// RunCycle 执行一个扫描周期。当前周期内已开始的文件处理总会完成。
func (e *Engine) RunCycle(ctx context.Context) {
	if !e.started {
		e.Start()
	}

	begin := time.Now()
	e.cycles++

	candidates := e.scanner.Scan()
	for _, c := range candidates {
		e.process(ctx, c)
	}

	if e.dirty && e.cycles%e.opts.PersistEvery == 0 {
		e.persist()
	}

	report := CycleReport{
		Cycle:      e.cycles,
		Candidates: len(candidates),
		Tracked:    len(e.state),
		Duration:   time.Since(begin),
	}
	metrics.RecordScanCycle(report.Duration, report.Tracked)
	if e.hooks.OnCycle != nil {
		e.hooks.OnCycle(report)
	}
}

// Run 启动后按固定间隔扫描，直到 ctx 取消；退出前总会保存一次状态
func (e *Engine) Run(ctx context.Context) error {
	if !e.started {
		e.Start()
	}
	defer e.persist()

	e.logger.Info(fmt.Sprintf("开始监控，扫描间隔 %v，等待写入 %v", e.opts.ScanInterval, e.opts.SettleDelay))
	if e.opts.StartupNotice != "" {
		e.sendStartupNotice(ctx)
	}

	ticker := time.NewTicker(e.opts.ScanInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			break
		}
		e.RunCycle(ctx)

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	e.logger.Info("监控已停止")
	return nil
}

func (e *Engine) process(ctx context.Context, c file.Candidate) {
	rec, seen := e.state[c.Key]
	if !seen {
		e.processNewFile(ctx, c)
		return
	}
	if rec.ContentUnknown {
		e.recoverBaseline(c, rec)
		return
	}

	if !c.ModTime.After(rec.LastModified) {
		return
	}

	e.settle()
	content, err := e.reader.Read(c.Key)
	if err != nil {
		// 不更新记录，下个周期重新读取
		metrics.RecordReadFailure()
		return
	}

	frag := ExtractFragment(rec.LastContent, content)
	rec.LastModified = c.ModTime
	rec.LastContent = content
	e.dirty = true

	if frag.Empty() {
		e.logger.Debug(fmt.Sprintf("%s 修改时间变化但内容未变，不发送", c.Name))
		return
	}
	e.notify(ctx, c, UpdatedFile, frag)
}

// processNewFile 监控期间新出现的文件：发送最后一行并立即保存
func (e *Engine) processNewFile(ctx context.Context, c file.Candidate) {
	e.settle()
	content, err := e.reader.Read(c.Key)
	if err != nil {
		metrics.RecordReadFailure()
		return
	}

	e.state[c.Key] = &storage.FileRecord{
		LastModified: c.ModTime,
		LastContent:  content,
		Baseline:     false,
	}
	e.logger.Info("发现新文件: " + c.Name)

	if frag := ExtractFragment("", content); !frag.Empty() {
		e.notify(ctx, c, NewFile, frag)
	}
	e.persist()
}

// recoverBaseline 启动时未能读取的文件，每个周期重试，读取成功后静默记为基线
func (e *Engine) recoverBaseline(c file.Candidate, rec *storage.FileRecord) {
	content, err := e.reader.Read(c.Key)
	if err != nil {
		metrics.RecordReadFailure()
		return
	}

	rec.LastModified = c.ModTime
	rec.LastContent = content
	rec.ContentUnknown = false
	e.dirty = true
	e.logger.Info(fmt.Sprintf("%s 已重新读取，记为基线，不发送", c.Name))
}

func (e *Engine) settle() {
	if e.opts.SettleDelay > 0 {
		e.sleep(e.opts.SettleDelay)
	}
}

// notify 每次变化只尝试一次，失败不回滚记录
func (e *Engine) notify(ctx context.Context, c file.Candidate, kind EventKind, frag Fragment) {
	ev := NotificationEvent{
		ID:        uuid.NewString(),
		FileName:  c.Name,
		Path:      c.Key,
		Timestamp: e.now(),
		Kind:      kind,
		Fragment:  frag.Text,
		Skipped:   frag.Skipped,
	}
	if frag.Skipped > 0 {
		metrics.RecordSkippedLines(frag.Skipped)
		e.logger.Warning(fmt.Sprintf("%s 在一个周期内追加了 %d 行，只发送最后一行", c.Name, frag.Skipped+1))
	}

	err := e.send(ctx, ev.Message(e.opts.Title))
	metrics.RecordNotification(e.notifier.Name(), kind.String(), e.now().Sub(ev.Timestamp), err == nil)
	if err != nil {
		e.logger.Error(fmt.Sprintf("发送通知失败 %s (%s): %v", c.Name, ev.ID, err))
	} else {
		e.logger.Info(fmt.Sprintf("✅ 訊息已發送: %s - %s", c.Name, preview(frag.Text, 30)))
	}

	if e.hooks.OnEvent != nil {
		e.hooks.OnEvent(ev, err)
	}
}

// send 使用与停止信号分离的 context，停止时正在进行的发送可以完成
func (e *Engine) send(ctx context.Context, text string) error {
	sendCtx := context.WithoutCancel(ctx)
	if e.opts.NotifyTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(sendCtx, e.opts.NotifyTimeout)
		defer cancel()
	}
	return e.notifier.Send(sendCtx, e.opts.Destination, text)
}

func (e *Engine) sendStartupNotice(ctx context.Context) {
	if err := e.send(ctx, e.opts.StartupNotice); err != nil {
		e.logger.Warning(fmt.Sprintf("启动通知发送失败: %v", err))
		return
	}
	e.logger.Info("启动通知已发送")
}

// persist 保存失败时保留内存状态，等待下次保存
func (e *Engine) persist() {
	if e.state == nil {
		return
	}
	if err := e.store.Save(e.state); err != nil {
		metrics.RecordStateSave(false)
		e.logger.Error(fmt.Sprintf("状态保存失败: %v", err))
		e.dirty = true
		return
	}
	metrics.RecordStateSave(true)
	e.dirty = false
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
