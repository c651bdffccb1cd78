package datapush

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"XQNotifier/src/storage"
)

// DryRunNotifier 只记录日志不发送，用于调试和首次部署
type DryRunNotifier struct {
	logger *storage.Logger
	mu     sync.Mutex
	sent   []string
}

func NewDryRunNotifier(logger *storage.Logger) *DryRunNotifier {
	return &DryRunNotifier{logger: logger}
}

func (d *DryRunNotifier) Name() string { return "dryrun" }

func (d *DryRunNotifier) Send(ctx context.Context, destination, text string) error {
	if err := ctx.Err(); err != nil {
		return failure(d.Name(), err)
	}
	d.mu.Lock()
	d.sent = append(d.sent, text)
	d.mu.Unlock()

	d.logger.Info(fmt.Sprintf("[dryrun] -> %q: %s", destination, strings.ReplaceAll(text, "\n", " | ")))
	return nil
}

// Sent 返回已记录的消息副本
func (d *DryRunNotifier) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}
