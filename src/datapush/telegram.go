package datapush

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"XQNotifier/src/storage"
)

// Telegram 单条消息的最大长度(字符)
const telegramMaxText = 4096

// TelegramNotifier 通过 Bot API 发送消息，destination 为 chat id
type TelegramNotifier struct {
	token         string
	apiBase       string
	client        *http.Client
	limiter       *rate.Limiter // 同一个机器人每秒最多发送一条
	logger        *storage.Logger
	retryTimes    int
	retryInterval time.Duration
}

// BotInfo getMe 返回的机器人信息
type BotInfo struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// ChatInfo getUpdates 中出现的会话
type ChatInfo struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Username string `json:"username"`
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Chat ChatInfo `json:"chat"`
	} `json:"message"`
	ChannelPost *struct {
		Chat ChatInfo `json:"chat"`
	} `json:"channel_post"`
}

// NewTelegramNotifier 创建 Telegram 通知器
func NewTelegramNotifier(token, apiBase string, logger *storage.Logger) *TelegramNotifier {
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	return &TelegramNotifier{
		token:         token,
		apiBase:       strings.TrimRight(apiBase, "/"),
		client:        &http.Client{Timeout: 30 * time.Second},
		limiter:       rate.NewLimiter(rate.Every(time.Second), 1),
		logger:        logger,
		retryTimes:    RETRY_TIMES,
		retryInterval: RETRY_INTERVAL,
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

// Send 发送文本消息，超长部分截断
func (t *TelegramNotifier) Send(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return failure(t.Name(), errors.New("chat id 为空"))
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return failure(t.Name(), err)
	}

	payload := map[string]interface{}{
		"chat_id": chatID,
		"text":    truncateRunes(text, telegramMaxText),
	}
	err := retry(ctx, func() error {
		return t.call(ctx, "sendMessage", payload, nil)
	}, t.retryTimes, t.retryInterval)
	return failure(t.Name(), err)
}

// GetMe 测试机器人连接
func (t *TelegramNotifier) GetMe(ctx context.Context) (BotInfo, error) {
	var info BotInfo
	err := t.call(ctx, "getMe", nil, &info)
	return info, err
}

// LatestChatID 返回最近一条更新所属会话的 id，用于首次配置时查找 chat id
func (t *TelegramNotifier) LatestChatID(ctx context.Context) (ChatInfo, error) {
	var updates []telegramUpdate
	if err := t.call(ctx, "getUpdates", nil, &updates); err != nil {
		return ChatInfo{}, err
	}

	for i := len(updates) - 1; i >= 0; i-- {
		u := updates[i]
		if u.Message != nil {
			return u.Message.Chat, nil
		}
		if u.ChannelPost != nil {
			return u.ChannelPost.Chat, nil
		}
	}
	return ChatInfo{}, errors.New("没有找到任何会话，请先向机器人发送一条消息")
}

// call 调用 Bot API。429、5xx 和网络错误标记为可重试。
func (t *TelegramNotifier) call(ctx context.Context, method string, payload interface{}, out interface{}) error {
	var body io.Reader
	httpMethod := http.MethodGet
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %v", err)
		}
		body = bytes.NewReader(data)
		httpMethod = http.MethodPost
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.token, method)
	req, err := http.NewRequestWithContext(ctx, httpMethod, url, body)
	if err != nil {
		return fmt.Errorf("创建请求失败: %s", t.redact(err.Error()))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retryable(fmt.Errorf("发送请求失败: %s", t.redact(err.Error())), 0)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return retryable(fmt.Errorf("读取响应失败: %v", err), 0)
	}

	var result telegramResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		if resp.StatusCode >= 500 {
			return retryable(fmt.Errorf("服务端错误: HTTP %d", resp.StatusCode), 0)
		}
		return fmt.Errorf("解析响应失败: HTTP %d: %v", resp.StatusCode, err)
	}

	if !result.OK {
		apiErr := fmt.Errorf("%s 返回错误 %d: %s", method, result.ErrorCode, result.Description)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || result.ErrorCode == http.StatusTooManyRequests:
			var after time.Duration
			if result.Parameters != nil {
				after = time.Duration(result.Parameters.RetryAfter) * time.Second
			}
			t.logger.Warning(fmt.Sprintf("Telegram 限流，%v 后重试", after))
			return retryable(apiErr, after)
		case resp.StatusCode >= 500:
			return retryable(apiErr, 0)
		default:
			return apiErr
		}
	}

	if out != nil && len(result.Result) > 0 {
		if err := json.Unmarshal(result.Result, out); err != nil {
			return fmt.Errorf("解析 %s 结果失败: %v", method, err)
		}
	}
	return nil
}

// redact 从错误信息中去掉 bot token
func (t *TelegramNotifier) redact(s string) string {
	if t.token == "" {
		return s
	}
	return strings.ReplaceAll(s, t.token, "***")
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}

// FormatChatID 把数字 chat id 转为字符串
func FormatChatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
