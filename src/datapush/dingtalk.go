package datapush

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"XQNotifier/src/storage"
)

// 钉钉机器人发送过于频繁时返回的错误码
const dingTalkRateLimited = 130101

// 钉钉 API 响应结构体
type DingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// DingTalkNotifier 自定义机器人 webhook，destination 为机器人 access_token
type DingTalkNotifier struct {
	webhook       string
	secret        string // 加签密钥，为空表示未开启加签
	client        *http.Client
	logger        *storage.Logger
	now           func() time.Time
	retryTimes    int
	retryInterval time.Duration
}

// NewDingTalkNotifier 创建钉钉通知器
func NewDingTalkNotifier(webhook, secret string, logger *storage.Logger) *DingTalkNotifier {
	if webhook == "" {
		webhook = "https://oapi.dingtalk.com/robot/send"
	}
	return &DingTalkNotifier{
		webhook:       webhook,
		secret:        secret,
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        logger,
		now:           time.Now,
		retryTimes:    RETRY_TIMES,
		retryInterval: RETRY_INTERVAL,
	}
}

func (d *DingTalkNotifier) Name() string { return "dingtalk" }

// Send 发送文本消息
func (d *DingTalkNotifier) Send(ctx context.Context, accessToken, text string) error {
	if accessToken == "" {
		return failure(d.Name(), errors.New("access_token 为空"))
	}

	payload := map[string]interface{}{
		"msgtype": "text",
		"text": map[string]string{
			"content": text,
		},
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return failure(d.Name(), fmt.Errorf("序列化请求体失败: %v", err))
	}

	err = retry(ctx, func() error {
		return d.post(ctx, accessToken, payloadBytes)
	}, d.retryTimes, d.retryInterval)
	return failure(d.Name(), err)
}

func (d *DingTalkNotifier) post(ctx context.Context, accessToken string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.signedURL(accessToken), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("创建请求失败: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retryable(fmt.Errorf("发送请求失败: %v", err), 0)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return retryable(fmt.Errorf("读取响应失败: %v", err), 0)
	}
	if resp.StatusCode >= 500 {
		return retryable(fmt.Errorf("服务端错误: HTTP %d", resp.StatusCode), 0)
	}

	var result DingTalkResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("解析响应失败: %v", err)
	}

	switch result.ErrCode {
	case 0:
		return nil
	case dingTalkRateLimited:
		d.logger.Warning("钉钉机器人发送过于频繁，稍后重试")
		return retryable(fmt.Errorf("发送消息失败: %s", result.ErrMsg), time.Minute)
	default:
		return fmt.Errorf("发送消息失败(%d): %s", result.ErrCode, result.ErrMsg)
	}
}

// signedURL 拼接 access_token，开启加签时附带 timestamp 和 sign
func (d *DingTalkNotifier) signedURL(accessToken string) string {
	q := url.Values{}
	q.Set("access_token", accessToken)
	if d.secret != "" {
		ts := strconv.FormatInt(d.now().UnixMilli(), 10)
		q.Set("timestamp", ts)
		q.Set("sign", sign(ts, d.secret))
	}
	return d.webhook + "?" + q.Encode()
}

// sign 计算 base64(HmacSHA256(timestamp+"\n"+secret))
func sign(timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
