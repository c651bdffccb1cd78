package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 通知渠道
const (
	NotifierTelegram = "telegram"
	NotifierDingTalk = "dingtalk"
	NotifierEmail    = "email"
	NotifierDryRun   = "dryrun"
)

// 示例配置中的占位符，加载后必须被替换
const (
	PlaceholderBotToken = "YOUR_BOT_TOKEN_HERE"
	PlaceholderChatID   = "YOUR_CHAT_ID_HERE"
)

// Config 结构体定义了应用程序的配置结构
type Config struct {
	Notifier         string   `json:"notifier"`          // 通知渠道: telegram/dingtalk/email/dryrun
	WatchDirectory   string   `json:"watch_directory"`   // 监控目录
	Patterns         []string `json:"patterns"`          // 文件名匹配规则(glob)
	TriggerFile      string   `json:"trigger_file"`      // 额外监控的触发文件名
	StateFile        string   `json:"state_file"`        // 状态文件名(位于监控目录内)
	ScanInterval     Duration `json:"scan_interval"`     // 扫描间隔
	SettleDelay      Duration `json:"settle_delay"`      // 检测到修改后等待写入完成的时间
	PersistEvery     int      `json:"persist_every"`     // 每隔多少个扫描周期保存一次状态
	FallbackEncoding string   `json:"fallback_encoding"` // UTF-8 解码失败时使用的编码
	NotifyTimeout    Duration `json:"notify_timeout"`    // 单次发送超时
	MessageTitle     string   `json:"message_title"`     // 消息标题

	// 与旧版 config.json 保持相同的平铺字段
	TelegramBotToken string `json:"telegram_bot_token"`
	TelegramChatID   ChatID `json:"telegram_chat_id"`
	TelegramAPIBase  string `json:"telegram_api_base"`

	DingTalk struct {
		AccessToken string `json:"access_token"`
		Secret      string `json:"secret"` // 加签密钥，可为空
		Webhook     string `json:"webhook"`
	} `json:"dingtalk"`

	Email struct {
		SMTPServer     string   `json:"smtp_server"` // 含端口，如 smtp.qq.com:465
		Username       string   `json:"username"`
		Password       string   `json:"password"`
		To             []string `json:"to"`
		IMAPServer     string   `json:"imap_server"`     // 为空则不归档
		ArchiveMailbox string   `json:"archive_mailbox"` // 发送副本归档的邮箱文件夹
	} `json:"email"`

	Log struct {
		Name       string `json:"name"`
		MaxSizeMB  int    `json:"max_size_mb"`
		MaxBackups int    `json:"max_backups"`
		MaxAgeDays int    `json:"max_age_days"`
		Level      string `json:"level"`
		RotateSpec string `json:"rotate_spec"` // cron 表达式，为空则只按大小轮转
	} `json:"log"`

	HeartbeatSpec string `json:"heartbeat_spec"` // 心跳消息的 cron 表达式，为空则关闭
	WebAddr       string `json:"web_addr"`       // 控制面板监听地址，为空则关闭
}

// Default 返回填充了默认值的配置
func Default() *Config {
	cfg := &Config{
		Notifier:         NotifierTelegram,
		WatchDirectory:   "./local",
		Patterns:         []string{"*.log"},
		TriggerFile:      "xq_trigger.txt",
		StateFile:        ".xq_monitor_state.json",
		ScanInterval:     Duration(time.Second),
		SettleDelay:      Duration(500 * time.Millisecond),
		PersistEvery:     30,
		FallbackEncoding: "big5",
		NotifyTimeout:    Duration(15 * time.Second),
		MessageTitle:     "XQ 交易信號",
	}
	cfg.TelegramAPIBase = "https://api.telegram.org"
	cfg.DingTalk.Webhook = "https://oapi.dingtalk.com/robot/send"
	cfg.Email.ArchiveMailbox = "Sent"
	cfg.Log.Name = "xqnotify.log"
	cfg.Log.MaxSizeMB = 10
	cfg.Log.MaxBackups = 5
	cfg.Log.MaxAgeDays = 30
	cfg.Log.Level = "info"
	return cfg
}

// LoadConfig 读取 jsonFolder/jsonFile，未出现的字段保留默认值。
// 同目录下的 .env 文件和 XQ_* 环境变量会覆盖敏感字段。
func LoadConfig(jsonFolder, jsonFile string) (*Config, error) {
	configFile := filepath.Join(jsonFolder, jsonFile)

	configData, err := readFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := parseConfig(configData)
	if err != nil {
		return nil, err
	}

	envFile := filepath.Join(jsonFolder, ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取 %s 失败: %w", envFile, err)
	}
	cfg.applyEnv()

	return cfg, nil
}

func readFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法读取文件 %s: %w", filePath, err)
	}
	return data, nil
}

func parseConfig(data []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析Config失败: %w", err)
	}
	return cfg, nil
}

// applyEnv 用环境变量覆盖密钥类配置
func (c *Config) applyEnv() {
	if v := os.Getenv("XQ_TELEGRAM_BOT_TOKEN"); v != "" {
		c.TelegramBotToken = v
	}
	if v := os.Getenv("XQ_TELEGRAM_CHAT_ID"); v != "" {
		c.TelegramChatID = ChatID(v)
	}
	if v := os.Getenv("XQ_DINGTALK_SECRET"); v != "" {
		c.DingTalk.Secret = v
	}
	if v := os.Getenv("XQ_EMAIL_PASSWORD"); v != "" {
		c.Email.Password = v
	}
}

// Validate 检查配置是否可以启动监控
func (c *Config) Validate() error {
	var errs []error

	if c.WatchDirectory == "" {
		errs = append(errs, errors.New("watch_directory 不能为空"))
	}
	if len(c.Patterns) == 0 && c.TriggerFile == "" {
		errs = append(errs, errors.New("patterns 和 trigger_file 至少需要一个"))
	}
	for _, p := range c.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			errs = append(errs, fmt.Errorf("无效的匹配规则 %q: %w", p, err))
		}
	}
	if c.ScanInterval <= 0 {
		errs = append(errs, errors.New("scan_interval 必须大于 0"))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, errors.New("settle_delay 不能为负数"))
	}
	if c.PersistEvery <= 0 {
		errs = append(errs, errors.New("persist_every 必须大于 0"))
	}

	switch c.Notifier {
	case NotifierTelegram:
		if c.TelegramBotToken == "" || c.TelegramBotToken == PlaceholderBotToken {
			errs = append(errs, errors.New("请设置有效的 Telegram Bot Token"))
		}
		if c.TelegramChatID == "" || c.TelegramChatID == PlaceholderChatID {
			errs = append(errs, errors.New("请设置有效的 Telegram Chat ID"))
		}
	case NotifierDingTalk:
		if c.DingTalk.AccessToken == "" {
			errs = append(errs, errors.New("请设置钉钉机器人 access_token"))
		}
	case NotifierEmail:
		if c.Email.SMTPServer == "" || c.Email.Username == "" || len(c.Email.To) == 0 {
			errs = append(errs, errors.New("邮件通知需要 smtp_server、username 和 to"))
		}
	case NotifierDryRun:
	default:
		errs = append(errs, fmt.Errorf("未知的通知渠道: %q", c.Notifier))
	}

	return combineErrors(errs)
}

// Destination 返回当前通知渠道的目标标识
func (c *Config) Destination() string {
	switch c.Notifier {
	case NotifierTelegram:
		return string(c.TelegramChatID)
	case NotifierDingTalk:
		return c.DingTalk.AccessToken
	case NotifierEmail:
		return strings.Join(c.Email.To, ",")
	default:
		return ""
	}
}

// StatePath 返回状态文件的完整路径
func (c *Config) StatePath() string {
	return filepath.Join(c.WatchDirectory, c.StateFile)
}

// TriggerPath 返回触发文件的完整路径
func (c *Config) TriggerPath() string {
	return filepath.Join(c.WatchDirectory, c.TriggerFile)
}

// WriteExample 生成示例配置文件，已存在时不覆盖
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("配置文件 %s 已存在", path)
	}

	cfg := Default()
	cfg.TelegramBotToken = PlaceholderBotToken
	cfg.TelegramChatID = PlaceholderChatID

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化示例配置失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func combineErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	msg := "配置校验遇到错误:"
	for _, err := range errs {
		msg = fmt.Sprintf("%s\n- %v", msg, err)
	}
	return fmt.Errorf("%s", msg)
}

// Duration 是time.Duration的自定义包装类型
// 用于支持JSON序列化和反序列化
type Duration time.Duration

// UnmarshalJSON 实现json.Unmarshaler接口
// 用于从JSON字符串解析Duration
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON 实现json.Marshaler接口
// 用于将Duration序列化为JSON字符串
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std 转换为 time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ChatID 兼容 JSON 数字和字符串两种写法
type ChatID string

func (c *ChatID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = ChatID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("chat id 必须是数字或字符串: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("chat id 不是整数: %w", err)
	}
	*c = ChatID(n.String())
	return nil
}
