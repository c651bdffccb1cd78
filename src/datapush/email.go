package datapush

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/jordan-wright/email"

	"XQNotifier/src/storage"
)

// EmailConfig 邮件通知所需的账号信息
type EmailConfig struct {
	SMTPServer     string // 含端口，未写端口时使用 465
	Username       string
	Password       string
	IMAPServer     string // 为空则不归档
	ArchiveMailbox string
}

// EmailNotifier 通过 SMTP(TLS) 发送邮件，destination 为逗号分隔的收件人
type EmailNotifier struct {
	cfg    EmailConfig
	logger *storage.Logger
	now    func() time.Time

	sendMail func(addr string, e *email.Email) error
	appendTo func(mailbox string, date time.Time, raw []byte) error
}

// NewEmailNotifier 创建邮件通知器
func NewEmailNotifier(cfg EmailConfig, logger *storage.Logger) *EmailNotifier {
	if cfg.ArchiveMailbox == "" {
		cfg.ArchiveMailbox = "Sent"
	}
	n := &EmailNotifier{cfg: cfg, logger: logger, now: time.Now}
	n.sendMail = n.sendWithTLS
	n.appendTo = n.imapAppend
	return n
}

func (n *EmailNotifier) Name() string { return "email" }

// Send 以消息第一行作为主题发送邮件，成功后把副本归档到 IMAP 邮箱
func (n *EmailNotifier) Send(ctx context.Context, destination, text string) error {
	to := splitRecipients(destination)
	if len(to) == 0 {
		return failure(n.Name(), errors.New("收件人为空"))
	}

	e := email.NewEmail()
	e.From = fmt.Sprintf("XQ Notifier <%s>", n.cfg.Username)
	e.To = to
	e.Subject = subjectOf(text)
	e.Text = []byte(text)

	// SendWithTLS 不支持 context，放到协程里等待
	done := make(chan error, 1)
	go func() {
		done <- n.sendMail(smtpAddr(n.cfg.SMTPServer), e)
	}()

	select {
	case err := <-done:
		if err != nil {
			return failure(n.Name(), fmt.Errorf("邮件发送失败: %v (Server: %s)", err, n.cfg.SMTPServer))
		}
	case <-ctx.Done():
		return failure(n.Name(), ctx.Err())
	}

	if n.cfg.IMAPServer != "" {
		n.archive(to, e.Subject, text)
	}
	return nil
}

// archive 归档失败只记录警告，不影响发送结果
func (n *EmailNotifier) archive(to []string, subject, text string) {
	date := n.now()
	raw, err := composeMessage(n.cfg.Username, to, subject, text, date)
	if err != nil {
		n.logger.Warning(fmt.Sprintf("生成归档邮件失败: %v", err))
		return
	}
	if err := n.appendTo(n.cfg.ArchiveMailbox, date, raw); err != nil {
		n.logger.Warning(fmt.Sprintf("归档到 %s 失败: %v", n.cfg.ArchiveMailbox, err))
		return
	}
	n.logger.Debug("邮件副本已归档到 " + n.cfg.ArchiveMailbox)
}

func (n *EmailNotifier) sendWithTLS(addr string, e *email.Email) error {
	host := strings.Split(addr, ":")[0]
	return e.SendWithTLS(
		addr,
		smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, host),
		&tls.Config{ServerName: host},
	)
}

func (n *EmailNotifier) imapAppend(mailbox string, date time.Time, raw []byte) error {
	c, err := client.DialTLS(n.cfg.IMAPServer, nil)
	if err != nil {
		return fmt.Errorf("连接服务器失败: %w", err)
	}
	defer c.Logout()

	if err := c.Login(n.cfg.Username, n.cfg.Password); err != nil {
		return fmt.Errorf("登录失败: %w", err)
	}
	return c.Append(mailbox, []string{imap.SeenFlag}, date, bytes.NewBuffer(raw))
}

// composeMessage 生成 RFC 5322 格式的纯文本邮件
func composeMessage(from string, to []string, subject, text string, date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetSubject(subject)
	h.SetAddressList("From", []*mail.Address{{Name: "XQ Notifier", Address: from}})

	rcpts := make([]*mail.Address, 0, len(to))
	for _, addr := range to {
		rcpts = append(rcpts, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", rcpts)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(text)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// subjectOf 取第一行非空内容作为主题
func subjectOf(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return truncateRunes(line, 80)
		}
	}
	return "XQ Notifier"
}

// 确保服务器地址包含端口
func smtpAddr(server string) string {
	if !strings.Contains(server, ":") {
		return server + ":465" // 默认 SSL 端口
	}
	return server
}

func splitRecipients(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
