package mailbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/joseph-ayodele/parts-intake/internal/common"
)

type IMAPConfig struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// IMAPClient is a Mailbox over a single TLS IMAP session. The underlying client is
// not safe for concurrent use, so every command holds mu.
type IMAPClient struct {
	cfg    IMAPConfig
	logger *slog.Logger

	mu       sync.Mutex
	c        *client.Client
	selected string
}

// DialIMAP opens the TLS connection. Call Login and SelectMailbox before fetching.
func DialIMAP(cfg IMAPConfig, logger *slog.Logger) (*IMAPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	logger.Info("mailbox.dial", "addr", addr)

	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, common.NewAppError("MAILBOX_ERROR", "dial "+addr, err)
	}
	if cfg.Timeout > 0 {
		c.Timeout = cfg.Timeout
	}
	return &IMAPClient{cfg: cfg, logger: logger, c: c}, nil
}

func (m *IMAPClient) Login(user, pass string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.c.Login(user, pass); err != nil {
		m.logger.Error("mailbox.login_failed", "user", user, "error", err)
		return common.NewAppError("MAILBOX_AUTH", "login failed", common.ErrUnauthorized)
	}
	m.logger.Info("mailbox.login.ok", "user", user)
	return nil
}

func (m *IMAPClient) SelectMailbox(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, err := m.c.Select(name, true)
	if err != nil {
		return common.NewAppError("MAILBOX_ERROR", "select "+name, err)
	}
	m.selected = name
	m.logger.Info("mailbox.selected", "mailbox", name, "messages", status.Messages)
	return nil
}

// TotalMessageCount refreshes the selected mailbox and returns its message count.
func (m *IMAPClient) TotalMessageCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// NOOP lets the server push EXISTS updates for new mail
	if err := m.c.Noop(); err != nil {
		return 0, common.NewAppError("MAILBOX_ERROR", "noop", err)
	}
	mbox := m.c.Mailbox()
	if mbox == nil {
		return 0, common.NewAppError("MAILBOX_ERROR", "no mailbox selected", common.ErrInvalidInput)
	}
	return int(mbox.Messages), nil
}

// Fetch returns the full RFC 822 message at index without setting \Seen.
func (m *IMAPClient) Fetch(ctx context.Context, index int) ([]byte, error) {
	if index < 1 {
		return nil, common.NewAppError("MAILBOX_ERROR", fmt.Sprintf("invalid message index %d", index), common.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := new(imap.SeqSet)
	seq.AddNum(uint32(index))
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() { done <- m.c.Fetch(seq, items, messages) }()

	var raw []byte
	var readErr error
	// drain fully so the fetch goroutine can finish
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil || readErr != nil {
			continue
		}
		raw, readErr = io.ReadAll(body)
	}
	if err := <-done; err != nil {
		return nil, common.NewAppError("MAILBOX_ERROR", fmt.Sprintf("fetch %d", index), err)
	}
	if readErr != nil {
		return nil, common.NewAppError("MAILBOX_ERROR", "read message body", readErr)
	}
	if raw == nil {
		return nil, common.NewAppError("MAILBOX_ERROR", fmt.Sprintf("message %d in %s", index, m.selected), common.ErrNotFound)
	}
	m.logger.Debug("mailbox.fetch.ok", "index", index, "bytes", len(raw))
	return raw, nil
}

func (m *IMAPClient) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Info("mailbox.logout")
	return m.c.Logout()
}
