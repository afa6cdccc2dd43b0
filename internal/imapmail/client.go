// Package imapmail implements the mail client for plain IMAP mailboxes, with
// replies submitted over SMTP. Every message in INBOX is treated as its own
// thread, identified by its UID.
package imapmail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"

	"github.com/znz-systems/mailpilot/internal/compose"
	"github.com/znz-systems/mailpilot/internal/mail"
	"github.com/znz-systems/mailpilot/internal/models"
)

const (
	mailbox      = "INBOX"
	snippetRunes = 200
)

var errNoSender = errors.New("imapmail: no smtp sender configured")

var policyHeaders = []string{"Auto-Submitted", "List-Id", "List-Unsubscribe", "Precedence", "Reply-To"}

type Sender interface {
	Send(ctx context.Context, from string, to []string, raw []byte) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool
}

// Client implements mail.Client and mail.ThreadLabeler. A connection is
// opened per operation.
type Client struct {
	cfg    Config
	sender Sender
	now    func() time.Time
	dial   func(addr string) (*imapclient.Client, error)
}

func NewClient(cfg Config, sender Sender) *Client {
	c := &Client{cfg: cfg, sender: sender, now: time.Now}
	if cfg.TLS {
		c.dial = func(addr string) (*imapclient.Client, error) { return imapclient.DialTLS(addr, nil) }
	} else {
		c.dial = func(addr string) (*imapclient.Client, error) { return imapclient.DialStartTLS(addr, nil) }
	}
	return c
}

// connect logs in and selects INBOX. The returned release func logs out and
// must always be called.
func (c *Client) connect(ctx context.Context) (*imapclient.Client, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	client, err := c.dial(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	release := func() {
		stop()
		_ = client.Logout().Wait()
	}

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		release()
		return nil, nil, fmt.Errorf("imap login for %s: %w", c.cfg.Username, err)
	}
	if _, err := client.Select(mailbox, nil).Wait(); err != nil {
		release()
		return nil, nil, fmt.Errorf("selecting %s: %w", mailbox, err)
	}
	return client, release, nil
}

func (c *Client) ListRecentThreads(ctx context.Context, limit int) ([]models.Thread, error) {
	client, release, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return []models.Thread{}, nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	threads, err := fetchThreads(client, imap.UIDSetNum(uids...))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(threads, func(i, j int) bool { return threads[i].Date.After(threads[j].Date) })
	return threads, nil
}

func (c *Client) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}
	client, release, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	threads, err := fetchThreads(client, imap.UIDSetNum(uid))
	if err != nil {
		return nil, err
	}
	if len(threads) == 0 {
		return nil, mail.ErrThreadNotFound
	}
	return &threads[0], nil
}

func (c *Client) SendMessage(ctx context.Context, account *models.Account, threadID string, msg models.OutboundMessage) error {
	if c.sender == nil {
		return errNoSender
	}
	raw, err := compose.Render(msg, c.now())
	if err != nil {
		return fmt.Errorf("render message: %w", err)
	}
	if err := c.sender.Send(ctx, msg.From, []string{msg.To}, raw); err != nil {
		return err
	}
	slog.InfoContext(ctx, "imap reply submitted", "account", account.Email, "thread_id", threadID)
	return nil
}

// LabelThread stores the label as a keyword flag on the message.
func (c *Client) LabelThread(ctx context.Context, threadID, label string) error {
	uid, err := parseUID(threadID)
	if err != nil {
		return err
	}
	client, release, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	cmd := client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{labelFlag(label)},
	}, nil)
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("label message %s: %w", threadID, err)
	}
	return nil
}

var fetchBody = &imap.FetchItemBodySection{Peek: true}

func fetchThreads(client *imapclient.Client, set imap.UIDSet) ([]models.Thread, error) {
	cmd := client.Fetch(set, &imap.FetchOptions{
		UID:         true,
		Flags:       true,
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{fetchBody},
	})
	defer cmd.Close()

	var threads []models.Thread
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			slog.Warn("collecting imap message failed", "error", err)
			continue
		}
		th, err := threadFromMessage(buf.UID, buf.Flags, buf.FindBodySection(fetchBody))
		if err != nil {
			slog.Warn("parsing imap message failed", "uid", buf.UID, "error", err)
			continue
		}
		if th.Date.IsZero() && buf.Envelope != nil {
			th.Date = buf.Envelope.Date
		}
		threads = append(threads, *th)
	}
	if err := cmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	return threads, nil
}

func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q is not a message uid", mail.ErrThreadNotFound, id)
	}
	return imap.UID(n), nil
}

// threadFromMessage parses a full RFC 5322 message into a thread.
func threadFromMessage(uid imap.UID, flags []imap.Flag, raw []byte) (*models.Thread, error) {
	r, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, err
	}
	defer r.Close()

	th := &models.Thread{
		ID:      strconv.FormatUint(uint64(uid), 10),
		Labels:  labelsFromFlags(flags),
		Headers: make(map[string]string),
	}
	if from, err := r.Header.Text("From"); err == nil {
		th.From = from
	} else {
		th.From = r.Header.Get("From")
	}
	if subject, err := r.Header.Subject(); err == nil {
		th.Subject = subject
	} else {
		th.Subject = r.Header.Get("Subject")
	}
	if id, err := r.Header.MessageID(); err == nil && id != "" {
		th.MessageID = "<" + id + ">"
	}
	if d, err := r.Header.Date(); err == nil {
		th.Date = d.UTC()
	}
	for _, h := range policyHeaders {
		if v := r.Header.Get(h); v != "" {
			th.Headers[h] = v
		}
	}

	th.BodyPlain = plainText(r)
	th.Snippet = snippet(th.BodyPlain)
	return th, nil
}

func plainText(r *gomail.Reader) string {
	for {
		part, err := r.NextPart()
		if err == io.EOF {
			return ""
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return ""
		}
		h, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		if ct != "" && !strings.HasPrefix(ct, "text/plain") {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(body))
	}
}

func snippet(body string) string {
	s := strings.Join(strings.Fields(body), " ")
	if utf8.RuneCountInString(s) <= snippetRunes {
		return s
	}
	return string([]rune(s)[:snippetRunes])
}

// labelFlag maps a label to an IMAP keyword. Keywords cannot contain spaces.
func labelFlag(label string) imap.Flag {
	return imap.Flag(strings.ReplaceAll(strings.TrimSpace(label), " ", "_"))
}

// labelsFromFlags returns the keyword flags as labels, skipping system flags.
func labelsFromFlags(flags []imap.Flag) []string {
	var labels []string
	for _, f := range flags {
		if f == "" || strings.HasPrefix(string(f), `\`) || strings.HasPrefix(string(f), "$") {
			continue
		}
		labels = append(labels, strings.ReplaceAll(string(f), "_", " "))
	}
	return labels
}
