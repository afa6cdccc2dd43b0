package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

var (
	smtpSendMail    = smtp.SendMail
	smtpSendMailTLS = smtp.SendMailTLS
)

// SMTPClient submits pre-rendered RFC 5322 messages to a relay.
type SMTPClient struct {
	host string
	port int
	user string
	pass string
}

// NewSMTPClient creates a new SMTPClient. Port 465 uses implicit TLS; any
// other port upgrades with STARTTLS when the server offers it.
func NewSMTPClient(host string, port int, user, pass string) *SMTPClient {
	return &SMTPClient{
		host: host,
		port: port,
		user: user,
		pass: pass,
	}
}

func (c *SMTPClient) auth() (sasl.Client, error) {
	switch {
	case c.user == "" && c.pass == "":
		return nil, nil
	case c.user == "" || c.pass == "":
		return nil, errors.New("smtp: incomplete credentials, both user and pass are required")
	default:
		return sasl.NewPlainClient("", c.user, c.pass), nil
	}
}

// Send delivers raw to the recipients with from as the envelope sender.
func (c *SMTPClient) Send(ctx context.Context, from string, to []string, raw []byte) error {
	if len(to) == 0 {
		return errors.New("smtp: no recipients")
	}
	a, err := c.auth()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	send := smtpSendMail
	if c.port == 465 {
		send = smtpSendMailTLS
	}

	if err := send(addr, a, from, to, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("smtp: send to %v via %s: %w", to, addr, err)
	}

	slog.InfoContext(ctx, "smtp message submitted", "relay", addr, "recipients", len(to))
	return nil
}
