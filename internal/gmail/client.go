package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/znz-systems/mailpilot/internal/compose"
	"github.com/znz-systems/mailpilot/internal/mail"
	"github.com/znz-systems/mailpilot/internal/models"
)

const defaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

// Headers copied onto models.Thread for the approval policy.
var policyHeaders = []string{"Auto-Submitted", "List-Id", "List-Unsubscribe", "Precedence", "Reply-To"}

var errNotFound = errors.New("gmail: not found")

// AccountSource yields the connected account.
type AccountSource interface {
	Require(ctx context.Context) (*models.Account, error)
}

// TokenProvider resolves a credential reference to a token source.
type TokenProvider interface {
	TokenSource(ctx context.Context, ref string) (oauth2.TokenSource, error)
}

// Client implements mail.Client and mail.ThreadLabeler for Gmail.
type Client struct {
	accounts AccountSource
	tokens   TokenProvider
	baseURL  string
	now      func() time.Time

	mu     sync.Mutex
	labels map[string]string // id -> name
}

func NewClient(accounts AccountSource, tokens TokenProvider) *Client {
	return &Client{
		accounts: accounts,
		tokens:   tokens,
		baseURL:  defaultBaseURL,
		now:      time.Now,
	}
}

func (c *Client) api(ctx context.Context) (*apiClient, error) {
	acct, err := c.accounts.Require(ctx)
	if err != nil {
		return nil, err
	}
	ts, err := c.tokens.TokenSource(ctx, acct.CredentialRef)
	if err != nil {
		return nil, err
	}
	return &apiClient{http: oauth2.NewClient(ctx, ts), baseURL: c.baseURL}, nil
}

func (c *Client) ListRecentThreads(ctx context.Context, limit int) ([]models.Thread, error) {
	api, err := c.api(ctx)
	if err != nil {
		return nil, err
	}

	var list struct {
		Threads []struct {
			ID string `json:"id"`
		} `json:"threads"`
	}
	q := url.Values{}
	q.Set("maxResults", strconv.Itoa(limit))
	q.Set("labelIds", "INBOX")
	if err := api.get(ctx, "/users/me/threads", q, &list); err != nil {
		return nil, fmt.Errorf("list gmail threads: %w", err)
	}

	threads := make([]models.Thread, 0, len(list.Threads))
	for _, t := range list.Threads {
		th, err := c.fetchThread(ctx, api, t.ID, "metadata")
		if err != nil {
			if errors.Is(err, mail.ErrThreadNotFound) {
				continue
			}
			return nil, err
		}
		threads = append(threads, *th)
	}
	sort.SliceStable(threads, func(i, j int) bool { return threads[i].Date.After(threads[j].Date) })
	return threads, nil
}

func (c *Client) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	api, err := c.api(ctx)
	if err != nil {
		return nil, err
	}
	return c.fetchThread(ctx, api, id, "full")
}

func (c *Client) fetchThread(ctx context.Context, api *apiClient, id, format string) (*models.Thread, error) {
	q := url.Values{}
	q.Set("format", format)
	if format == "metadata" {
		for _, h := range append([]string{"Subject", "From", "Date", "Message-ID"}, policyHeaders...) {
			q.Add("metadataHeaders", h)
		}
	}

	var t gmailThread
	if err := api.get(ctx, "/users/me/threads/"+url.PathEscape(id), q, &t); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, mail.ErrThreadNotFound
		}
		return nil, fmt.Errorf("get gmail thread %s: %w", id, err)
	}
	if len(t.Messages) == 0 {
		return nil, mail.ErrThreadNotFound
	}

	names, err := c.labelNames(ctx, api)
	if err != nil {
		slog.WarnContext(ctx, "resolving gmail labels failed", "error", err)
	}
	return threadFromGmail(&t, names), nil
}

func (c *Client) SendMessage(ctx context.Context, account *models.Account, threadID string, msg models.OutboundMessage) error {
	raw, err := compose.Render(msg, c.now())
	if err != nil {
		return fmt.Errorf("render message: %w", err)
	}
	api, err := c.api(ctx)
	if err != nil {
		return err
	}

	req := struct {
		Raw      string `json:"raw"`
		ThreadID string `json:"threadId,omitempty"`
	}{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadID: threadID,
	}
	var sent struct {
		ID string `json:"id"`
	}
	if err := api.post(ctx, "/users/me/messages/send", req, &sent); err != nil {
		return fmt.Errorf("gmail send for %s: %w", account.Email, err)
	}
	slog.InfoContext(ctx, "gmail message sent", "thread_id", threadID, "message_id", sent.ID)
	return nil
}

// LabelThread adds label to the thread, creating the label on first use.
func (c *Client) LabelThread(ctx context.Context, threadID, label string) error {
	api, err := c.api(ctx)
	if err != nil {
		return err
	}
	id, err := c.ensureLabel(ctx, api, label)
	if err != nil {
		return err
	}
	body := map[string][]string{"addLabelIds": {id}}
	if err := api.post(ctx, "/users/me/threads/"+url.PathEscape(threadID)+"/modify", body, nil); err != nil {
		return fmt.Errorf("label thread %s: %w", threadID, err)
	}
	return nil
}

func (c *Client) labelNames(ctx context.Context, api *apiClient) (map[string]string, error) {
	c.mu.Lock()
	cached := c.labels
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	var resp struct {
		Labels []gmailLabel `json:"labels"`
	}
	if err := api.get(ctx, "/users/me/labels", nil, &resp); err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	names := make(map[string]string, len(resp.Labels))
	for _, l := range resp.Labels {
		names[l.ID] = l.Name
	}

	c.mu.Lock()
	c.labels = names
	c.mu.Unlock()
	return names, nil
}

func (c *Client) ensureLabel(ctx context.Context, api *apiClient, name string) (string, error) {
	names, err := c.labelNames(ctx, api)
	if err != nil {
		return "", err
	}
	for id, n := range names {
		if n == name {
			return id, nil
		}
	}

	var created gmailLabel
	req := map[string]string{
		"name":                  name,
		"labelListVisibility":   "labelShow",
		"messageListVisibility": "show",
	}
	if err := api.post(ctx, "/users/me/labels", req, &created); err != nil {
		return "", fmt.Errorf("create label %q: %w", name, err)
	}

	c.mu.Lock()
	if c.labels != nil {
		c.labels[created.ID] = created.Name
	}
	c.mu.Unlock()
	return created.ID, nil
}

// --- Gmail wire types ---

type gmailLabel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type gmailThread struct {
	ID       string         `json:"id"`
	Snippet  string         `json:"snippet"`
	Messages []gmailMessage `json:"messages"`
}

type gmailMessage struct {
	ID           string       `json:"id"`
	ThreadID     string       `json:"threadId"`
	LabelIDs     []string     `json:"labelIds"`
	Snippet      string       `json:"snippet"`
	InternalDate string       `json:"internalDate"`
	Payload      gmailPayload `json:"payload"`
}

type gmailPayload struct {
	MimeType string         `json:"mimeType"`
	Headers  []gmailHeader  `json:"headers"`
	Body     gmailBody      `json:"body"`
	Parts    []gmailPayload `json:"parts"`
}

type gmailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type gmailBody struct {
	Size int    `json:"size"`
	Data string `json:"data"`
}

// threadFromGmail describes the thread by its latest message. Labels are the
// union over all messages, resolved to names where known.
func threadFromGmail(t *gmailThread, labelNames map[string]string) *models.Thread {
	last := t.Messages[len(t.Messages)-1]

	th := &models.Thread{
		ID:        t.ID,
		Snippet:   last.Snippet,
		MessageID: header(last.Payload.Headers, "Message-ID"),
		Subject:   header(last.Payload.Headers, "Subject"),
		From:      header(last.Payload.Headers, "From"),
		BodyPlain: plainText(&last.Payload),
		Headers:   make(map[string]string),
	}
	if ms, err := strconv.ParseInt(last.InternalDate, 10, 64); err == nil {
		th.Date = time.UnixMilli(ms).UTC()
	}
	for _, h := range policyHeaders {
		if v := header(last.Payload.Headers, h); v != "" {
			th.Headers[h] = v
		}
	}

	seen := make(map[string]bool)
	for _, m := range t.Messages {
		for _, id := range m.LabelIDs {
			name := id
			if n, ok := labelNames[id]; ok {
				name = n
			}
			if !seen[name] {
				seen[name] = true
				th.Labels = append(th.Labels, name)
			}
		}
	}
	return th
}

func header(headers []gmailHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// plainText returns the first text/plain part, depth first.
func plainText(p *gmailPayload) string {
	if strings.HasPrefix(p.MimeType, "text/plain") && p.Body.Data != "" {
		data, err := decodeBase64URL(p.Body.Data)
		if err == nil {
			return string(data)
		}
	}
	for i := range p.Parts {
		if s := plainText(&p.Parts[i]); s != "" {
			return s
		}
	}
	return ""
}

func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// --- HTTP plumbing ---

type apiClient struct {
	http    *http.Client
	baseURL string
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *apiClient) get(ctx context.Context, path string, q url.Values, out any) error {
	target := a.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return a.do(req, out)
}

func (a *apiClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, out)
}

func (a *apiClient) do(req *http.Request, out any) error {
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("gmail api error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("gmail api error (%d): %s", resp.StatusCode, string(body))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
