package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/okJiang/jira-test-reporter/internal/config"
	"github.com/okJiang/jira-test-reporter/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrTransitionNotFound = errors.New("transition not found")
)

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jira api error: %d %s", e.StatusCode, e.Message)
}

type Options struct {
	BaseURL   string
	User      string
	Token     string
	Timeout   time.Duration
	Fields    config.FieldMap
	Transport http.RoundTripper
}

// Client talks to the Jira REST API v2 with basic auth.
type Client struct {
	baseURL string
	user    string
	token   string
	fields  config.FieldMap
	http    *http.Client
}

func NewClient(opts Options) *Client {
	httpClient := &http.Client{Timeout: opts.Timeout}
	if opts.Transport != nil {
		httpClient.Transport = opts.Transport
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		user:    opts.User,
		token:   opts.Token,
		fields:  opts.Fields,
		http:    httpClient,
	}
}

func (c *Client) Search(ctx context.Context, jql string, maxResults int) ([]domain.IssueRef, error) {
	query := url.Values{}
	query.Set("jql", jql)
	query.Set("fields", "key")
	if maxResults > 0 {
		query.Set("maxResults", strconv.Itoa(maxResults))
	}
	var res struct {
		Issues []struct {
			ID  string `json:"id"`
			Key string `json:"key"`
		} `json:"issues"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/rest/api/2/search", query, nil, &res); err != nil {
		return nil, err
	}
	out := make([]domain.IssueRef, 0, len(res.Issues))
	for _, is := range res.Issues {
		out = append(out, domain.IssueRef{ID: is.ID, Key: is.Key})
	}
	return out, nil
}

func (c *Client) Create(ctx context.Context, fields domain.IssueFields) (domain.IssueRef, error) {
	payload := map[string]any{"fields": c.fieldsPayload(fields, true)}
	var res struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/rest/api/2/issue", nil, payload, &res); err != nil {
		return domain.IssueRef{}, err
	}
	if res.Key == "" {
		return domain.IssueRef{}, errors.New("jira create issue response has no key")
	}
	return domain.IssueRef{ID: res.ID, Key: res.Key}, nil
}

func (c *Client) Fetch(ctx context.Context, ref domain.IssueRef) (domain.TrackedIssue, error) {
	var res struct {
		ID     string                     `json:"id"`
		Key    string                     `json:"key"`
		Fields map[string]json.RawMessage `json:"fields"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/rest/api/2/issue/"+url.PathEscape(ref.Key), nil, nil, &res); err != nil {
		return domain.TrackedIssue{}, err
	}
	f := res.Fields
	m := c.fields
	// An unparseable stored status is treated as unknown.
	status, _ := domain.ParseStatus(optionValue(f[m.Status.ID]))
	return domain.TrackedIssue{
		Ref:            domain.IssueRef{ID: res.ID, Key: res.Key},
		WorkflowStatus: statusName(f["status"]),
		Fields: domain.IssueFields{
			Project:     projectKey(f["project"]),
			Summary:     stringValue(f["summary"]),
			IssueType:   nameValue(f["issuetype"]),
			Environment: optionValue(f[m.Environment.ID]),
			Area:        optionValue(f[m.Area.ID]),
			Types:       stringsValue(f[m.Type.ID]),
			RunLabel:    stringValue(f[m.RunLabel.ID]),
			Description: stringValue(f["description"]),
			Tags:        stringsValue(f[m.Tags.ID]),
			Status:      status,
			RunID:       stringValue(f[m.RunID.ID]),
		},
	}, nil
}

func (c *Client) Update(ctx context.Context, ref domain.IssueRef, fields domain.IssueFields) error {
	payload := map[string]any{"fields": c.fieldsPayload(fields, false)}
	return c.doJSON(ctx, http.MethodPut, "/rest/api/2/issue/"+url.PathEscape(ref.Key), nil, payload, nil)
}

// Transition moves the issue through the workflow transition leading to status.
func (c *Client) Transition(ctx context.Context, ref domain.IssueRef, status string) error {
	path := "/rest/api/2/issue/" + url.PathEscape(ref.Key) + "/transitions"
	var res struct {
		Transitions []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			To   struct {
				Name string `json:"name"`
			} `json:"to"`
		} `json:"transitions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &res); err != nil {
		return err
	}
	id := ""
	for _, t := range res.Transitions {
		if strings.EqualFold(t.To.Name, status) || strings.EqualFold(t.Name, status) {
			id = t.ID
			break
		}
	}
	if id == "" {
		return errors.Wrapf(ErrTransitionNotFound, "%s -> %s", ref.Key, status)
	}
	payload := map[string]any{"transition": map[string]string{"id": id}}
	return c.doJSON(ctx, http.MethodPost, path, nil, payload, nil)
}

func (c *Client) Comment(ctx context.Context, ref domain.IssueRef, body string) error {
	payload := map[string]any{"body": body}
	return c.doJSON(ctx, http.MethodPost, "/rest/api/2/issue/"+url.PathEscape(ref.Key)+"/comment", nil, payload, nil)
}

// CheckAuth verifies the credentials against /myself.
func (c *Client) CheckAuth(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/rest/api/2/myself", nil, nil, nil)
}

func (c *Client) fieldsPayload(f domain.IssueFields, create bool) map[string]any {
	m := c.fields
	out := map[string]any{
		"summary":        f.Summary,
		"description":    f.Description,
		m.Environment.ID: map[string]string{"value": f.Environment},
		m.Area.ID:        map[string]string{"value": f.Area},
		m.Type.ID:        nonNil(f.Types),
		m.RunLabel.ID:    f.RunLabel,
		m.Tags.ID:        nonNil(f.Tags),
		m.Status.ID:      map[string]string{"value": f.Status.String()},
		m.RunID.ID:       f.RunID,
	}
	if create {
		out["project"] = map[string]string{"key": f.Project}
		out["issuetype"] = map[string]string{"name": f.IssueType}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, payload any, out any) error {
	var payloadBytes []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		payloadBytes = b
	}

	respBody, status, err := c.do(ctx, method, path, query, payloadBytes)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return errors.Wrapf(ErrNotFound, "%s %s", method, path)
	}
	if status < 200 || status >= 300 {
		return &APIError{StatusCode: status, Message: string(respBody)}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// do sends one request. Only reads are retried, once, on throttling or gateway errors.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, int, error) {
	urlStr := c.baseURL + path
	if len(query) > 0 {
		urlStr = urlStr + "?" + query.Encode()
	}
	attempts := 1
	if method == http.MethodGet {
		attempts = 2
	}

	for attempt := 0; attempt < attempts; attempt++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
		if err != nil {
			return nil, 0, err
		}
		if c.user != "" || c.token != "" {
			req.SetBasicAuth(c.user, c.token)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, 0, err
		}
		b, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if retryable(resp.StatusCode) && attempt+1 < attempts {
			wait := retryAfter(resp)
			log.Debugf("jira %s %s returned %d, retrying in %s", method, path, resp.StatusCode, wait)
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		return b, resp.StatusCode, nil
	}
	return nil, 0, errors.New("jira request failed after retries")
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 2 * time.Second
}

func stringValue(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func stringsValue(raw json.RawMessage) []string {
	var s []string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return nil
	}
	return s
}

// optionValue reads a select field ({"value": ...}); plain strings are accepted too.
func optionValue(raw json.RawMessage) string {
	var opt struct {
		Value string `json:"value"`
	}
	if len(raw) == 0 {
		return ""
	}
	if json.Unmarshal(raw, &opt) == nil && opt.Value != "" {
		return opt.Value
	}
	return stringValue(raw)
}

func nameValue(raw json.RawMessage) string {
	var v struct {
		Name string `json:"name"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return ""
	}
	return v.Name
}

func statusName(raw json.RawMessage) string { return nameValue(raw) }

func projectKey(raw json.RawMessage) string {
	var v struct {
		Key string `json:"key"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return ""
	}
	return v.Key
}
