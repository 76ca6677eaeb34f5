// Package bridgeclient is the HTTP client the Agent's lifecycle hooks use to
// reach the bridge's hook surface. Every method is fail-soft: callers treat
// errors as "bridge unavailable" and let the Agent continue, so nothing here
// panics or retries forever.
package bridgeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/common/logger"
)

const (
	// DefaultBaseURL is where a locally run bridge listens.
	DefaultBaseURL = "http://127.0.0.1:8765"

	// requestTimeout caps ordinary control-plane calls.
	requestTimeout = 10 * time.Second
	// probeTimeout caps non-blocking reads and thinking pings.
	probeTimeout = 5 * time.Second
	// availableTimeout keeps the reachability probe from stalling a hook.
	availableTimeout = 300 * time.Millisecond
	// allowlistTimeout keeps the stored-rule fast path fast.
	allowlistTimeout = 500 * time.Millisecond
	// waitBuffer is added on top of the bridge-side wait timeout so a served
	// timeout reply beats a client-side transport deadline.
	waitBuffer = 5 * time.Second
	// defaultWaitTimeout applies when a caller passes no wait timeout.
	defaultWaitTimeout = 300 * time.Second

	retryInterval = 500 * time.Millisecond
	maxRetries    = 2
)

// errBadReply marks a 2xx response whose body did not parse. Retrying will
// not produce a different body.
var errBadReply = errors.New("unparseable bridge reply")

// apiError is a non-2xx reply from the bridge.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("bridge returned status %d: %s", e.status, e.body)
}

// Client talks to the bridge over HTTP with the shared hook secret.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	logger     *logger.Logger
}

// New creates a client for the bridge at baseURL. An empty baseURL falls back
// to DefaultBaseURL. Request deadlines are set per call, so the underlying
// HTTP client carries no global timeout.
func New(baseURL, secret string, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{},
		logger:     log.WithFields(zap.String("component", "bridge-client")),
	}
}

// Button is one inline choice presented alongside a notification.
type Button struct {
	Text     string `json:"text"`
	Callback string `json:"callback"`
}

// NotifyRequest is a message pushed to the bridge's surfaces. Permission
// notifications carry the tool fields so surfaces can render the call.
type NotifyRequest struct {
	SessionName string          `json:"session_name,omitempty"`
	Message     string          `json:"message"`
	Type        string          `json:"type,omitempty"`
	Buttons     []Button        `json:"buttons,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	ToolInput   json.RawMessage `json:"tool_input,omitempty"`
}

// SessionPatch updates session fields in place. Zero values are omitted from
// the wire payload, so a patch changes only what it names.
type SessionPatch struct {
	Status         string `json:"status,omitempty"`
	ClearPending   bool   `json:"clear_pending,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
}

// AllowlistDecision is the stored-rule verdict for a tool call.
type AllowlistDecision struct {
	Allowed  bool   `json:"allowed"`
	Denied   bool   `json:"denied"`
	Decision string `json:"decision"`
}

// waitReply is the shared shape of the blocking wait and the poll endpoints.
type waitReply struct {
	Response    *string `json:"response"`
	Timeout     bool    `json:"timeout"`
	HasResponse bool    `json:"has_response"`
	Cancelled   bool    `json:"cancelled"`
}

// Available reports whether the bridge is reachable and healthy. It makes a
// single fast attempt; any failure reads as "not available" so hooks can
// fail open without stalling the Agent.
func (c *Client) Available(ctx context.Context) bool {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.doOnce(ctx, http.MethodGet, "/health", nil, &out, availableTimeout); err != nil {
		return false
	}
	return out.Status == "healthy"
}

// RegisterSession announces a session to the bridge. Registering an existing
// session refreshes its name and project directory.
func (c *Client) RegisterSession(ctx context.Context, sessionID, projectDir, sessionName string) error {
	payload := map[string]string{
		"session_id":  sessionID,
		"project_dir": projectDir,
	}
	if sessionName != "" {
		payload["session_name"] = sessionName
	}
	return c.do(ctx, http.MethodPost, "/hooks/sessions/register", payload, nil, requestTimeout)
}

// PatchSession applies a partial update to a session.
func (c *Client) PatchSession(ctx context.Context, sessionID string, patch SessionPatch) error {
	return c.do(ctx, http.MethodPatch, "/hooks/sessions/"+url.PathEscape(sessionID), patch, nil, requestTimeout)
}

// UpdateStatus moves a session to the given lifecycle status.
func (c *Client) UpdateStatus(ctx context.Context, sessionID, status string) error {
	return c.PatchSession(ctx, sessionID, SessionPatch{Status: status})
}

// Notify pushes a message to the surfaces and returns the request ID the
// bridge minted for tracking the reply.
func (c *Client) Notify(ctx context.Context, sessionID string, req NotifyRequest, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = requestTimeout
	}
	var out struct {
		RequestID string `json:"request_id"`
	}
	path := "/hooks/sessions/" + url.PathEscape(sessionID) + "/notify"
	if err := c.do(ctx, http.MethodPost, path, req, &out, timeout); err != nil {
		return "", err
	}
	return out.RequestID, nil
}

// WaitForResponse blocks until a human answers the request, the bridge-side
// timeout elapses, or ctx is done. It returns the response and whether one
// arrived; a bridge-side timeout or cancellation is (empty, false, nil).
func (c *Client) WaitForResponse(ctx context.Context, sessionID, requestID string, timeout time.Duration) (string, bool, error) {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	payload := map[string]interface{}{
		"timeout": timeout.Seconds(),
	}
	if requestID != "" {
		payload["request_id"] = requestID
	}
	var out waitReply
	path := "/hooks/sessions/" + url.PathEscape(sessionID) + "/wait"
	if err := c.do(ctx, http.MethodPost, path, payload, &out, timeout+waitBuffer); err != nil {
		return "", false, err
	}
	if !out.HasResponse || out.Response == nil {
		return "", false, nil
	}
	return *out.Response, true, nil
}

// PollResponse checks for a parked response without blocking.
func (c *Client) PollResponse(ctx context.Context, sessionID, requestID string) (string, bool, error) {
	var out waitReply
	path := "/hooks/sessions/" + url.PathEscape(sessionID) + "/response/" + url.PathEscape(requestID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out, probeTimeout); err != nil {
		return "", false, err
	}
	if !out.HasResponse || out.Response == nil {
		return "", false, nil
	}
	return *out.Response, true, nil
}

// CLIThinking records the prompt the Agent started working on so the web UI
// can show the user turn and a thinking indicator.
func (c *Client) CLIThinking(ctx context.Context, sessionID, prompt string) error {
	payload := map[string]string{"prompt": prompt}
	path := "/hooks/sessions/" + url.PathEscape(sessionID) + "/cli-thinking"
	return c.do(ctx, http.MethodPost, path, payload, nil, probeTimeout)
}

// CheckAllowlist asks whether a stored rule already decides this tool call.
// It makes a single fast attempt and fails closed: on any error the zero
// decision sends the caller into the interactive permission flow.
func (c *Client) CheckAllowlist(ctx context.Context, sessionID, toolName string, toolInput json.RawMessage) AllowlistDecision {
	q := url.Values{}
	q.Set("tool_name", toolName)
	if len(toolInput) > 0 {
		q.Set("tool_input", string(toolInput))
	}
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	var out AllowlistDecision
	if err := c.doOnce(ctx, http.MethodGet, "/hooks/allowlist/check?"+q.Encode(), nil, &out, allowlistTimeout); err != nil {
		return AllowlistDecision{}
	}
	return out
}

// do sends a JSON request, retrying transport failures and 5xx replies with
// exponential backoff. 4xx replies and unparseable bodies are terminal.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}, timeout time.Duration) error {
	body, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bf := backoff.NewExponentialBackOff()
	bf.InitialInterval = retryInterval
	bf.Multiplier = 2
	bf.RandomizationFactor = 0

	op := func() error {
		err := c.send(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if isTerminal(err) {
			return backoff.Permanent(err)
		}
		c.logger.Debug("bridge request failed, retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return err
	}
	return backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(bf, ctx), maxRetries))
}

// doOnce sends a single attempt with no retry, for probes on a tight budget.
func (c *Client) doOnce(ctx context.Context, method, path string, payload, out interface{}, timeout time.Duration) error {
	body, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.send(ctx, method, path, body, out)
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("X-Bridge-Secret", c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := readResponseBody(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{status: resp.StatusCode, body: truncateBody(respBody)}
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%w (status %d, body: %s): %v", errBadReply, resp.StatusCode, truncateBody(respBody), err)
		}
	}
	return nil
}

// isTerminal reports errors a retry cannot fix.
func isTerminal(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.status < 500
	}
	return errors.Is(err, errBadReply)
}

func marshalPayload(payload interface{}) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return body, nil
}

func readResponseBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func truncateBody(body []byte) string {
	const maxLen = 200
	if len(body) > maxLen {
		return string(body[:maxLen]) + "..."
	}
	return string(body)
}
