package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mcpdash/internal/api"
	"mcpdash/pkg/logging"
)

// RESTClient talks to the process manager's HTTP facade. Every call honors
// its context, and backend rejections surface their response body message
// verbatim through BackendError.
type RESTClient struct {
	baseURL string
	client  *http.Client
}

// NewRESTClient creates a client for the given base URL. A zero timeout
// falls back to 10 seconds.
func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// errorBody is the backend's rejection payload.
type errorBody struct {
	Error string `json:"error"`
}

// invokeResponse is the backend's tool invocation payload.
type invokeResponse struct {
	Result string `json:"result"`
}

// FetchStatus returns the current lifecycle status of a target.
func (c *RESTClient) FetchStatus(ctx context.Context, targetID string) (api.TargetStatus, error) {
	var status api.TargetStatus
	err := c.do(ctx, http.MethodGet, c.targetPath(targetID, "status"), nil, &status, "status", targetID)
	if err != nil {
		return api.TargetStatus{}, err
	}
	if status.TargetID == "" {
		status.TargetID = targetID
	}
	return status, nil
}

// UpdateEnv submits an environment diff for a target.
func (c *RESTClient) UpdateEnv(ctx context.Context, targetID string, diff api.EnvDiff) error {
	return c.do(ctx, http.MethodPut, c.targetPath(targetID, "env"), diff, nil, "update-env", targetID)
}

// ListCapabilities returns the tools the target currently exposes.
func (c *RESTClient) ListCapabilities(ctx context.Context, targetID string) ([]api.Capability, error) {
	var capabilities []api.Capability
	err := c.do(ctx, http.MethodGet, c.targetPath(targetID, "tools"), nil, &capabilities, "list-tools", targetID)
	if err != nil {
		return nil, err
	}
	return capabilities, nil
}

// InvokeCapability calls one tool on a target and returns its raw result
// payload.
func (c *RESTClient) InvokeCapability(ctx context.Context, targetID, capability string, args map[string]interface{}) (string, error) {
	path := c.targetPath(targetID, "tools") + "/" + url.PathEscape(capability) + "/invoke"
	if args == nil {
		args = map[string]interface{}{}
	}
	var resp invokeResponse
	if err := c.do(ctx, http.MethodPost, path, args, &resp, "invoke", targetID); err != nil {
		return "", err
	}
	return resp.Result, nil
}

// ControlAction requests a start, stop, or restart.
func (c *RESTClient) ControlAction(ctx context.Context, targetID string, verb api.ControlVerb) error {
	path := c.targetPath(targetID, "actions") + "/" + url.PathEscape(string(verb))
	return c.do(ctx, http.MethodPost, path, nil, nil, string(verb), targetID)
}

func (c *RESTClient) targetPath(targetID, suffix string) string {
	return c.baseURL + "/targets/" + url.PathEscape(targetID) + "/" + suffix
}

// do performs one request/response round trip. A non-2xx response becomes a
// BackendError carrying the body's error message unmodified.
func (c *RESTClient) do(ctx context.Context, method, requestURL string, body, out interface{}, op, targetID string) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logging.Debug("RESTClient", "%s %s", method, requestURL)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s for %s failed: %w", op, targetID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &api.BackendError{Op: op, TargetID: targetID, Message: rejectionMessage(raw, resp.StatusCode)}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", op, err)
		}
	}
	return nil
}

// rejectionMessage extracts the backend's own wording from a rejection body.
func rejectionMessage(raw []byte, statusCode int) string {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return http.StatusText(statusCode)
}
