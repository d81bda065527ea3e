// Package api is the Resource Client: authenticated request/response calls
// against the platform REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ctf-platform/ctf/internal/logger"
	"github.com/ctf-platform/ctf/internal/model"
	"github.com/ctf-platform/ctf/internal/session"
)

const maxErrorBody = 4096

// ResponseError is a non-success response from the platform.
type ResponseError struct {
	StatusCode int
	Status     string
	Body       string
	// Detail is the "detail" field of a JSON error body, when present.
	Detail string
}

func (e *ResponseError) Error() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Body != "":
		return e.Body
	default:
		return e.Status
	}
}

// Is lets callers match status classes with errors.Is.
func (e *ResponseError) Is(target error) bool {
	switch target {
	case model.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case model.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// Client talks to the platform REST API on behalf of one session context.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *session.Context
	logger     *logger.Logger
}

// NewClient creates a Resource Client. The session context is shared with the
// terminal bridge; the client never stores the token itself.
func NewClient(baseURL string, sc *session.Context, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		session: sc,
		logger:  log.WithFields(zap.String("component", "api-client")),
	}
}

// Health checks that the platform answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, false)
}

// Login exchanges credentials for an identity token and stores it in the session context.
func (c *Client) Login(ctx context.Context, username, password string) (*model.TokenResponse, error) {
	return c.authenticate(ctx, "/api/login", username, password)
}

// Register creates an account and stores the returned identity token.
func (c *Client) Register(ctx context.Context, username, password string) (*model.TokenResponse, error) {
	return c.authenticate(ctx, "/api/register", username, password)
}

func (c *Client) authenticate(ctx context.Context, path, username, password string) (*model.TokenResponse, error) {
	creds := &model.Credentials{Username: username, Password: password}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	var resp model.TokenResponse
	if err := c.do(ctx, http.MethodPost, path, creds, &resp, false); err != nil {
		return nil, err
	}
	if err := c.session.SetToken(ctx, resp.AccessToken); err != nil {
		return nil, fmt.Errorf("failed to store identity: %w", err)
	}
	return &resp, nil
}

// Logout forgets the identity locally. The platform keeps no session state.
func (c *Client) Logout(ctx context.Context) error {
	return c.session.Logout(ctx)
}

// ListChallenges returns the challenges available to the user.
func (c *Client) ListChallenges(ctx context.Context) ([]model.Challenge, error) {
	var challenges []model.Challenge
	if err := c.do(ctx, http.MethodGet, "/api/challenges", nil, &challenges, true); err != nil {
		return nil, err
	}
	return challenges, nil
}

// ListInstances returns the user's instances.
func (c *Client) ListInstances(ctx context.Context) ([]model.Instance, error) {
	var instances []model.Instance
	if err := c.do(ctx, http.MethodGet, "/api/instances", nil, &instances, true); err != nil {
		return nil, err
	}
	return instances, nil
}

// StartInstance starts an instance of a challenge.
func (c *Client) StartInstance(ctx context.Context, challengeID string) (*model.Instance, error) {
	req := &model.StartInstanceRequest{ChallengeID: challengeID}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var instance model.Instance
	if err := c.do(ctx, http.MethodPost, "/api/instances/start", req, &instance, true); err != nil {
		return nil, err
	}
	return &instance, nil
}

// StopInstance stops one of the user's instances.
func (c *Client) StopInstance(ctx context.Context, instanceID string) error {
	if instanceID == "" {
		return fmt.Errorf("%w: instance id is required", model.ErrMissingContext)
	}
	path := "/api/instances/stop?instance_id=" + queryEscape(instanceID)
	return c.do(ctx, http.MethodPost, path, nil, nil, true)
}

// SubmitFlag submits a flag for a challenge.
func (c *Client) SubmitFlag(ctx context.Context, challengeID, flag string) (*model.SubmissionResult, error) {
	body := &model.FlagSubmission{ChallengeID: challengeID, Flag: flag}

	var result model.SubmissionResult
	if err := c.do(ctx, http.MethodPost, "/api/submit", body, &result, true); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetPublicKey registers an SSH public key (authorized_keys line) for the user.
func (c *Client) SetPublicKey(ctx context.Context, publicKey string) error {
	body := &model.PublicKeyRequest{PublicKey: publicKey}
	return c.do(ctx, http.MethodPost, "/api/profile/key", body, nil, true)
}

// do performs one request. Privileged calls without a usable token fail with
// model.ErrMissingContext before anything is sent.
func (c *Client) do(ctx context.Context, method, path string, in, out any, privileged bool) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if privileged {
		token, err := c.session.Require()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newResponseError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

func newResponseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	re := &ResponseError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(data)),
	}
	if re.Status == "" {
		re.Status = http.StatusText(resp.StatusCode)
	}

	var detail struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(data, &detail) == nil && len(detail.Detail) > 0 {
		var s string
		if json.Unmarshal(detail.Detail, &s) == nil {
			re.Detail = s
		} else {
			re.Detail = string(detail.Detail)
		}
	}
	return re
}

// IsResponseError reports whether err is a platform response error and returns it.
func IsResponseError(err error) (*ResponseError, bool) {
	var re *ResponseError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
