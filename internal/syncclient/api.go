// Package syncclient reconciles locally stored response records with the survey server.
package syncclient

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

	"go.uber.org/zap"

	"github.com/soaringjerry/Malasakit/internal/logging"
	"github.com/soaringjerry/Malasakit/internal/models"
	"github.com/soaringjerry/Malasakit/internal/record"
)

// DefaultTimeout bounds every request when no timeout is configured.
const DefaultTimeout = 5 * time.Second

const maxErrorBody = 512

// API is the server surface the sync client consumes.
type API interface {
	CreateRespondent(ctx context.Context, p models.RespondentPayload) (*models.RespondentAck, error)
	UpdateRespondent(ctx context.Context, id, token string, p models.RespondentPayload) (*models.RespondentAck, error)
	SubmitRespondent(ctx context.Context, id, token string, p models.RespondentPayload) (*models.RespondentAck, error)
}

// StatusError is a request the server answered and rejected (4xx).
type StatusError struct {
	Op      string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: server returned %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.Status, e.Message)
}

// HTTPAPI talks to the survey server over HTTP. Transport failures, timeouts and
// 5xx answers come back as *record.NetworkError.
type HTTPAPI struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	log     *zap.Logger
}

// NewHTTPAPI returns a client for the server at baseURL.
func NewHTTPAPI(baseURL string, timeout time.Duration, log *zap.Logger) *HTTPAPI {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     logging.OrNop(log).Named("api"),
	}
}

// CreateRespondent registers a record. The server is idempotent on client-id.
func (a *HTTPAPI) CreateRespondent(ctx context.Context, p models.RespondentPayload) (*models.RespondentAck, error) {
	var ack models.RespondentAck
	if err := a.do(ctx, "create respondent", http.MethodPost, "/api/respondents", "", p, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// UpdateRespondent pushes the current contents of a registered record.
func (a *HTTPAPI) UpdateRespondent(ctx context.Context, id, token string, p models.RespondentPayload) (*models.RespondentAck, error) {
	var ack models.RespondentAck
	path := "/api/respondents/" + url.PathEscape(id)
	if err := a.do(ctx, "update respondent", http.MethodPut, path, token, p, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// SubmitRespondent finalizes a registered record.
func (a *HTTPAPI) SubmitRespondent(ctx context.Context, id, token string, p models.RespondentPayload) (*models.RespondentAck, error) {
	var ack models.RespondentAck
	path := "/api/respondents/" + url.PathEscape(id) + "/submit"
	if err := a.do(ctx, "submit respondent", http.MethodPost, path, token, p, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// FetchResource downloads one reference resource.
func (a *HTTPAPI) FetchResource(ctx context.Context, name string) ([]byte, error) {
	op := "fetch " + name
	resp, err := a.send(ctx, op, http.MethodGet, "/api/"+url.PathEscape(name), "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &record.NetworkError{Op: op, Err: err}
	}
	return body, nil
}

func (a *HTTPAPI) do(ctx context.Context, op, method, path, token string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", op, err)
	}
	resp, err := a.send(ctx, op, method, path, token, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &record.NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (a *HTTPAPI) send(ctx context.Context, op, method, path, token string, body []byte) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		cancel()
		a.log.Debug("request failed", zap.String("op", op), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return nil, &record.NetworkError{Op: op, Err: err}
	}
	a.log.Debug("request done", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		serr := &StatusError{Op: op, Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
		if resp.StatusCode >= 500 {
			return nil, &record.NetworkError{Op: op, Err: serr}
		}
		return nil, serr
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the request context once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// IsStatus reports whether err is a StatusError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var serr *StatusError
	return errors.As(err, &serr) && serr.Status == status
}
