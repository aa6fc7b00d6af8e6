// Package backend talks to the detection backend's HTTP API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"label-inspector/internal/domain"
	"label-inspector/internal/infra/config"
)

// Backend API paths, relative to the base URL.
const (
	pathCameraInit  = "camera/init"
	pathCameraFrame = "camera/frame"
	pathCameraClose = "camera/close"
	pathProcess     = "process"
	pathPlayPause   = "play/pause/frame"
)

// Frame status strings as sent by the backend.
const (
	wireFrameSuccess  = "success"
	wireFrameNoCamera = "nocamera"
	wireFrameNoFrame  = "noframe"
)

// Client implements domain.Backend over HTTP.
type Client struct {
	baseURL        string
	client         *http.Client
	requestTimeout time.Duration
	processTimeout time.Duration
	logger         *slog.Logger
	seq            atomic.Uint64
}

// NewClient creates a backend client from config.
func NewClient(cfg config.BackendConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		client:         &http.Client{Transport: newPooledTransport(0)},
		requestTimeout: cfg.RequestTimeout,
		processTimeout: cfg.ProcessTimeout,
		logger:         logger,
	}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Probe issues one frame request and reports only transport failures. Any
// HTTP answer means the backend is listening.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(pathCameraFrame), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	resp.Body.Close()
	return nil
}

type initResponse struct {
	Success successValue `json:"success"`
	Message string       `json:"message"`
}

// InitCamera implements domain.Backend.
func (c *Client) InitCamera(ctx context.Context) (domain.CameraInit, error) {
	var resp initResponse
	if err := c.do(ctx, http.MethodGet, pathCameraInit, nil, c.requestTimeout, &resp); err != nil {
		return domain.CameraInit{}, err
	}
	out := domain.CameraInit{Success: resp.Success.OK(), Message: resp.Message}
	if !out.Success {
		return out, rejected(pathCameraInit, resp.Message)
	}
	return out, nil
}

type frameResponse struct {
	Success successValue `json:"success"`
	Frame   string       `json:"frame"`
	Message string       `json:"message"`
}

// Frame implements domain.Backend.
func (c *Client) Frame(ctx context.Context) (domain.Frame, error) {
	var resp frameResponse
	if err := c.do(ctx, http.MethodGet, pathCameraFrame, nil, c.requestTimeout, &resp); err != nil {
		return domain.Frame{}, err
	}

	frame := domain.Frame{ReceivedAt: time.Now()}
	switch {
	case resp.Success.Text == wireFrameSuccess || (resp.Success.IsBool && resp.Success.Bool):
		frame.Status = domain.FrameNormal
		frame.Image = resp.Frame
		frame.Seq = c.seq.Add(1)
		if frame.Image == "" {
			return frame, malformed(pathCameraFrame, "frame missing from success response")
		}
	case resp.Success.Text == wireFrameNoCamera:
		frame.Status = domain.FrameNoCamera
	case resp.Success.Text == wireFrameNoFrame:
		frame.Status = domain.FrameNoFrame
	case resp.Success.IsBool:
		return frame, rejected(pathCameraFrame, resp.Message)
	default:
		return frame, malformed(pathCameraFrame, fmt.Sprintf("unknown frame status %q", resp.Success.Text))
	}
	return frame, nil
}

type processResponse struct {
	Success        successValue    `json:"success"`
	Message        string          `json:"message"`
	DetectionImage string          `json:"detection_image"`
	Matched        []domain.Record `json:"matched_results"`
	Defects        []domain.Record `json:"defect_results"`
	Status         string          `json:"status"`
}

// Process implements domain.Backend. It uses the longer process timeout.
func (c *Client) Process(ctx context.Context) (domain.InspectionResult, error) {
	var resp processResponse
	if err := c.do(ctx, http.MethodGet, pathProcess, nil, c.processTimeout, &resp); err != nil {
		return domain.InspectionResult{}, err
	}
	if !resp.Success.OK() {
		return domain.InspectionResult{}, rejected(pathProcess, resp.Message)
	}
	return domain.InspectionResult{
		DetectionImage: resp.DetectionImage,
		Matched:        resp.Matched,
		Defects:        resp.Defects,
		Status:         resp.Status,
	}, nil
}

type playPauseRequest struct {
	State bool `json:"state"`
}

type ackResponse struct {
	Success successValue `json:"success"`
	Message string       `json:"message"`
}

// SetPlayPause implements domain.Backend.
func (c *Client) SetPlayPause(ctx context.Context, playing bool) (domain.Ack, error) {
	var resp ackResponse
	if err := c.do(ctx, http.MethodPost, pathPlayPause, playPauseRequest{State: playing}, c.requestTimeout, &resp); err != nil {
		return domain.Ack{}, err
	}
	ack := domain.Ack{Success: resp.Success.OK()}
	if !ack.Success {
		return ack, rejected(pathPlayPause, resp.Message)
	}
	return ack, nil
}

// CloseCamera implements domain.Backend. The response body is ignored.
func (c *Client) CloseCamera(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, pathCameraClose, nil, c.requestTimeout, nil)
}

// do performs one request and decodes the JSON answer into out. A nil out
// discards the body.
func (c *Client) do(ctx context.Context, method, path string, body any, timeout time.Duration, out any) error {
	ctx, cancel := c.withTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return malformed(path, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, snippet(respBody)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return malformed(path, fmt.Sprintf("decode: %v", err))
	}

	c.logger.Debug("backend call", "method", method, "path", path, "status", resp.StatusCode, "bytes", len(respBody))
	return nil
}

func (c *Client) url(path string) string {
	return c.baseURL + "/" + path
}

func (c *Client) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func rejected(path, message string) error {
	return domain.NewSubSystemError("backend", path, domain.ErrBackendRejected, message)
}

func malformed(path, detail string) error {
	return domain.NewSubSystemError("backend", path, domain.ErrMalformedResponse, detail)
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// successValue decodes the backend's "success" field, which is a bool on
// most endpoints and a status string on camera/frame.
type successValue struct {
	Bool   bool
	IsBool bool
	Text   string
}

// OK reports a truthy success value.
func (v successValue) OK() bool {
	if v.IsBool {
		return v.Bool
	}
	switch strings.ToLower(v.Text) {
	case "true", "success", "ok":
		return true
	}
	return false
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *successValue) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true":
		*v = successValue{Bool: true, IsBool: true}
		return nil
	case "false":
		*v = successValue{IsBool: true}
		return nil
	case "null":
		*v = successValue{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("success: want bool or string, got %s", data)
	}
	*v = successValue{Text: s}
	return nil
}

var _ domain.Backend = (*Client)(nil)
