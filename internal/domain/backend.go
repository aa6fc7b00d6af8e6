package domain

import (
	"context"
	"encoding/base64"
	"strings"
	"time"
)

// Backend is the detection engine capability. The station only depends on
// this interface; the concrete transport (subprocess + HTTP today) can change
// without touching the command gateway or the streaming loop.
type Backend interface {
	InitCamera(ctx context.Context) (CameraInit, error)
	Frame(ctx context.Context) (Frame, error)
	Process(ctx context.Context) (InspectionResult, error)
	SetPlayPause(ctx context.Context, playing bool) (Ack, error)
	CloseCamera(ctx context.Context) error
}

// CameraInit is the backend's answer to a camera init request.
type CameraInit struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Ack is a bare acknowledgement.
type Ack struct {
	Success bool `json:"success"`
}

// FrameStatus discriminates frame responses.
type FrameStatus string

const (
	FrameNormal   FrameStatus = "normal"
	FrameNoCamera FrameStatus = "nocamera"
	FrameNoFrame  FrameStatus = "noframe" // camera open, nothing captured yet
)

// Frame is a single camera frame. Image is the base64 JPEG exactly as the
// backend sent it; frames are never buffered, the latest one wins.
type Frame struct {
	Status     FrameStatus `json:"status"`
	Image      string      `json:"image,omitempty"`
	Seq        uint64      `json:"seq,omitempty"`
	ReceivedAt time.Time   `json:"received_at"`
}

// HasImage reports whether the frame carries renderable image data.
func (f Frame) HasImage() bool {
	return f.Status == FrameNormal && f.Image != ""
}

// Bytes decodes the image payload. Data-URL prefixes are tolerated.
func (f Frame) Bytes() ([]byte, error) {
	return DecodeImage(f.Image)
}

// DecodeImage decodes a base64 image, optionally wrapped as a data URL.
func DecodeImage(s string) ([]byte, error) {
	if i := strings.Index(s, ","); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}

// StatusOK is the overall inspection status for a label with no defects.
const StatusOK = "OK"

// Record is a single matched or defect entry of an inspection.
type Record struct {
	Item     string `json:"item"`
	Reason   string `json:"reason,omitempty"`
	DBValue  string `json:"db_value"`
	OCRValue string `json:"ocr_value"`
}

// InspectionResult is the outcome of one process-image call. It is rendered
// once and then discarded.
type InspectionResult struct {
	DetectionImage string   `json:"detection_image,omitempty"`
	Matched        []Record `json:"matched_results"`
	Defects        []Record `json:"defect_results"`
	Status         string   `json:"status"`
}

// OK reports whether the inspection passed.
func (r InspectionResult) OK() bool { return r.Status == StatusOK }
