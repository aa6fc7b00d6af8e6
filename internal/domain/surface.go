package domain

import "context"

// FallbackTarget names the display slot that received a placeholder.
type FallbackTarget string

const (
	TargetLive       FallbackTarget = "live"
	TargetInspection FallbackTarget = "inspection"
)

// FallbackImage names a placeholder image.
type FallbackImage string

const (
	ImageNoCamera FallbackImage = "no_camera"
	ImageNoImage  FallbackImage = "no_image"
)

// Surface is where the station renders. Implementations must be safe for
// concurrent use: the streaming loop renders from its own goroutine.
type Surface interface {
	ShowFrame(ctx context.Context, frame Frame)
	ShowFallback(ctx context.Context, target FallbackTarget, image FallbackImage)
	ShowError(ctx context.Context, title, message string)
	ShowInspectionPending(ctx context.Context)
	ShowInspection(ctx context.Context, result InspectionResult)
	ShowInspectionFailed(ctx context.Context, message string)
	ShowPlayState(ctx context.Context, playing bool)
}

// ErrorReporter delivers an operator-visible error.
type ErrorReporter interface {
	ShowError(ctx context.Context, title, message string)
}
