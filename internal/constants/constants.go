package constants

import "time"

// Loop cadence
const (
	LocateInterval      = 1 * time.Millisecond   // Localizer polling interval
	RecalibrateInterval = 5 * time.Second        // Fixed auto-recalibration timer
	MonitorInterval     = 50 * time.Millisecond  // Anomaly checks
	IdleInterval        = 100 * time.Millisecond // Interpreter wait while paused or empty
	StopOnLostDelay     = 2 * time.Second        // Wait before pausing after the player marker goes missing
)

// Minimap calibration (pixel offsets from the anchor templates)
const (
	MinimapTopBorder    = 5
	MinimapBottomBorder = 9
	MinimapRightPad     = 6  // Added to the bottom-right anchor's x
	MinimapBottomLift   = 25 // Subtracted from the bottom-right anchor's y
	MarkerFacingOffset  = 2  // Horizontal correction for left/right facing markers
	PlayerThreshold     = 0.8
	AnchorThreshold     = 0.9
)

// Layout
const (
	LayoutMergeRadius  = 0.01 // Nodes closer than this are the same node
	LayoutLinkDistance = 0.25 // Max distance for an observed transition to become an edge
	LayoutSnapRadius   = 0.1  // Max distance from a query point to its entry node
)

// Movement defaults (normalized minimap units)
const (
	DefaultMoveTolerance   = 0.075
	DefaultAdjustTolerance = 0.01
	MoveMaxSteps           = 15
	MoveStepPause          = 150 * time.Millisecond
	AdjustStepPause        = 50 * time.Millisecond
)

// Command timing defaults
const (
	DefaultBackswing = 500 * time.Millisecond
)

// Anomaly monitor
const (
	NoticeInterval       = 30 * time.Second
	DefaultNoticeLevel   = 3
	NoMovementThreshold  = 30 * time.Second
	LostDwellThreshold   = 2 * time.Second
	BlackPixelLevel      = 15  // Gray value under which a pixel counts as black
	BlackScreenFraction  = 0.9 // Fraction of black pixels for a black screen
	WhiteRoomFraction    = 0.2 // Fraction of pure white pixels while the player is lost
	IntruderComingAfter  = 10 * time.Second
	IntruderStayAfter    = 20 * time.Second
	IntruderLongAfter    = 35 * time.Second
	IntruderLeftAfter    = 7500 * time.Millisecond
	PuzzleMaxAttempts    = 3
	PuzzleRetryDelay     = 8 * time.Second
	TombstoneRegionWidth = 450
	TombstoneRegionHigh  = 200
)

// Binding skull, relative to the character sprite's top-left corner
const (
	SkullOffsetX   = 25
	SkullOffsetY   = -140
	SkullRegion    = 40
	UnbindTaps     = 4  // left/right pairs per round
	UnbindMaxRound = 15 // rounds before giving up
)

// Image Matching
const (
	DefaultTolerance = 60   // Color tolerance for pixel comparison
	MaxFailRate      = 0.03 // Allow up to 3% of pixels to fail matching
)
