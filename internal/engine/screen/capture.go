package screen

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// Capturer grabs frames from a display.
type Capturer struct {
	DisplayIndex int
}

// NewCapturer creates a capturer for the main display
func NewCapturer() *Capturer {
	return &Capturer{
		DisplayIndex: 0, // Default to main display
	}
}

// SetDisplayID sets the target display index for capturing
func (c *Capturer) SetDisplayID(index int) {
	c.DisplayIndex = index
}

// CaptureScreen returns the whole selected display
func (c *Capturer) CaptureScreen() (image.Image, error) {
	// kbinani/screenshot handles multi-monitor bounds correctly
	bounds := screenshot.GetDisplayBounds(c.DisplayIndex)
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("capture display %d: %w", c.DisplayIndex, err)
	}
	return img, nil
}

// Grab captures a rectangle in global screen coordinates.
func (c *Capturer) Grab(region image.Rectangle) (image.Image, error) {
	if region.Empty() {
		return nil, fmt.Errorf("capture: empty region %v", region)
	}
	img, err := screenshot.CaptureRect(region)
	if err != nil {
		return nil, fmt.Errorf("capture %v: %w", region, err)
	}
	return img, nil
}

// Display describes one attached monitor.
type Display struct {
	Index  int
	Bounds image.Rectangle
}

func (d Display) String() string {
	return fmt.Sprintf("Display %d (%dx%d)", d.Index, d.Bounds.Dx(), d.Bounds.Dy())
}

// Displays lists active displays, falling back to a single default entry.
func Displays() []Display {
	n := screenshot.NumActiveDisplays()
	out := make([]Display, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Display{Index: i, Bounds: screenshot.GetDisplayBounds(i)})
	}
	if len(out) == 0 {
		out = append(out, Display{Index: 0})
	}
	return out
}
