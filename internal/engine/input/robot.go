package input

import (
	"fmt"
	"image"

	"github.com/go-vgo/robotgo"
)

// Robot drives the real keyboard and mouse through robotgo.
type Robot struct {
	// Display offset added to mouse coordinates
	OffsetX int
	OffsetY int
}

// NewRobot creates a driver for display id.
func NewRobot(display int) *Robot {
	x, y, _, _ := robotgo.GetDisplayBounds(display)
	return &Robot{OffsetX: x, OffsetY: y}
}

func (r *Robot) KeyDown(key string) error {
	return robotgo.KeyToggle(key, "down")
}

func (r *Robot) KeyUp(key string) error {
	return robotgo.KeyToggle(key, "up")
}

func (r *Robot) KeyTap(key string) error {
	return robotgo.KeyTap(key)
}

func (r *Robot) MouseMove(x, y int) error {
	robotgo.Move(x+r.OffsetX, y+r.OffsetY)
	return nil
}

func (r *Robot) MouseClick(button string) error {
	robotgo.Click(button)
	return nil
}

func (r *Robot) TypeText(text string) error {
	robotgo.TypeStr(text)
	return nil
}

// Windows finds windows by process name through robotgo.
type Windows struct{}

// FindWindow returns the bounds of the first process window whose name matches title.
func (Windows) FindWindow(title string) (image.Rectangle, bool) {
	ids, err := robotgo.FindIds(title)
	if err != nil || len(ids) == 0 {
		return image.Rectangle{}, false
	}
	for _, pid := range ids {
		x, y, w, h := robotgo.GetBounds(pid)
		if w > 0 && h > 0 {
			return image.Rect(x, y, x+w, y+h), true
		}
	}
	return image.Rectangle{}, false
}

// FixedWindow always reports the same rectangle. Used for full-screen
// clients and offline debugging.
type FixedWindow image.Rectangle

func (f FixedWindow) FindWindow(string) (image.Rectangle, bool) {
	r := image.Rectangle(f)
	return r, !r.Empty()
}

func (f FixedWindow) String() string {
	return fmt.Sprintf("fixed %v", image.Rectangle(f))
}
