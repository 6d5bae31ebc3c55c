package screen

import "fmt"

// backends maps a vision setting to its matcher. Builds tagged gocv add
// "gocv".
var backends = map[string]func() VisionPort{
	"rgb": func() VisionPort { return NewMatcher() },
}

// NewVision returns the matcher named by the vision setting. Empty means rgb.
func NewVision(name string) (VisionPort, error) {
	if name == "" {
		name = "rgb"
	}
	mk, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("vision %q is not available in this build", name)
	}
	return mk(), nil
}
