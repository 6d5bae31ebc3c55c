//go:build gocv

package screen

import (
	"image"

	"gocv.io/x/gocv"
)

func init() {
	backends["gocv"] = func() VisionPort { return NewCVMatcher() }
}

// CVMatcher is a VisionPort backed by OpenCV normalized cross-correlation.
// Build with -tags gocv.
type CVMatcher struct {
	BestThreshold float32
}

// NewCVMatcher creates an OpenCV matcher
func NewCVMatcher() *CVMatcher {
	return &CVMatcher{BestThreshold: 0.9}
}

func grayMat(img image.Image) (gocv.Mat, error) {
	rgb, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer rgb.Close()
	gray := gocv.NewMat()
	gocv.CvtColor(rgb, &gray, gocv.ColorRGBToGray)
	return gray, nil
}

func (m *CVMatcher) scores(frame, template image.Image) (gocv.Mat, bool) {
	result := gocv.NewMat()
	f, err := grayMat(frame)
	if err != nil {
		return result, false
	}
	defer f.Close()
	t, err := grayMat(template)
	if err != nil {
		return result, false
	}
	defer t.Close()
	if f.Cols() < t.Cols() || f.Rows() < t.Rows() {
		return result, false
	}
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.MatchTemplate(f, t, &result, gocv.TmCcoeffNormed, mask)
	return result, true
}

// Match implements VisionPort.
func (m *CVMatcher) Match(frame, template image.Image, threshold float64) []image.Point {
	result, ok := m.scores(frame, template)
	defer result.Close()
	if !ok {
		return nil
	}
	tw := template.Bounds().Dx()
	var out []image.Point
	for y := 0; y < result.Rows(); y++ {
		for x := 0; x < result.Cols(); x++ {
			if float64(result.GetFloatAt(y, x)) >= threshold {
				out = append(out, image.Pt(x, y))
				x += tw / 2
			}
		}
	}
	return out
}

// MatchBest implements VisionPort.
func (m *CVMatcher) MatchBest(frame, template image.Image) (image.Rectangle, bool) {
	result, ok := m.scores(frame, template)
	defer result.Close()
	if !ok {
		return image.Rectangle{}, false
	}
	_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)
	if maxVal < m.BestThreshold {
		return image.Rectangle{}, false
	}
	b := template.Bounds()
	return image.Rectangle{Min: maxLoc, Max: maxLoc.Add(image.Pt(b.Dx(), b.Dy()))}, true
}
