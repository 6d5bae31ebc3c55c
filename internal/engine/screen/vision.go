package screen

import (
	"image"
	"image/draw"

	"github.com/ConserveLee/scroll-idle/internal/constants"
)

// VisionPort finds templates inside frames. Points and rectangles are
// offsets from the frame's bounds origin.
type VisionPort interface {
	// Match returns the top-left corner of every match whose similarity is at least threshold.
	Match(frame, template image.Image, threshold float64) []image.Point
	// MatchBest returns the best match if it clears the port's own floor.
	MatchBest(frame, template image.Image) (image.Rectangle, bool)
}

// Matcher is the pure-Go VisionPort. A pixel agrees with the template when
// the RGB distance is within Tolerance; similarity is the agreeing share of
// the template's opaque pixels. Transparent template pixels are wildcards.
type Matcher struct {
	Tolerance     float64
	BestThreshold float64
}

// NewMatcher creates a matcher with default tolerances
func NewMatcher() *Matcher {
	return &Matcher{
		Tolerance:     constants.DefaultTolerance,
		BestThreshold: 1 - constants.MaxFailRate,
	}
}

type rgbFrame struct {
	img *image.RGBA
	w   int
	h   int
}

func newRGBFrame(src image.Image) rgbFrame {
	b := src.Bounds()
	rgba, ok := src.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
	}
	return rgbFrame{img: rgba, w: b.Dx(), h: b.Dy()}
}

func (f rgbFrame) at(x, y int) (int, int, int) {
	i := f.img.PixOffset(x, y)
	p := f.img.Pix[i : i+3 : i+3]
	return int(p[0]), int(p[1]), int(p[2])
}

type tplPixel struct {
	x, y    int
	r, g, b int
}

type compiledTemplate struct {
	w, h   int
	pixels []tplPixel // opaque pixels only
	keys   []tplPixel // checked first for quick rejection
}

func compileTemplate(tpl image.Image) compiledTemplate {
	b := tpl.Bounds()
	ct := compiledTemplate{w: b.Dx(), h: b.Dy()}
	for y := 0; y < ct.h; y++ {
		for x := 0; x < ct.w; x++ {
			r, g, bl, a := tpl.At(b.Min.X+x, b.Min.Y+y).RGBA()
			if a>>8 == 0 {
				continue
			}
			ct.pixels = append(ct.pixels, tplPixel{x: x, y: y, r: int(r >> 8), g: int(g >> 8), b: int(bl >> 8)})
		}
	}
	if n := len(ct.pixels); n > 0 {
		// Top-left, center and bottom-right opaque pixels
		ct.keys = []tplPixel{ct.pixels[0], ct.pixels[n/2], ct.pixels[n-1]}
	}
	return ct
}

func (m *Matcher) similar(r1, g1, b1, r2, g2, b2 int) bool {
	dr, dg, db := r1-r2, g1-g2, b1-b2
	return float64(dr*dr+dg*dg+db*db) <= m.Tolerance*m.Tolerance
}

// failures counts disagreeing pixels at (sx, sy), giving up past limit.
func (m *Matcher) failures(f rgbFrame, ct compiledTemplate, sx, sy, limit int) int {
	failed := 0
	for _, k := range ct.keys {
		r, g, b := f.at(sx+k.x, sy+k.y)
		if !m.similar(r, g, b, k.r, k.g, k.b) {
			failed++
			if failed > limit {
				return failed
			}
		}
	}
	failed = 0
	for _, p := range ct.pixels {
		r, g, b := f.at(sx+p.x, sy+p.y)
		if !m.similar(r, g, b, p.r, p.g, p.b) {
			failed++
			if failed > limit {
				return failed
			}
		}
	}
	return failed
}

// Match implements VisionPort.
func (m *Matcher) Match(frame, template image.Image, threshold float64) []image.Point {
	ct := compileTemplate(template)
	if len(ct.pixels) == 0 {
		return nil
	}
	f := newRGBFrame(frame)
	if f.w < ct.w || f.h < ct.h {
		return nil
	}
	limit := int((1 - threshold) * float64(len(ct.pixels)))

	var matches []image.Point
	for y := 0; y <= f.h-ct.h; y++ {
		for x := 0; x <= f.w-ct.w; x++ {
			if m.failures(f, ct, x, y, limit) > limit {
				continue
			}
			matches = append(matches, image.Point{X: x, Y: y})
			x += ct.w / 2
		}
	}
	return matches
}

// MatchBest implements VisionPort.
func (m *Matcher) MatchBest(frame, template image.Image) (image.Rectangle, bool) {
	ct := compileTemplate(template)
	if len(ct.pixels) == 0 {
		return image.Rectangle{}, false
	}
	f := newRGBFrame(frame)
	if f.w < ct.w || f.h < ct.h {
		return image.Rectangle{}, false
	}
	limit := int((1 - m.BestThreshold) * float64(len(ct.pixels)))

	best, found := limit+1, false
	var at image.Point
	for y := 0; y <= f.h-ct.h; y++ {
		for x := 0; x <= f.w-ct.w; x++ {
			n := m.failures(f, ct, x, y, best-1)
			if n < best {
				best, found = n, true
				at = image.Point{X: x, Y: y}
				if n == 0 {
					return image.Rectangle{Min: at, Max: at.Add(image.Pt(ct.w, ct.h))}, true
				}
			}
		}
	}
	if !found {
		return image.Rectangle{}, false
	}
	return image.Rectangle{Min: at, Max: at.Add(image.Pt(ct.w, ct.h))}, true
}

// Crop returns the part of img inside r, where r is relative to img's origin.
func Crop(img image.Image, r image.Rectangle) image.Image {
	b := img.Bounds()
	r = r.Add(b.Min).Intersect(b)
	if s, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// GrayFraction returns the share of pixels whose luma satisfies pred.
func GrayFraction(img image.Image, pred func(gray uint8) bool) float64 {
	f := newRGBFrame(img)
	total := f.w * f.h
	if total == 0 {
		return 0
	}
	hits := 0
	for y := 0; y < f.h; y++ {
		for x := 0; x < f.w; x++ {
			r, g, b := f.at(x, y)
			gray := (299*r + 587*g + 114*b + 500) / 1000
			if pred(uint8(gray)) {
				hits++
			}
		}
	}
	return float64(hits) / float64(total)
}
