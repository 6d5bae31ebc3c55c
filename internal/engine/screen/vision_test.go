package screen

import (
	"image"
	"image/color"
	"testing"
)

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// marker draws a 4x4 yellow square with a red center pixel.
func marker() *image.RGBA {
	m := image.NewRGBA(image.Rect(0, 0, 4, 4))
	fill(m, m.Bounds(), color.RGBA{255, 221, 68, 255})
	m.SetRGBA(1, 1, color.RGBA{255, 0, 0, 255})
	return m
}

func frameWith(w, h int, at ...image.Point) *image.RGBA {
	f := image.NewRGBA(image.Rect(0, 0, w, h))
	fill(f, f.Bounds(), color.RGBA{20, 20, 40, 255})
	for _, p := range at {
		mk := marker()
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				f.Set(p.X+x, p.Y+y, mk.At(x, y))
			}
		}
	}
	return f
}

func TestMatchFindsAllOccurrences(t *testing.T) {
	m := NewMatcher()
	f := frameWith(40, 20, image.Pt(3, 5), image.Pt(25, 10))

	got := m.Match(f, marker(), 0.9)
	if len(got) != 2 || got[0] != image.Pt(3, 5) || got[1] != image.Pt(25, 10) {
		t.Fatalf("matches = %v", got)
	}
}

func TestMatchTransparentPixelsAreWildcards(t *testing.T) {
	m := NewMatcher()
	tpl := marker()
	tpl.SetRGBA(0, 0, color.RGBA{})
	f := frameWith(20, 20, image.Pt(8, 8))
	f.SetRGBA(8, 8, color.RGBA{0, 255, 0, 255})

	if got := m.Match(f, tpl, 1); len(got) != 1 {
		t.Fatalf("matches = %v", got)
	}
}

func TestMatchOffsetsAreRelativeToSubImage(t *testing.T) {
	m := NewMatcher()
	f := frameWith(40, 40, image.Pt(22, 21))
	sub := Crop(f, image.Rect(20, 20, 40, 40))

	got := m.Match(sub, marker(), 0.9)
	if len(got) != 1 || got[0] != image.Pt(2, 1) {
		t.Fatalf("matches = %v", got)
	}
}

func TestMatchBest(t *testing.T) {
	m := NewMatcher()
	f := frameWith(30, 30, image.Pt(11, 7))

	r, ok := m.MatchBest(f, marker())
	if !ok || r != image.Rect(11, 7, 15, 11) {
		t.Fatalf("best = %v %v", r, ok)
	}
	if _, ok := m.MatchBest(frameWith(30, 30), marker()); ok {
		t.Fatalf("best match on empty frame")
	}
}

func TestGrayFraction(t *testing.T) {
	f := image.NewRGBA(image.Rect(0, 0, 10, 10))
	fill(f, image.Rect(0, 0, 10, 5), color.RGBA{255, 255, 255, 255})
	got := GrayFraction(f, func(g uint8) bool { return g == 255 })
	if got != 0.5 {
		t.Fatalf("fraction = %v", got)
	}
}
