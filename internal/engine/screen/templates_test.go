package screen

import (
	"image"
	"path/filepath"
	"testing"
)

func TestLoadTemplatesScales(t *testing.T) {
	dir := t.TempDir()
	if err := SaveImage(filepath.Join(dir, "player.png"), marker()); err != nil {
		t.Fatalf("save: %v", err)
	}

	tpl, err := LoadTemplates(dir, 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	b := tpl["player"].Bounds()
	if b.Dx() != 8 || b.Dy() != 8 {
		t.Fatalf("scaled size = %v, want 8x8", b.Size())
	}
	// nearest neighbour keeps the marker exact at the new size
	if _, ok := NewMatcher().MatchBest(Scale(frameWith(30, 30, image.Pt(3, 3)), 2), tpl["player"]); !ok {
		t.Fatalf("scaled template does not match a scaled frame")
	}

	same, err := LoadTemplates(dir, 1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if same["player"].Bounds().Dx() != 4 {
		t.Fatalf("scale 1 resized the template")
	}
}

func TestNewVision(t *testing.T) {
	v, err := NewVision("")
	if err != nil {
		t.Fatalf("default vision: %v", err)
	}
	if _, ok := v.(*Matcher); !ok {
		t.Fatalf("default vision = %T, want *Matcher", v)
	}
	if _, err := NewVision("neural"); err == nil {
		t.Fatalf("unknown vision accepted")
	}
}
