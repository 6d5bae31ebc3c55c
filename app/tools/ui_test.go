package tools

import (
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ConserveLee/scroll-idle/internal/config"
	"github.com/ConserveLee/scroll-idle/internal/engine/screen"
)

func TestMatchReport(t *testing.T) {
	dir := t.TempDir()
	red := image.NewUniform(color.RGBA{R: 255, A: 255})

	tpl := image.NewRGBA(image.Rect(0, 0, 4, 4))
	draw.Draw(tpl, tpl.Bounds(), red, image.Point{}, draw.Src)
	if err := screen.SaveImage(filepath.Join(dir, "player.png"), tpl); err != nil {
		t.Fatalf("save template: %v", err)
	}

	frame := image.NewRGBA(image.Rect(0, 0, 64, 48))
	draw.Draw(frame, frame.Bounds(), image.NewUniform(color.RGBA{A: 255}), image.Point{}, draw.Src)
	draw.Draw(frame, image.Rect(10, 20, 14, 24), red, image.Point{}, draw.Src)

	report, err := matchReport(frame, dir, config.VisionRGB, 1)
	if err != nil {
		t.Fatalf("matchReport: %v", err)
	}
	lines := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(report), "\n") {
		f := strings.Fields(line)
		lines[f[0]] = strings.Join(f[1:], " ")
	}
	if got := lines["player"]; got != "at (10,20)" {
		t.Fatalf("player: %q\n%s", got, report)
	}
	if got := lines["minimap_tl"]; got != "missing" {
		t.Fatalf("minimap_tl: %q", got)
	}

	big := screen.Scale(frame, 2)
	report, err = matchReport(big, dir, config.VisionRGB, 2)
	if err != nil {
		t.Fatalf("matchReport scaled: %v", err)
	}
	if !strings.Contains(report, "at (20,40)") {
		t.Fatalf("scaled report:\n%s", report)
	}
	if _, err := matchReport(frame, dir, "nope", 1); err == nil {
		t.Fatalf("unknown vision accepted")
	}
}
