package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ConserveLee/scroll-idle/internal/constants"
	"github.com/ConserveLee/scroll-idle/internal/engine/screen"
)

// Usage: debug_match <frame.png> [template.png ...]
// Without templates every PNG under assets/ is tried.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: debug_match <frame.png> [template.png ...]")
		os.Exit(2)
	}
	frame, err := screen.LoadImage(os.Args[1])
	if err != nil {
		fmt.Printf("Failed to load frame: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Frame size: %dx%d\n", frame.Bounds().Dx(), frame.Bounds().Dy())
	fmt.Printf("Using MaxFailRate: %.0f%%\n", constants.MaxFailRate*100)

	paths := os.Args[2:]
	if len(paths) == 0 {
		paths, _ = filepath.Glob(filepath.Join("assets", "*.png"))
		sort.Strings(paths)
	}

	for _, path := range paths {
		tpl, err := screen.LoadImage(path)
		if err != nil {
			fmt.Printf("Failed to load template %s: %v\n", path, err)
			continue
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		fmt.Printf("\n=== %s (%dx%d) ===\n", name, tpl.Bounds().Dx(), tpl.Bounds().Dy())

		for _, tolerance := range []float64{constants.DefaultTolerance, 80} {
			m := screen.NewMatcher()
			m.Tolerance = tolerance
			for _, threshold := range []float64{0.8, 0.9, m.BestThreshold} {
				matches := m.Match(frame, tpl, threshold)
				fmt.Printf("  tolerance %.0f, similarity >= %.2f: %d matches", tolerance, threshold, len(matches))
				if len(matches) > 0 && len(matches) <= 5 {
					fmt.Printf(" -> %v", matches)
				}
				fmt.Println()
			}
			if r, ok := m.MatchBest(frame, tpl); ok {
				fmt.Printf("  best: %v\n", r)
			}
		}
	}
}
