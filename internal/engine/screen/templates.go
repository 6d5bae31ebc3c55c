package screen

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
	"github.com/vcaesar/imgo"
)

// LoadImage loads an image from the filesystem
func LoadImage(path string) (image.Image, error) {
	img, err := imgo.Read(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return img, nil
}

// SaveImage writes img as PNG, creating parent directories.
func SaveImage(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return imgo.Save(path, img)
}

// Scale resizes a template by factor for UIs rendered at a non-default scale.
// Nearest neighbour keeps marker colors exact.
func Scale(img image.Image, factor float64) image.Image {
	if factor <= 0 || factor == 1 {
		return img
	}
	w := uint(float64(img.Bounds().Dx())*factor + 0.5)
	return resize.Resize(w, 0, img, resize.NearestNeighbor)
}

// Templates is a named set of template images.
type Templates map[string]image.Image

// LoadTemplates reads every PNG in dir keyed by file name without extension.
func LoadTemplates(dir string, scale float64) (Templates, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return nil, err
	}
	out := make(Templates, len(files))
	for _, file := range files {
		img, err := LoadImage(file)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		out[name] = Scale(img, scale)
	}
	return out, nil
}

// Require returns the named templates or an error listing what is missing.
func (t Templates) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if t[n] == nil {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing templates: %s", strings.Join(missing, ", "))
	}
	return nil
}
