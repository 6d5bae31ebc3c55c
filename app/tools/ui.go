package tools

import (
	"fmt"
	"image"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ConserveLee/scroll-idle/internal/config"
	"github.com/ConserveLee/scroll-idle/internal/engine"
	"github.com/ConserveLee/scroll-idle/internal/engine/input"
	"github.com/ConserveLee/scroll-idle/internal/engine/screen"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
)

// NewToolsPanel creates the template capture and matching panel.
func NewToolsPanel(win fyne.Window, settings *config.Settings) fyne.CanvasObject {
	selectedDisplay := settings.Display
	var lastFrame image.Image

	// 1. Screen Selector
	var displayOptions []string
	for _, d := range screen.Displays() {
		displayOptions = append(displayOptions, d.String())
	}
	displaySelect := widget.NewSelect(displayOptions, func(selected string) {
		var id int
		if _, err := fmt.Sscanf(selected, "Display %d", &id); err == nil {
			selectedDisplay = id
		}
	})
	if selectedDisplay < len(displayOptions) {
		displaySelect.SetSelected(displayOptions[selectedDisplay])
	}

	windowOnly := widget.NewCheck("Game window only", nil)
	windowOnly.SetChecked(true)

	infoLabel := widget.NewLabel("1. Pick a screen\n2. Capture & Crop\n3. Drag over the marker\n4. Save it under its template name")
	infoLabel.Alignment = fyne.TextAlignCenter

	capture := func() (image.Image, error) {
		c := screen.NewCapturer()
		c.SetDisplayID(selectedDisplay)
		if windowOnly.Checked {
			if r, ok := (input.Windows{}).FindWindow(settings.WindowTitle); ok {
				return c.Grab(r)
			}
			return nil, fmt.Errorf("window %q not found", settings.WindowTitle)
		}
		return c.CaptureScreen()
	}

	cropBtn := widget.NewButton("Capture & Crop", func() {
		img, err := capture()
		if err != nil {
			dialog.ShowError(err, win)
			return
		}
		lastFrame = img
		showCropperWindow(img, settings.AssetsDir)
	})
	cropBtn.Importance = widget.HighImportance

	matchBtn := widget.NewButton("Test Templates", func() {
		if lastFrame == nil {
			img, err := capture()
			if err != nil {
				dialog.ShowError(err, win)
				return
			}
			lastFrame = img
		}
		report, err := matchReport(lastFrame, settings.AssetsDir, settings.Vision, settings.UIScale)
		if err != nil {
			dialog.ShowError(err, win)
			return
		}
		dialog.ShowInformation("Template matches", report, win)
	})

	openDirBtn := widget.NewButton("Open Assets", func() {
		openDir(settings.AssetsDir)
	})

	return container.NewVBox(
		widget.NewLabel("Screen:"),
		displaySelect,
		windowOnly,
		widget.NewSeparator(),
		infoLabel,
		cropBtn,
		matchBtn,
		widget.NewSeparator(),
		openDirBtn,
	)
}

// matchReport runs every known template, scaled like the bot scales them,
// against frame.
func matchReport(frame image.Image, dir, vision string, scale float64) (string, error) {
	tpl, err := screen.LoadTemplates(dir, scale)
	if err != nil {
		return "", err
	}
	m, err := screen.NewVision(vision)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, name := range engine.TemplateNames() {
		t := tpl[name]
		if t == nil {
			fmt.Fprintf(&b, "%-13s missing\n", name)
			continue
		}
		if r, ok := m.MatchBest(frame, t); ok {
			fmt.Fprintf(&b, "%-13s at %v\n", name, r.Min)
		} else {
			fmt.Fprintf(&b, "%-13s not found\n", name)
		}
	}
	return b.String(), nil
}

func openDir(path string) {
	var cmd *exec.Cmd
	absPath, _ := filepath.Abs(path)

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", absPath)
	case "windows":
		cmd = exec.Command("explorer", absPath)
	default:
		cmd = exec.Command("xdg-open", absPath)
	}
	cmd.Run()
}

func showCropperWindow(fullImg image.Image, assetsDir string) {
	w := fyne.CurrentApp().NewWindow("Crop Template")
	w.Resize(fyne.NewSize(800, 600))

	lbl := widget.NewLabel("Drag over the target...")
	lbl.Alignment = fyne.TextAlignCenter

	saveBtn := widget.NewButton("Save Selection", nil)
	saveBtn.Disable()

	var current image.Rectangle
	cropper := NewCropperWidget(fullImg, func(rect image.Rectangle) {
		current = rect
		lbl.SetText(fmt.Sprintf("Selected %v", rect))
		saveBtn.Enable()
	})

	saveBtn.OnTapped = func() {
		if current.Empty() {
			return
		}
		showSaveForm(w, screen.Crop(fullImg, current.Sub(fullImg.Bounds().Min)), assetsDir)
	}

	w.SetContent(container.NewBorder(nil, container.NewVBox(lbl, saveBtn), nil, nil, cropper))
	w.Show()
}

func showSaveForm(win fyne.Window, img image.Image, assetsDir string) {
	preview := canvas.NewImageFromImage(img)
	preview.FillMode = canvas.ImageFillContain
	preview.ScaleMode = canvas.ImageScalePixels
	preview.SetMinSize(fyne.NewSize(100, 100))

	names := engine.TemplateNames()
	nameSelect := widget.NewSelect(names, nil)
	nameSelect.SetSelected(names[0])

	content := container.NewVBox(
		container.NewCenter(preview),
		widget.NewLabel(fmt.Sprintf("%dx%d px", img.Bounds().Dx(), img.Bounds().Dy())),
		widget.NewLabel("Template:"),
		nameSelect,
	)

	dialog.ShowCustomConfirm("Save Template", "Save", "Cancel", content, func(confirm bool) {
		if !confirm || nameSelect.Selected == "" {
			return
		}
		path := filepath.Join(assetsDir, nameSelect.Selected+".png")
		if err := screen.SaveImage(path, img); err != nil {
			dialog.ShowError(err, win)
			return
		}
		dialog.ShowInformation("Saved", path, win)
	}, win)
}
