package tools

import (
	"image"
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"
)

// CropperWidget displays an image and lets the user drag out a rectangle.
type CropperWidget struct {
	widget.BaseWidget

	img        image.Image
	startPos   fyne.Position
	currentPos fyne.Position
	dragging   bool

	raster    *canvas.Image
	selection *canvas.Rectangle

	// OnSelected receives the selection in image pixels.
	OnSelected func(rect image.Rectangle)
}

func NewCropperWidget(img image.Image, onSelected func(image.Rectangle)) *CropperWidget {
	c := &CropperWidget{img: img, OnSelected: onSelected}
	c.ExtendBaseWidget(c)

	c.raster = canvas.NewImageFromImage(img)
	c.raster.ScaleMode = canvas.ImageScalePixels // templates must keep exact pixels
	c.raster.FillMode = canvas.ImageFillContain

	c.selection = canvas.NewRectangle(color.RGBA{R: 255, A: 60})
	c.selection.StrokeColor = color.RGBA{R: 255, A: 255}
	c.selection.StrokeWidth = 2
	c.selection.Hide()
	return c
}

func (c *CropperWidget) CreateRenderer() fyne.WidgetRenderer {
	return &cropperRenderer{cropper: c, objects: []fyne.CanvasObject{c.raster, c.selection}}
}

func (c *CropperWidget) Dragged(e *fyne.DragEvent) {
	if !c.dragging {
		c.dragging = true
		c.startPos = e.Position.Subtract(e.Dragged)
		c.selection.Show()
	}
	c.currentPos = e.Position
	c.Refresh()
}

func (c *CropperWidget) DragEnd() {
	c.dragging = false
	c.Refresh()
	if c.OnSelected == nil {
		return
	}
	if r := c.pixelRect(); !r.Empty() {
		c.OnSelected(r)
	}
}

// Tapped clears the selection.
func (c *CropperWidget) Tapped(e *fyne.PointEvent) {
	c.startPos = e.Position
	c.currentPos = e.Position
	c.selection.Hide()
	c.Refresh()
}

func (c *CropperWidget) Cursor() desktop.Cursor {
	return desktop.CrosshairCursor
}

// box is the dragged rectangle in widget coordinates.
func (c *CropperWidget) box() (fyne.Position, fyne.Size) {
	x0, x1 := min(c.startPos.X, c.currentPos.X), max(c.startPos.X, c.currentPos.X)
	y0, y1 := min(c.startPos.Y, c.currentPos.Y), max(c.startPos.Y, c.currentPos.Y)
	return fyne.NewPos(x0, y0), fyne.NewSize(x1-x0, y1-y0)
}

// drawn is where the contained image is painted inside the widget.
func (c *CropperWidget) drawn() (fyne.Position, fyne.Size) {
	w, h := c.Size().Width, c.Size().Height
	if w == 0 || h == 0 {
		return fyne.Position{}, fyne.Size{}
	}
	imgW := float32(c.img.Bounds().Dx())
	imgH := float32(c.img.Bounds().Dy())
	aspect := imgW / imgH
	if w/h > aspect {
		dw := h * aspect
		return fyne.NewPos((w-dw)/2, 0), fyne.NewSize(dw, h)
	}
	dh := w / aspect
	return fyne.NewPos(0, (h-dh)/2), fyne.NewSize(w, dh)
}

// pixelRect maps the dragged box onto image pixels.
func (c *CropperWidget) pixelRect() image.Rectangle {
	off, size := c.drawn()
	if size.Width == 0 || size.Height == 0 {
		return image.Rectangle{}
	}
	pos, sel := c.box()
	x0 := max(off.X, pos.X)
	y0 := max(off.Y, pos.Y)
	x1 := min(off.X+size.Width, pos.X+sel.Width)
	y1 := min(off.Y+size.Height, pos.Y+sel.Height)
	if x1 <= x0 || y1 <= y0 {
		return image.Rectangle{}
	}

	b := c.img.Bounds()
	sx := float32(b.Dx()) / size.Width
	sy := float32(b.Dy()) / size.Height
	r := image.Rect(
		int((x0-off.X)*sx), int((y0-off.Y)*sy),
		int((x1-off.X)*sx), int((y1-off.Y)*sy),
	).Add(b.Min)
	return r.Intersect(b)
}

type cropperRenderer struct {
	cropper *CropperWidget
	objects []fyne.CanvasObject
}

func (r *cropperRenderer) Layout(s fyne.Size) {
	r.objects[0].Resize(s)
	r.objects[0].Move(fyne.NewPos(0, 0))
	r.placeSelection()
}

func (r *cropperRenderer) placeSelection() {
	pos, size := r.cropper.box()
	r.objects[1].Move(pos)
	r.objects[1].Resize(size)
}

func (r *cropperRenderer) MinSize() fyne.Size {
	return fyne.NewSize(100, 100)
}

func (r *cropperRenderer) Refresh() {
	r.placeSelection()
	canvas.Refresh(r.cropper)
}

func (r *cropperRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

func (r *cropperRenderer) Destroy() {}
