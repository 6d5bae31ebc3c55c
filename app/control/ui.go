package control

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/ConserveLee/scroll-idle/internal/config"
	"github.com/ConserveLee/scroll-idle/internal/engine"
	"github.com/ConserveLee/scroll-idle/internal/engine/screen"
	"github.com/ConserveLee/scroll-idle/internal/layout"
	"github.com/ConserveLee/scroll-idle/internal/logger"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/data/binding"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
)

// NewControlPanel creates the start/pause panel for the routine runner.
func NewControlPanel(win fyne.Window, settings *config.Settings, store *layout.Store) fyne.CanvasObject {
	// --- Data Binding ---
	logData := binding.NewStringList()
	statusData := binding.NewString()
	statusData.Set("Status: Stopped")
	routineData := binding.NewString()
	routineData.Set(orNone(settings.Routine))
	bookData := binding.NewString()
	bookData.Set(orNone(settings.CommandBook))

	appLogger := logger.NewAppLogger(logData)
	appLogger.SetDebug(settings.NoticeLevel >= 5)

	var bot *engine.Bot

	// 1. Screen Selector
	var displayOptions []string
	for _, d := range screen.Displays() {
		displayOptions = append(displayOptions, d.String())
	}
	displaySelect := widget.NewSelect(displayOptions, func(selected string) {
		var id int
		if _, err := fmt.Sscanf(selected, "Display %d", &id); err != nil {
			id = 0
		}
		settings.Display = id
		appLogger.Info("Switched to Display %d", id)
	})
	if settings.Display < len(displayOptions) {
		displaySelect.SetSelected(displayOptions[settings.Display])
	}

	// 2. Routine and command book
	pick := func(target binding.String, assign func(string), exts ...string) func() {
		return func() {
			d := dialog.NewFileOpen(func(r fyne.URIReadCloser, err error) {
				if err != nil {
					dialog.ShowError(err, win)
					return
				}
				if r == nil {
					return
				}
				defer r.Close()
				path := r.URI().Path()
				assign(path)
				target.Set(path)
			}, win)
			d.SetFilter(storage.NewExtensionFileFilter(exts))
			d.Show()
		}
	}
	routineBtn := widget.NewButton("Routine...", pick(routineData, func(p string) {
		settings.Routine = p
		if bot == nil {
			return
		}
		diags, err := bot.LoadRoutine(context.Background(), p)
		if err != nil {
			dialog.ShowError(err, win)
		} else if len(diags) > 0 {
			dialog.ShowError(diags, win)
		}
	}, ".csv"))
	bookBtn := widget.NewButton("Commands...", pick(bookData, func(p string) {
		settings.CommandBook = p
		if bot == nil {
			return
		}
		if err := bot.LoadCommandBook(p); err != nil {
			dialog.ShowError(err, win)
		}
	}, ".yaml", ".yml"))

	// 3. Notice level
	levels := []string{"1 Fatal", "2 Error", "3 Warning", "4 Info", "5 Debug"}
	levelSelect := widget.NewSelect(levels, func(selected string) {
		lvl, _ := strconv.Atoi(selected[:1])
		settings.NoticeLevel = lvl
		appLogger.SetDebug(lvl >= 5)
		if bot != nil {
			bot.Notifier().SetLevel(lvl)
		}
	})
	if settings.NoticeLevel >= 1 && settings.NoticeLevel <= len(levels) {
		levelSelect.SetSelected(levels[settings.NoticeLevel-1])
	}

	// 4. Toggles
	toggleBox := container.NewHBox()
	names := make([]string, 0, len(settings.Toggles))
	for name := range settings.Toggles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := widget.NewCheck(name, func(on bool) {
			if bot != nil {
				bot.SetToggle(name, on)
			} else {
				settings.Toggles[name] = on
			}
		})
		check.SetChecked(settings.Toggles[name])
		toggleBox.Add(check)
	}

	// 5. Status & Logs
	statusLabel := widget.NewLabelWithData(statusData)
	statusLabel.TextStyle = fyne.TextStyle{Bold: true}

	logList := widget.NewListWithData(
		logData,
		func() fyne.CanvasObject { return widget.NewLabel("Log entry template") },
		func(i binding.DataItem, o fyne.CanvasObject) { o.(*widget.Label).Bind(i.(binding.String)) },
	)

	// Auto-scroll
	logData.AddListener(binding.NewDataListener(func() {
		list, _ := logData.Get()
		if len(list) > 0 {
			logList.ScrollToBottom()
		}
	}))

	// 6. Buttons
	startBtn := widget.NewButton("Start", nil)
	pauseBtn := widget.NewButton("Resume", nil)
	stopBtn := widget.NewButton("Stop", nil)
	pauseBtn.Disable()
	stopBtn.Disable()

	startBtn.OnTapped = func() {
		b, err := engine.New(settings, engine.Deps{Store: store}, appLogger)
		if err != nil {
			dialog.ShowError(err, win)
			return
		}
		b.StatusFunc = func(s string) {
			statusData.Set(s)
			fyne.Do(func() {
				if b.State().Enabled() {
					pauseBtn.SetText("Pause")
				} else {
					pauseBtn.SetText("Resume")
				}
			})
		}
		if settings.CommandBook != "" {
			if err := b.LoadCommandBook(settings.CommandBook); err != nil {
				dialog.ShowError(err, win)
				return
			}
		}
		if settings.Routine != "" {
			if _, err := b.LoadRoutine(context.Background(), settings.Routine); err != nil {
				dialog.ShowError(err, win)
				return
			}
		}
		bot = b
		bot.Start()
		startBtn.Disable()
		pauseBtn.Enable()
		stopBtn.Enable()
		displaySelect.Disable()
	}

	pauseBtn.OnTapped = func() {
		if bot != nil {
			bot.Toggle()
		}
	}

	stopBtn.OnTapped = func() {
		if bot != nil {
			if err := bot.Stop(); err != nil {
				appLogger.Error("stop: %v", err)
			}
			bot = nil
		}
		stopBtn.Disable()
		pauseBtn.Disable()
		pauseBtn.SetText("Resume")
		startBtn.Enable()
		displaySelect.Enable()
	}

	// --- Layout ---
	controls := container.NewVBox(
		container.NewHBox(widget.NewLabel("Screen:"), displaySelect),
		container.NewBorder(nil, nil, routineBtn, nil, widget.NewLabelWithData(routineData)),
		container.NewBorder(nil, nil, bookBtn, nil, widget.NewLabelWithData(bookData)),
		container.NewHBox(widget.NewLabel("Notify:"), levelSelect),
		toggleBox,
		statusLabel,
		container.NewHBox(startBtn, pauseBtn, stopBtn),
		widget.NewSeparator(),
		widget.NewLabel("Log:"),
	)

	return container.NewBorder(controls, nil, nil, nil, logList)
}

func orNone(path string) string {
	if path == "" {
		return "(none)"
	}
	return path
}
