package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ConserveLee/scroll-idle/app/control"
	"github.com/ConserveLee/scroll-idle/app/tools"
	"github.com/ConserveLee/scroll-idle/internal/config"
	"github.com/ConserveLee/scroll-idle/internal/layout"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
)

func main() {
	settings, err := config.Load("config.yaml")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := settings.LoadEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "env:", err)
		os.Exit(1)
	}

	var store *layout.Store
	if settings.LayoutDB != "" {
		os.MkdirAll(filepath.Dir(settings.LayoutDB), 0o755)
		if store, err = layout.OpenStore(settings.LayoutDB); err != nil {
			fmt.Fprintln(os.Stderr, "layout store:", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	myApp := app.New()
	myWindow := myApp.NewWindow("Scroll Idle")
	myWindow.Resize(fyne.NewSize(500, 600))

	tabs := container.NewAppTabs(
		container.NewTabItem("Control", control.NewControlPanel(myWindow, &settings, store)),
		container.NewTabItem("Templates", tools.NewToolsPanel(myWindow, &settings)),
	)
	tabs.SetTabLocation(container.TabLocationTop)

	myWindow.SetContent(tabs)
	myWindow.ShowAndRun()
}
