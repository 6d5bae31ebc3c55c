package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ConserveLee/scroll-idle/internal/clock"
	"github.com/ConserveLee/scroll-idle/internal/command"
	"github.com/ConserveLee/scroll-idle/internal/config"
	"github.com/ConserveLee/scroll-idle/internal/constants"
	"github.com/ConserveLee/scroll-idle/internal/engine/input"
	"github.com/ConserveLee/scroll-idle/internal/engine/screen"
	"github.com/ConserveLee/scroll-idle/internal/layout"
	"github.com/ConserveLee/scroll-idle/internal/localizer"
	"github.com/ConserveLee/scroll-idle/internal/logger"
	"github.com/ConserveLee/scroll-idle/internal/monitor"
	"github.com/ConserveLee/scroll-idle/internal/movement"
	"github.com/ConserveLee/scroll-idle/internal/notify"
	"github.com/ConserveLee/scroll-idle/internal/routine"
	"github.com/ConserveLee/scroll-idle/internal/state"
)

// BotStatus represents the current state of the bot
type BotStatus int

const (
	StatusStopped BotStatus = iota
	StatusRunning
)

// Locator is the localization loop the bot drives.
type Locator interface {
	Run(ctx context.Context) error
	RunRecalibration(ctx context.Context) error
	Recalibrate(auto bool) bool
}

// Deps are the platform adapters. Zero fields get the real implementations.
type Deps struct {
	Clock     clock.Clock
	Driver    input.Driver
	Windows   input.WindowFinder
	Grabber   localizer.Grabber
	Vision    screen.VisionPort
	Templates screen.Templates
	Solver    PuzzleSolver
	Store     *layout.Store
	Locator   Locator // overrides the screen localizer
	Hotkeys   input.HotkeySource
}

// Bot wires localization, monitoring, routine execution and notifications.
type Bot struct {
	Status BotStatus

	// Callbacks for UI updates
	StatusFunc func(string)

	settings *config.Settings
	log      logger.Logger
	st       *state.Context

	keys     *input.Keyboard
	hotkeys  input.HotkeySource
	tuning   *config.Tuning
	sched    *command.Scheduler
	graph    *layout.Graph
	store    *layout.Store
	mover    *movement.Mover
	loc      Locator
	mon      *monitor.Monitor
	interp   *routine.Interpreter
	notifier *notify.Dispatcher
	hub      *notify.Hub
	telegram *notify.Telegram
	journal  *notify.Journal
	solver   PuzzleSolver
	vision   screen.VisionPort
	tpl      screen.Templates

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
	nudges  int
	events  <-chan monitor.Event
	notices <-chan monitor.Event
}

// New builds a stopped, disabled bot.
func New(settings *config.Settings, deps Deps, log logger.Logger) (*Bot, error) {
	if log == nil {
		log = logger.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Driver == nil {
		deps.Driver = input.NewRobot(settings.Display)
	}
	if deps.Windows == nil {
		deps.Windows = input.Windows{}
	}
	if deps.Grabber == nil {
		c := screen.NewCapturer()
		c.SetDisplayID(settings.Display)
		deps.Grabber = c
	}
	if deps.Vision == nil {
		v, err := screen.NewVision(settings.Vision)
		if err != nil {
			return nil, err
		}
		deps.Vision = v
	}
	if deps.Hotkeys == nil && settings.Keys.Toggle != "" {
		deps.Hotkeys = input.GlobalHotkeys{}
	}
	if deps.Templates == nil {
		tpl, err := screen.LoadTemplates(settings.AssetsDir, settings.UIScale)
		if err != nil {
			return nil, fmt.Errorf("templates: %w", err)
		}
		deps.Templates = tpl
	}

	b := &Bot{
		settings: settings,
		log:      log,
		st:       state.NewContext(deps.Clock),
		keys:     input.NewKeyboard(deps.Driver),
		hotkeys:  deps.Hotkeys,
		tuning:   config.NewTuning(settings.Movement),
		graph:    layout.New(),
		store:    deps.Store,
		vision:   deps.Vision,
		tpl:      deps.Templates,
		solver:   deps.Solver,
	}
	if b.solver == nil {
		b.solver = NewArrowSolver(b.st, deps.Vision, deps.Templates)
	}
	b.sched = command.NewScheduler(b.st, b.keys, log, b.toggle)
	b.mover = movement.New(b.st, b.keys, b.sched, b.graph, b.tuning, settings.Keys, log)
	b.interp = routine.NewInterpreter(b.st, executor{b}, log)

	b.loc = deps.Locator
	if b.loc == nil {
		loc, err := localizer.New(b.st, deps.Vision, deps.Grabber, deps.Windows, settings.WindowTitle, deps.Templates, log)
		if err != nil {
			return nil, err
		}
		b.loc = loc
	}

	b.mon = monitor.New(b.st, deps.Vision, deps.Templates, settings.Monitor, settings.NoticeInterval, log)
	b.mon.ScreenshotDir = settings.Notify.ScreenshotDir
	b.events = b.mon.Subscribe()
	b.notices = b.mon.Subscribe()

	if dir := settings.Notify.JournalDir; dir != "" {
		b.journal = notify.NewJournal(dir)
	}
	b.notifier = notify.NewDispatcher(settings.NoticeLevel, b.journal, log)
	if settings.Notify.Telegram && settings.TelegramToken != "" {
		b.telegram = notify.NewTelegram(settings.TelegramToken, settings.TelegramChatID, log)
		b.notifier.Add("telegram", b.telegram)
	}
	if settings.Notify.WebsocketAddr != "" {
		b.hub = notify.NewHub(log)
		b.notifier.Add("websocket", b.hub)
	}

	// Held keys are released before SetEnabled(false) returns.
	b.st.OnToggle(func(enabled bool) {
		if !enabled {
			if err := b.keys.ReleaseAll(); err != nil {
				b.log.Error("release keys: %v", err)
			}
			b.graph.Break()
		}
	})
	return b, nil
}

// State exposes the shared context.
func (b *Bot) State() *state.Context { return b.st }

// Scheduler exposes the command scheduler.
func (b *Bot) Scheduler() *command.Scheduler { return b.sched }

// Monitor exposes the anomaly monitor.
func (b *Bot) Monitor() *monitor.Monitor { return b.mon }

// Notifier exposes the notification dispatcher.
func (b *Bot) Notifier() *notify.Dispatcher { return b.notifier }

// Routine returns the loaded routine.
func (b *Bot) Routine() *routine.Routine { return b.interp.Routine() }

// Layout returns the learned layout graph.
func (b *Bot) Layout() *layout.Graph { return b.graph }

func (b *Bot) toggle(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings.Toggle(name)
}

// SetToggle flips a named admission toggle.
func (b *Bot) SetToggle(name string, on bool) {
	b.mu.Lock()
	if b.settings.Toggles == nil {
		b.settings.Toggles = map[string]bool{}
	}
	b.settings.Toggles[name] = on
	b.mu.Unlock()
}

// LoadCommandBook reads, validates and installs a command book.
func (b *Bot) LoadCommandBook(path string) error {
	book, err := command.LoadBook(path)
	if err != nil {
		return err
	}
	b.sched.Load(book)
	b.log.Info("Loaded command book %s (%d commands)", book.Name, len(book.Commands))
	return nil
}

// Tunables returns the movement tunables in effect.
func (b *Bot) Tunables() config.Movement { return b.tuning.Load() }

// LoadRoutine compiles a routine and swaps it in. Diagnostics are logged and
// returned; the rest of the routine still loads. `$` rows are applied to a
// copy of the tunables, published only once the routine compiled.
func (b *Bot) LoadRoutine(ctx context.Context, path string) (routine.Diagnostics, error) {
	mv := b.tuning.Load()
	r, diags, err := routine.LoadFile(path, routine.Options{
		KnownCommand: b.Known,
		Tunables:     &mv,
		Clock:        b.st.Clock,
	})
	if err != nil {
		return nil, err
	}
	b.tuning.Store(mv)
	for _, d := range diags {
		b.log.Error("%s: %v", path, d)
	}

	if err := b.SaveLayout(ctx); err != nil {
		b.log.Warn("save layout: %v", err)
	}
	b.interp.Load(r)
	b.graph.Clear()
	if b.store != nil {
		found, err := b.store.Load(ctx, r.Name(), b.graph)
		if err != nil {
			b.log.Warn("load layout: %v", err)
		} else if found {
			b.log.Info("Loaded layout for %s (%d nodes)", r.Name(), b.graph.Len())
		}
	}
	b.log.Info("Loaded routine %s (%d elements)", r.Name(), r.Len())
	return diags, nil
}

// SaveLayout persists the current layout under the loaded routine's name.
func (b *Bot) SaveLayout(ctx context.Context) error {
	r := b.interp.Routine()
	if b.store == nil || r.Name() == "" || b.graph.Len() == 0 {
		return nil
	}
	return b.store.Save(ctx, r.Name(), b.graph)
}

// SetEnabled starts or pauses the routine. Enabling forces a fresh
// calibration and forgets any puzzle.
func (b *Bot) SetEnabled(on bool) {
	if on {
		b.st.ClearPuzzle()
		b.loc.Recalibrate(false)
	}
	if b.st.SetEnabled(on) {
		b.notifier.Text(context.Background(), b.statusText(), "")
		b.updateStatus()
	}
}

// Toggle flips the enabled flag.
func (b *Bot) Toggle() bool {
	on := !b.st.Enabled()
	b.SetEnabled(on)
	return on
}

// Start runs every loop in the background
func (b *Bot) Start() {
	b.mu.Lock()
	if b.Status == StatusRunning {
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	done := make(chan struct{})
	b.done = done
	b.Status = StatusRunning
	b.mu.Unlock()

	go func() {
		defer close(done)
		err := b.Run(ctx)
		if err != nil {
			b.log.Error("bot: %v", err)
		}
		b.mu.Lock()
		b.runErr = err
		b.Status = StatusStopped
		b.mu.Unlock()
		b.updateStatus()
	}()
	b.updateStatus()
}

// Stop pauses the routine, ends every loop and saves the layout.
func (b *Bot) Stop() error {
	b.mu.Lock()
	if b.Status == StatusStopped {
		b.mu.Unlock()
		return nil
	}
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	b.st.SetEnabled(false)
	cancel()
	<-done

	b.mu.Lock()
	err := b.runErr
	b.mu.Unlock()
	return err
}

// Done is closed when the loops started by Start have all returned.
func (b *Bot) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Run blocks until ctx ends or a loop fails.
func (b *Bot) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.loc.Run(ctx) })
	g.Go(func() error { return b.loc.RunRecalibration(ctx) })
	g.Go(func() error { return b.mon.Run(ctx) })
	g.Go(func() error { return b.runRoutine(ctx) })
	g.Go(func() error { return b.handleEvents(ctx) })
	g.Go(func() error { return b.notifier.Run(ctx, b.notices) })
	if b.hub != nil {
		g.Go(func() error { return b.serveFeed(ctx) })
	}
	if b.telegram != nil && b.settings.Notify.TelegramCommands {
		g.Go(func() error { return b.telegram.Listen(ctx, b.remote) })
	}
	if b.hotkeys != nil {
		g.Go(func() error { return b.listenHotkeys(ctx) })
	}
	b.log.Info("Bot started")

	err := g.Wait()
	b.keys.ReleaseAll()
	if serr := b.SaveLayout(context.Background()); serr != nil {
		b.log.Warn("save layout: %v", serr)
	}
	if b.journal != nil {
		b.journal.Close()
	}
	b.log.Info("Bot stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveFeed runs the websocket feed. A feed that cannot listen only loses
// its subscribers, so the error is logged and the bot keeps running.
func (b *Bot) serveFeed(ctx context.Context) error {
	if err := b.hub.Serve(ctx, b.settings.Notify.WebsocketAddr); err != nil {
		b.log.Error("notification feed: %v", err)
	}
	return nil
}

func (b *Bot) listenHotkeys(ctx context.Context) error {
	for range b.hotkeys.Listen(ctx, []string{b.settings.Keys.Toggle}) {
		on := b.Toggle()
		b.log.Info("Hotkey %s: enabled=%v", b.settings.Keys.Toggle, on)
	}
	return nil
}

// remote answers a chat command.
func (b *Bot) remote(_ context.Context, cmd string) notify.Reply {
	switch cmd {
	case "start":
		b.SetEnabled(true)
	case "pause":
		b.SetEnabled(false)
		b.st.ClearPuzzle()
	case "info":
	case "screenshot":
		frame := b.frame()
		if frame == nil {
			return notify.Reply{Text: "no frame captured yet"}
		}
		path := filepath.Join(b.settings.Notify.ScreenshotDir, "screenshot",
			fmt.Sprintf("%d.png", b.st.Clock.Now().UnixNano()))
		if err := screen.SaveImage(path, frame); err != nil {
			return notify.Reply{Text: "screenshot: " + err.Error()}
		}
		return notify.Reply{Text: "screenshot", Image: path}
	default:
		return notify.Reply{Text: "unknown command /" + cmd + "\nknown: /start /pause /screenshot /info"}
	}
	return notify.Reply{Text: b.statusText()}
}

func (b *Bot) runRoutine(ctx context.Context) error {
	for ctx.Err() == nil {
		if !b.st.Enabled() || b.interp.Routine().Len() == 0 {
			b.st.Wait(ctx, constants.IdleInterval)
			continue
		}
		b.step(ctx)
	}
	return nil
}

// step is one orchestrator tick. A panic inside it is logged and the tick
// is treated as a no-op.
func (b *Bot) step(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("tick panicked: %v", r)
			b.st.Wait(ctx, constants.IdleInterval)
		}
	}()

	for _, list := range []string{"buff", "potion"} {
		if !b.sched.HasList(list) {
			continue
		}
		if _, err := b.sched.RunList(ctx, list); err != nil && !errors.Is(err, command.ErrDisabled) {
			b.log.Warn("%s: %v", list, err)
		}
	}

	if p, ok := b.st.Puzzle(); ok {
		r := b.interp.Routine()
		if idx := r.ClosestWaypoint(p); idx >= 0 && idx == r.Cursor() {
			b.solvePuzzle(ctx, p)
		}
	}

	if _, ok := b.interp.Tick(ctx); ok {
		b.updateStatus()
	}
}

func (b *Bot) statusText() string {
	b.mu.Lock()
	running := b.Status == StatusRunning
	b.mu.Unlock()
	switch {
	case !running:
		return "Status: Stopped"
	case !b.st.Enabled():
		return "Status: Paused"
	}
	r := b.interp.Routine()
	text := fmt.Sprintf("Status: Running %s (%d/%d)", r.Name(), r.Cursor()+1, r.Len())
	if pos, ok := b.st.Position(); ok {
		text += " at " + pos.String()
	}
	return text
}

func (b *Bot) updateStatus() {
	if b.StatusFunc != nil {
		b.StatusFunc(b.statusText())
	}
}

// sleep pauses for d while enabled.
func (b *Bot) sleep(ctx context.Context, d time.Duration) bool {
	return b.st.Sleep(ctx, d)
}

// TemplateNames lists every template the bot looks for, sorted.
func TemplateNames() []string {
	names := []string{
		localizer.TplMinimapTL, localizer.TplMinimapBR,
		localizer.TplPlayer, localizer.TplPlayerLeft, localizer.TplPlayerRight,
		monitor.TplIntruder, monitor.TplPuzzle, monitor.TplTombstone, monitor.TplTombstoneOK,
		monitor.TplCharacter, monitor.TplSkull,
	}
	for _, name := range arrowTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
