package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ConserveLee/scroll-idle/internal/constants"
)

// Matcher backends.
const (
	VisionRGB  = "rgb"
	VisionGoCV = "gocv"
)

// Settings is the on-disk configuration of a bot.
type Settings struct {
	WindowTitle    string        `yaml:"window_title"`
	AssetsDir      string        `yaml:"assets_dir"`
	Display        int           `yaml:"display"`
	NoticeLevel    int           `yaml:"notice_level"`
	NoticeInterval time.Duration `yaml:"notice_interval"`
	// Vision picks the template matcher: "rgb", or "gocv" in builds tagged gocv.
	Vision string `yaml:"vision"`
	// UIScale is the game's UI scale relative to the one templates were cut at.
	UIScale float64 `yaml:"ui_scale"`

	Routine     string `yaml:"routine"`
	CommandBook string `yaml:"command_book"`
	LayoutDB    string `yaml:"layout_db"`

	Movement Movement        `yaml:"movement"`
	Monitor  Monitor         `yaml:"monitor"`
	Puzzle   Puzzle          `yaml:"puzzle"`
	Keys     Keys            `yaml:"keys"`
	Chat     Chat            `yaml:"chat"`
	Toggles  map[string]bool `yaml:"toggles"`
	Notify   Notify          `yaml:"notify"`

	// Filled from the environment, never from the YAML file.
	TelegramToken  string `yaml:"-"`
	TelegramChatID int64  `yaml:"-"`
}

// Movement holds the tunables a routine may override with `$` rows.
type Movement struct {
	MoveTolerance   float64 `yaml:"move_tolerance"`
	AdjustTolerance float64 `yaml:"adjust_tolerance"`
	RecordLayout    bool    `yaml:"record_layout"`
	MaxSteps        int     `yaml:"max_steps"`
}

// Monitor holds anomaly thresholds.
type Monitor struct {
	NoMovement     time.Duration `yaml:"no_movement"`
	LostDwell      time.Duration `yaml:"lost_dwell"`
	IntruderComing time.Duration `yaml:"intruder_coming"`
	IntruderStay   time.Duration `yaml:"intruder_stay"`
	IntruderLong   time.Duration `yaml:"intruder_long"`
	IntruderLeft   time.Duration `yaml:"intruder_left"`
	BlackFraction  float64       `yaml:"black_fraction"`
	WhiteFraction  float64       `yaml:"white_fraction"`
}

// Puzzle bounds the recovery routine.
type Puzzle struct {
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// Keys maps logical actions to key names understood by the input driver.
type Keys struct {
	Left     string `yaml:"left"`
	Right    string `yaml:"right"`
	Up       string `yaml:"up"`
	Down     string `yaml:"down"`
	Jump     string `yaml:"jump"`
	Interact string `yaml:"interact"`
	Home     string `yaml:"home"`
	Chat     string `yaml:"chat"`
	Escape   string `yaml:"escape"`
	// Toggle is the operator hotkey that starts and pauses the routine.
	// Empty disables the global key listener.
	Toggle string `yaml:"toggle"`
}

// Chat lines sent on intruder escalation.
type Chat struct {
	OnComing string `yaml:"on_coming"`
	OnStay   string `yaml:"on_stay"`
}

// Notify configures notification sinks.
type Notify struct {
	Telegram bool `yaml:"telegram"`
	// TelegramCommands accepts /start, /pause, /info and /screenshot from the chat.
	TelegramCommands bool   `yaml:"telegram_commands"`
	WebsocketAddr    string `yaml:"websocket_addr"`
	JournalDir       string `yaml:"journal_dir"`
	ScreenshotDir    string `yaml:"screenshot_dir"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		WindowTitle:    "MapleStory",
		AssetsDir:      "assets",
		NoticeLevel:    constants.DefaultNoticeLevel,
		NoticeInterval: constants.NoticeInterval,
		Vision:         VisionRGB,
		UIScale:        1,
		LayoutDB:       "data/layout.db",
		Movement: Movement{
			MoveTolerance:   constants.DefaultMoveTolerance,
			AdjustTolerance: constants.DefaultAdjustTolerance,
			RecordLayout:    true,
			MaxSteps:        constants.MoveMaxSteps,
		},
		Monitor: Monitor{
			NoMovement:     constants.NoMovementThreshold,
			LostDwell:      constants.LostDwellThreshold,
			IntruderComing: constants.IntruderComingAfter,
			IntruderStay:   constants.IntruderStayAfter,
			IntruderLong:   constants.IntruderLongAfter,
			IntruderLeft:   constants.IntruderLeftAfter,
			BlackFraction:  constants.BlackScreenFraction,
			WhiteFraction:  constants.WhiteRoomFraction,
		},
		Puzzle: Puzzle{
			MaxAttempts: constants.PuzzleMaxAttempts,
			RetryDelay:  constants.PuzzleRetryDelay,
		},
		Keys: Keys{
			Left:     "left",
			Right:    "right",
			Up:       "up",
			Down:     "down",
			Jump:     "alt",
			Interact: "space",
			Home:     "h",
			Chat:     "enter",
			Escape:   "esc",
			Toggle:   "f12",
		},
		Chat: Chat{
			OnComing: "hi",
			OnStay:   "cc pls",
		},
		Toggles: map[string]bool{},
		Notify: Notify{
			TelegramCommands: true,
			JournalDir:       "data/journal",
			ScreenshotDir:    "data/screenshots",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Settings, error) {
	s := Default()
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	if s.Toggles == nil {
		s.Toggles = map[string]bool{}
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Save writes the settings as YAML.
func (s Settings) Save(path string) error {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// Validate rejects values the control loops cannot work with.
func (s Settings) Validate() error {
	if s.NoticeLevel < 1 || s.NoticeLevel > 5 {
		return fmt.Errorf("notice_level %d outside 1..5", s.NoticeLevel)
	}
	if s.NoticeInterval <= 0 {
		return fmt.Errorf("notice_interval must be positive")
	}
	if s.Movement.MoveTolerance <= 0 || s.Movement.AdjustTolerance <= 0 {
		return fmt.Errorf("movement tolerances must be positive")
	}
	if s.UIScale <= 0 {
		return fmt.Errorf("ui_scale must be positive")
	}
	switch s.Vision {
	case VisionRGB, VisionGoCV:
	default:
		return fmt.Errorf("vision %q is neither %s nor %s", s.Vision, VisionRGB, VisionGoCV)
	}
	if s.Puzzle.MaxAttempts < 1 {
		return fmt.Errorf("puzzle.max_attempts must be at least 1")
	}
	m := s.Monitor
	if !(m.IntruderComing < m.IntruderStay && m.IntruderStay < m.IntruderLong) {
		return fmt.Errorf("intruder thresholds must increase: %s < %s < %s",
			m.IntruderComing, m.IntruderStay, m.IntruderLong)
	}
	return nil
}

// LoadEnv reads secrets from the environment, after loading any .env files given.
// Missing .env files are ignored.
func (s *Settings) LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	s.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		s.TelegramChatID = id
	}
	return nil
}

// Toggle reports a named toggle, false when unset.
func (s Settings) Toggle(name string) bool {
	return s.Toggles[name]
}
