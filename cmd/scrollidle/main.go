package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ConserveLee/scroll-idle/internal/command"
	"github.com/ConserveLee/scroll-idle/internal/config"
	"github.com/ConserveLee/scroll-idle/internal/engine"
	"github.com/ConserveLee/scroll-idle/internal/engine/input"
	"github.com/ConserveLee/scroll-idle/internal/layout"
	"github.com/ConserveLee/scroll-idle/internal/logger"
	"github.com/ConserveLee/scroll-idle/internal/notify"
	"github.com/ConserveLee/scroll-idle/internal/routine"
)

var (
	configPath string
	envPath    string
)

func main() {
	root := &cobra.Command{
		Use:           "scrollidle",
		Short:         "Headless routine runner for side-scrolling games",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "settings file")
	root.PersistentFlags().StringVar(&envPath, "env", ".env", "dotenv file with secrets")

	root.AddCommand(runCmd(), checkCmd(), layoutCmd(), journalCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadSettings() (*config.Settings, error) {
	s, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := s.LoadEnv(envPath); err != nil {
		return nil, err
	}
	return &s, nil
}

func runCmd() *cobra.Command {
	var (
		routinePath string
		bookPath    string
		dryRun      bool
		enable      bool
		debug       bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			if routinePath != "" {
				s.Routine = routinePath
			}
			if bookPath != "" {
				s.CommandBook = bookPath
			}
			log := logger.NewConsoleLogger(os.Stdout)
			log.SetDebug(debug || s.NoticeLevel >= 5)

			deps := engine.Deps{}
			if dryRun {
				rec := &input.Recorder{}
				rec.OnTap = func(key string) { log.Debug("tap %s", key) }
				deps.Driver = rec
			}
			if s.LayoutDB != "" {
				if err := os.MkdirAll(filepath.Dir(s.LayoutDB), 0o755); err != nil {
					return err
				}
				store, err := layout.OpenStore(s.LayoutDB)
				if err != nil {
					return err
				}
				defer store.Close()
				deps.Store = store
			}

			bot, err := engine.New(s, deps, log)
			if err != nil {
				return err
			}
			bot.StatusFunc = func(status string) { log.Info("%s", status) }

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if s.CommandBook != "" {
				if err := bot.LoadCommandBook(s.CommandBook); err != nil {
					return err
				}
			}
			if s.Routine != "" {
				if _, err := bot.LoadRoutine(ctx, s.Routine); err != nil {
					return err
				}
			}
			if enable {
				bot.SetEnabled(true)
			}
			return bot.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&routinePath, "routine", "", "routine CSV (overrides config)")
	cmd.Flags().StringVar(&bookPath, "book", "", "command book YAML (overrides config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "record input instead of sending it")
	cmd.Flags().BoolVar(&enable, "enable", false, "start the routine immediately")
	cmd.Flags().BoolVar(&debug, "debug", false, "print debug logs")
	return cmd
}

func checkCmd() *cobra.Command {
	var bookPath string
	cmd := &cobra.Command{
		Use:   "check <routine.csv>",
		Short: "Compile a routine and report diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			if bookPath == "" {
				bookPath = s.CommandBook
			}
			ids := map[string]bool{}
			if bookPath != "" {
				book, err := command.LoadBook(bookPath)
				if err != nil {
					return err
				}
				for _, c := range book.Commands {
					ids[c.ID] = true
				}
			}

			r, diags, err := routine.LoadFile(args[0], routine.Options{
				KnownCommand: func(name string) bool { return engine.Builtin(name) || ids[name] },
				Tunables:     &s.Movement,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range diags {
				fmt.Fprintln(out, d)
			}
			fmt.Fprintf(out, "%s: %d elements, %d problems\n", r.Name(), r.Len(), len(diags))
			if len(diags) > 0 {
				return fmt.Errorf("%s has %d problems", args[0], len(diags))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bookPath, "book", "", "command book to resolve command names against")
	return cmd
}

func layoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Inspect learned layouts",
	}
	open := func() (*layout.Store, error) {
		s, err := loadSettings()
		if err != nil {
			return nil, err
		}
		return layout.OpenStore(s.LayoutDB)
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List routines with a stored layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			names, err := store.Routines(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				g := layout.New()
				if _, err := store.Load(cmd.Context(), name, g); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d nodes\n", name, g.Len())
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <routine>",
		Short: "Forget the layout of a routine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Delete(cmd.Context(), args[0])
		},
	})
	return cmd
}

func journalCmd() *cobra.Command {
	var kinds []string
	cmd := &cobra.Command{
		Use:   "journal <file.jsonl.zst|dir>...",
		Short: "Print recorded events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := journalFiles(args)
			if err != nil {
				return err
			}
			want := map[string]bool{}
			for _, k := range kinds {
				want[strings.ToLower(k)] = true
			}
			out := cmd.OutOrStdout()
			for _, path := range files {
				recs, err := notify.ReadJournal(path)
				if err != nil {
					return err
				}
				for _, r := range recs {
					if len(want) > 0 && !want[strings.ToLower(r.Kind)] {
						continue
					}
					fmt.Fprintf(out, "%s %-7s %-20s %s\n", r.Time.Format("2006-01-02 15:04:05"), r.Severity, r.Kind, r.Detail)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "only print these event kinds")
	return cmd
}

func journalFiles(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*.jsonl.zst"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out, nil
}
