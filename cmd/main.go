package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/fetchbot/internal/config"
	"github.com/MimeLyc/fetchbot/internal/cookies"
	"github.com/MimeLyc/fetchbot/internal/docstore"
	"github.com/MimeLyc/fetchbot/internal/errlog"
	"github.com/MimeLyc/fetchbot/internal/export"
	"github.com/MimeLyc/fetchbot/internal/persistence"
	"github.com/MimeLyc/fetchbot/pkg/log"
)

var configFile string

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "fetchbot",
		Short:        "Download videos and audio from links sent in chat",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (default: $CONFIG_FILE)")

	root.AddCommand(
		newRunCommand(),
		newErrorsCommand(),
		newHistoryCommand(),
		newCookiesCommand(),
		newTranslateCommand(),
		newUpdateCommand(),
	)
	return root
}

// loadConfig resolves the configuration and installs the global logger.
// The returned func releases the log file, if any.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level := log.ParseLevel(cfg.System.LogLevel)
	if cfg.System.LogFile == "" {
		log.InitLogger(level)
		return cfg, func() {}, nil
	}

	fileLogger, err := log.NewFileLogger(cfg.System.LogFile, level)
	if err != nil {
		return nil, nil, err
	}
	log.SetLogger(fileLogger.Logger)
	return cfg, func() { _ = fileLogger.Close() }, nil
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Read messages from stdin and process download requests",
		Long: `Reads one message per line from stdin as "<chatID> <userID> <lang> <text...>".
Positive chat ids are private chats. Results are printed to stdout and,
when OUTPUT_DIR is set, copied there.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return a.run(ctx)
		},
	}
}

func newErrorsCommand() *cobra.Command {
	var (
		limit    int
		xlsxPath string
	)
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Print the most recent recorded job failures as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			entries, err := errlog.New(cfg.Storage.ErrorsPath()).List(cmd.Context())
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			if xlsxPath != "" {
				return writeXLSX(cmd, xlsxPath, len(entries), func() ([]byte, error) {
					return export.ErrorsXLSX(entries)
				})
			}
			return printJSON(cmd, entries)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to print, 0 prints all")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "write the entries to this XLSX file instead")
	return cmd
}

func newHistoryCommand() *cobra.Command {
	var (
		limit      int
		failedOnly bool
		xlsxPath   string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print archived download tasks as JSON, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			dbPath := cfg.Storage.HistoryPath()
			if dbPath == "" {
				return errors.New("task history is disabled (HISTORY_DB=off)")
			}
			store, err := persistence.NewSQLiteStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			tasks, err := store.RecentTasks(cmd.Context(), limit, failedOnly)
			if err != nil {
				return err
			}
			if xlsxPath != "" {
				return writeXLSX(cmd, xlsxPath, len(tasks), func() ([]byte, error) {
					return export.TasksXLSX(tasks)
				})
			}
			return printJSON(cmd, tasks)
		},
	}
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "write the tasks to this XLSX file instead")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of tasks to print")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only print tasks that ended with an error")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeXLSX(cmd *cobra.Command, path string, rows int, render func() ([]byte, error)) error {
	data, err := render()
	if err != nil {
		return err
	}
	if err := docstore.WriteFileAtomic(path, data); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d row(s) to %s\n", rows, path)
	return nil
}

func newCookiesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookies",
		Short: "Manage the cookie file passed to yt-dlp",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "merge <file>",
		Short: "Merge a Netscape cookie file into the configured one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			incoming, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			res, err := cookies.MergeFile(cfg.Storage.CookiesPath(), string(incoming))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Added %d new cookie(s), %d total in %s\n", res.Added, res.Total, cfg.Storage.CookiesPath())
			if res.InvalidIncoming > 0 {
				fmt.Fprintf(out, "%d of %d incoming line(s) do not look like cookies. Expected format:\n%s\n",
					res.InvalidIncoming, res.Incoming, cookies.FormatExample)
			}
			return nil
		},
	})
	return cmd
}

func newTranslateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "translate <lang> <text...>",
		Short: "Translate a text through the translation cache",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			translator, err := newTranslator(cfg, nil)
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")
			fmt.Fprintln(cmd.OutOrStdout(), translator.Translate(cmd.Context(), text, args[0]))
			return nil
		},
	}
}

func newUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Upgrade yt-dlp now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, strings.NewReader(""), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return errors.Join(a.updater.RunOnce(ctx), a.close())
		},
	}
}
