// Command dateshift rewrites modification timestamps of documents stored on
// a remote SMB share.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/dateshift/dateshift/internal/config"
	"github.com/dateshift/dateshift/internal/store/smb"
	"github.com/dateshift/dateshift/internal/workflow"
	"github.com/dateshift/dateshift/pkg/utils"
)

var (
	version = "dev"

	configFile string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:          "dateshift",
		Short:        "Rewrite modification timestamps of files on a remote share",
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (DEBUG, INFO, WARN, ERROR)")

	root.AddCommand(
		newTestCmd(),
		newListCmd(),
		newTouchCmd(),
		newStatsCmd(),
		newConfigCmd(),
	)

	if err := root.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

// loadConfig builds the effective configuration from defaults, the optional
// config file, environment overrides, and flags, in that order.
func loadConfig() (*config.Configuration, error) {
	cfg := config.NewDefault()
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Global.LogLevel = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Configuration) *utils.StructuredLogger {
	level, err := utils.ParseLogLevel(cfg.Global.LogLevel)
	if err != nil {
		level = utils.INFO
	}
	format := utils.FormatText
	if cfg.Global.LogFormat == "json" {
		format = utils.FormatJSON
	}
	return utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:  level,
		Format: format,
		Output: os.Stderr,
	})
}

// newService builds the full service over a live SMB connection factory.
func newService() (*workflow.Service, *config.Configuration, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Server.Host == "" || cfg.Server.ShareName == "" {
		return nil, nil, fmt.Errorf("server host and share name are required (set them in the config file or DATESHIFT_HOST / DATESHIFT_SHARE)")
	}

	factory := smb.NewFactory(smb.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ShareName:      cfg.Server.ShareName,
		Username:       cfg.Server.Username,
		Password:       cfg.Server.Password,
		Domain:         cfg.Server.Domain,
		ConnectTimeout: cfg.Server.ConnectTimeout,
	})

	svc, err := workflow.NewService(cfg, factory, newLogger(cfg))
	if err != nil {
		return nil, nil, err
	}
	return svc, cfg, nil
}

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Verify connectivity to the configured share",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cfg, err := newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			spinner, _ := pterm.DefaultSpinner.Start("Connecting to " + cfg.Server.Host)
			if err := svc.TestConnection(cmd.Context()); err != nil {
				spinner.Fail("Connection failed")
				return err
			}
			spinner.Success(fmt.Sprintf("Connected to //%s/%s", cfg.Server.Host, cfg.Server.ShareName))
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "list <remote-dir>",
		Short: "List files in a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			files, err := svc.ListFiles(cmd.Context(), args[0], pattern)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				pterm.Info.Println("No matching files")
				return nil
			}

			rows := pterm.TableData{{"Name", "Size", "Modified"}}
			for _, f := range files {
				rows = append(rows, []string{
					f.Name,
					fmt.Sprintf("%d", f.Size),
					f.Modified.Format("2006-01-02 15:04:05"),
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
		},
	}
	cmd.Flags().StringVarP(&pattern, "pattern", "p", "*.pdf", "filename glob to match")
	return cmd
}

func newTouchCmd() *cobra.Command {
	var (
		dateStr        string
		updateCreation bool
		skipLogical    bool
	)

	cmd := &cobra.Command{
		Use:   "touch <remote-path>...",
		Short: "Rewrite the modification timestamp of remote files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseDate(dateStr)
			if err != nil {
				return err
			}

			svc, _, err := newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			opts := workflow.RewriteOptions{
				UpdateCreationDate: updateCreation,
				SkipLogical:        skipLogical,
			}

			failures := 0
			for _, remotePath := range args {
				spinner, _ := pterm.DefaultSpinner.Start("Rewriting " + remotePath)
				result, err := svc.RewriteTimestamp(cmd.Context(), remotePath, target, opts)
				if err != nil {
					spinner.Fail(fmt.Sprintf("%s: %v", remotePath, err))
					failures++
					continue
				}
				msg := fmt.Sprintf("%s -> %s", remotePath, target.Format("2006-01-02 15:04:05"))
				if result.VerifyWarning != "" {
					msg += " (verification warning: " + result.VerifyWarning + ")"
				}
				spinner.Success(msg)
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d files failed", failures, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dateStr, "date", "d", "", "target date, YYYY-MM-DD or \"YYYY-MM-DD HH:MM:SS\" (required)")
	cmd.Flags().BoolVar(&updateCreation, "creation-date", false, "also rewrite the document CreationDate")
	cmd.Flags().BoolVar(&skipLogical, "skip-metadata", false, "change only the filesystem timestamp")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show connection health after a probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.TestConnection(cmd.Context()); err != nil {
				return err
			}

			stats := svc.Statistics()
			rows := pterm.TableData{{"Connection", "Healthy", "Requests", "Failures", "Success rate", "Avg response"}}
			for name, h := range stats.Pool {
				rows = append(rows, []string{
					name,
					fmt.Sprintf("%t", h.Healthy),
					fmt.Sprintf("%d", h.TotalRequests),
					fmt.Sprintf("%d", h.TotalFailures),
					fmt.Sprintf("%.1f%%", h.SuccessRate*100),
					h.AverageResponseTime.Round(time.Millisecond).String(),
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write a config file with default values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err == nil {
				return fmt.Errorf("%s already exists", args[0])
			}
			if err := config.NewDefault().SaveToFile(args[0]); err != nil {
				return err
			}
			pterm.Success.Println("Wrote " + args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			masked := *cfg
			if masked.Server.Password != "" {
				masked.Server.Password = "********"
			}
			data, err := yaml.Marshal(&masked)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	})

	return cmd
}

// parseDate accepts a date with optional time of day. Date-only input means
// midnight local time.
func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q (want YYYY-MM-DD or \"YYYY-MM-DD HH:MM:SS\")", s)
}
