package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ViniZap4/ytnotes-server/config"
	"github.com/ViniZap4/ytnotes-server/domain"
	"github.com/ViniZap4/ytnotes-server/logger"
	"github.com/ViniZap4/ytnotes-server/notes"
	"github.com/ViniZap4/ytnotes-server/store"
)

type commandContext struct {
	cfg *config.Config
	log zerolog.Logger
}

func newRootCommand() *cobra.Command {
	cc := &commandContext{}
	var storeFlag, fileFlag string

	rootCmd := &cobra.Command{
		Use:           "ytnotes",
		Short:         "Timestamped YouTube notes server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, dotenv := config.Load()
			if storeFlag != "" {
				cfg.Store.Driver = storeFlag
			}
			if fileFlag != "" {
				cfg.Store.FilePath = fileFlag
			}
			cc.cfg = cfg
			cc.log = logger.New(logger.Options{
				Level:      cfg.Logging.Level,
				FilePath:   cfg.Logging.FilePath,
				Production: cfg.IsProduction(),
			})
			if !dotenv {
				cc.log.Debug().Msg(".env file not found, using system environment")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Store driver (memory, file, postgres, redis)")
	rootCmd.PersistentFlags().StringVar(&fileFlag, "file", "", "Path of the file store")

	rootCmd.AddCommand(newServeCommand(cc))
	rootCmd.AddCommand(newMigrateCommand(cc))
	rootCmd.AddCommand(newExportCommand(cc))
	rootCmd.AddCommand(newImportCommand(cc))
	rootCmd.AddCommand(newNotesCommand(cc))
	return rootCmd
}

func (cc *commandContext) storeOptions() store.Options {
	return store.Options{
		Driver:      cc.cfg.Store.Driver,
		FilePath:    cc.cfg.Store.FilePath,
		DatabaseURL: cc.cfg.Store.DatabaseURL,
		RedisURL:    cc.cfg.Store.RedisURL,
		AutoMigrate: true,
	}
}

// openService opens the configured bucket for a one-shot command.
func (cc *commandContext) openService(cmd *cobra.Command) (*notes.Service, func(), error) {
	bucket, err := store.Open(cmd.Context(), cc.storeOptions())
	if err != nil {
		return nil, nil, err
	}
	svc := notes.NewService(bucket,
		notes.WithLogger(cc.log),
		notes.WithServerID(cc.cfg.Sync.ServerID),
		notes.WithMaxRetries(cc.cfg.Store.MaxRetries),
	)
	return svc, func() { bucket.Close() }, nil
}

func newMigrateCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cc.cfg.Store.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			if err := store.Migrate(cc.cfg.Store.DatabaseURL); err != nil {
				return err
			}
			cc.log.Info().Msg("migrations applied")
			return nil
		},
	}
}

func newExportCommand(cc *commandContext) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the Store as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := cc.openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			st, _, err := svc.Snapshot(cmd.Context())
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			enc := yaml.NewEncoder(w)
			enc.SetIndent(2)
			if err := enc.Encode(st); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func newImportCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Merge an exported Store into the configured one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var incoming domain.Store
			if err := yaml.Unmarshal(data, &incoming); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			svc, closeFn, err := cc.openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			changed, err := svc.Merge(cmd.Context(), &incoming)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged %s (changed: %t)\n", args[0], changed)
			return nil
		},
	}
}

func newNotesCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "notes [folder]",
		Short: "List the notes of a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := cc.openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			folder := domain.DefaultFolder
			if len(args) == 1 {
				folder = args[0]
			}
			list, err := svc.ListNotes(cmd.Context(), folder)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderNotes(list))
			return nil
		},
	}
}

func renderNotes(list []domain.Note) string {
	rows := make([][]string, 0, len(list))
	for i, n := range list {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			domain.FormatTimestamp(n.Timestamp),
			n.Description,
			n.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	if len(rows) == 0 {
		return "No notes in this folder"
	}
	return renderTable(
		[]string{"#", "Time", "Note", "Created"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft},
	)
}
