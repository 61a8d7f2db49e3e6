// Command eae extracts changed game archives and collects what changed
// between game versions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	internal "github.com/ZanzyTHEbar/enhanced-archive-extractor/eae"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/config"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/hashstore"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/journal"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/metrics"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/pipeline"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/process"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// cli carries the state shared by every subcommand.
type cli struct {
	v          *viper.Viper
	configPath string
	noPause    bool
	yes        bool
	ui         *terminal
}

func main() {
	c := &cli{v: config.NewViper(), ui: newTerminal()}
	if err := c.rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func (c *cli) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(c.v, c.configPath)
	if err != nil {
		return nil, internal.GetLogger(), err
	}
	return cfg, internal.NewLogger(cfg.Log.Level), nil
}

func (c *cli) rootCmd() *cobra.Command {
	var track, previews bool

	root := &cobra.Command{
		Use:   internal.DefaultAppName,
		Short: "Incrementally extract game archives and collect what changed",
		Long: `eae re-extracts only the archive groups whose data files changed since the
last run. With change tracking enabled, every new or modified extracted file is
copied into Changed/<timestamp>, and previews can be rendered for changed
blueprints.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer c.pause()

			opts := pipeline.Options{TrackChanges: track, CreatePreviews: previews}
			if !c.yes && !c.ui.Confirm("Do you wish to proceed with this extraction?", false) {
				c.ui.Output("Extraction cancelled.")
				return nil
			}
			if !cmd.Flags().Changed("track") {
				opts.TrackChanges = c.ui.Confirm("Do you wish to have a separate directory with changes created for this version?", false)
			}
			if opts.TrackChanges && !cmd.Flags().Changed("previews") {
				c.ui.Output("Previews can take a long time and a lot of CPU, are skipped until changes have been tracked once, and clear the catalog folder.")
				opts.CreatePreviews = c.ui.Confirm("Do you want to create PNG previews of the changed blueprints?", false)
			}
			return c.run(cmd.Context(), opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "config file (default ./eae.yaml or ~/.config/eae/eae.yaml)")
	pf.String("root", "", "game install directory (default current directory)")
	pf.String("log-level", "", "log level: trace, debug, info, warn or error")
	pf.BoolVar(&c.noPause, "no-pause", false, "do not wait for Enter before exiting")
	pf.BoolVarP(&c.yes, "yes", "y", false, "answer yes to the confirmation prompt")
	c.bind("root", pf.Lookup("root"))
	c.bind("log.level", pf.Lookup("log-level"))

	f := root.Flags()
	f.BoolVar(&track, "track", false, "copy new and modified files into the change directory")
	f.BoolVar(&previews, "previews", false, "render previews of changed blueprints")
	f.Int("max-processes", 0, "maximum concurrent extraction processes")
	f.Bool("check-exit-codes", false, "treat non-zero tool exit codes as failures")
	f.Bool("follow-symlinks", false, "descend into symlinked directories")
	f.String("metrics-textfile", "", "write Prometheus metrics to this file after the run")
	c.bind("extract.maxProcesses", f.Lookup("max-processes"))
	c.bind("process.checkExitCodes", f.Lookup("check-exit-codes"))
	c.bind("walk.followSymlinks", f.Lookup("follow-symlinks"))
	c.bind("metrics.textfile", f.Lookup("metrics-textfile"))

	root.AddCommand(c.historyCmd(), c.restoreCmd())
	return root
}

func (c *cli) bind(key string, flag *pflag.Flag) {
	if err := c.v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

func (c *cli) pause() {
	if !c.noPause {
		c.ui.Pause("Press Enter to exit...")
	}
}

func (c *cli) run(parent context.Context, opts pipeline.Options) error {
	cfg, logger, err := c.load()
	if err != nil {
		c.ui.Error("Could not load configuration", err)
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	var j pipeline.Journal
	if cfg.Journal.Enabled {
		jr, err := journal.Open(cfg.Path(cfg.Journal.Path), logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Continuing without run journal")
		} else {
			defer jr.Close()
			j = jr
		}
	}

	runner, err := pipeline.Build(cfg, process.ExecLauncher{}, j, metrics.New(), c.ui, logger)
	if err != nil {
		c.ui.Error("Could not prepare the run", err)
		return err
	}

	s, err := runner.Run(ctx, opts)
	if err != nil {
		logger.Error().Err(err).Msg("Run failed")
		c.ui.Error("An error occurred", err)
		return err
	}

	c.ui.Output(fmt.Sprintf("All files have been exported. %d archive groups extracted.", len(s.Extract.Extracted)))
	switch {
	case s.Baseline.Baseline && s.ChangeDir == "" && opts.TrackChanges:
		c.ui.Output("Current file state recorded for future change logging.")
	case s.ChangeDir != "":
		c.ui.Output(fmt.Sprintf("Changes logged in %s", s.ChangeDir))
	}
	return nil
}

// report shows err to the user before it is returned, since errors are not
// printed by cobra.
func (c *cli) report(message string, err error) error {
	if err != nil {
		c.ui.Error(message, err)
	}
	return err
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs, or the changes of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.report("Could not read run history", c.history(cmd, args, limit))
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show, 0 for all")
	return cmd
}

func (c *cli) history(cmd *cobra.Command, args []string, limit int) error {
	cfg, logger, err := c.load()
	if err != nil {
		return err
	}
	j, err := journal.Open(cfg.Path(cfg.Journal.Path), logger)
	if err != nil {
		return err
	}
	defer j.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()

	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", args[0], err)
		}
		records, err := j.Changes(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "STATUS\tPATH\tOLD\tNEW")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Status, r.Path, short(r.OldDigest), short(r.NewDigest))
		}
		return nil
	}

	runs, err := j.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tEXTRACTED\tCHANGES\tROOT")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Status, r.Extracted, r.Changes, r.Root)
	}
	return nil
}

func (c *cli) restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup>",
		Short: "Replace the hash log with a backup left by an interrupted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.report("Could not restore the hash log", c.restore(args[0]))
		},
	}
}

func (c *cli) restore(backup string) error {
	cfg, logger, err := c.load()
	if err != nil {
		return err
	}
	store := hashstore.New(cfg.Root, cfg.HashLog, logger)
	if !c.yes && !c.ui.Confirm(fmt.Sprintf("Overwrite %s with %s?", store.Path(), backup), false) {
		c.ui.Output("Restore cancelled.")
		return nil
	}
	if err := store.Restore(backup); err != nil {
		return err
	}
	if err := store.RemoveBackup(backup); err != nil {
		logger.Warn().Err(err).Msg("Backup restored but not removed")
	}
	c.ui.Output(fmt.Sprintf("Restored %s from %s", store.Path(), backup))
	return nil
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
