// Package main is the scanengine command line tool for recorded scan sessions.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/identify/scanengine/catalog"
	"github.com/identify/scanengine/config"
	"github.com/identify/scanengine/engine"
	"github.com/identify/scanengine/logging"
	"github.com/identify/scanengine/recorder"
)

const (
	// Flags.
	flagConfig = "config"
	flagDebug  = "debug"
	flagFormat = "format"
	flagOutput = "output"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:      "scanengine",
		Usage:     "inspect and export recorded scan sessions",
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "check-config",
				Usage:  "validate a config file and print the resolved settings",
				Action: checkConfigAction,
			},
			{
				Name:   "config-schema",
				Usage:  "print the JSON schema of the config file",
				Action: configSchemaAction,
			},
			{
				Name:      "inspect",
				Usage:     "print the manifest of a session directory",
				ArgsUsage: "SESSION_DIR",
				Action:    inspectAction,
			},
			{
				Name:   "sessions",
				Usage:  "list cataloged recording sessions",
				Action: sessionsAction,
			},
			{
				Name:   "exports",
				Usage:  "list cataloged point cloud exports",
				Action: exportsAction,
			},
			{
				Name:      "export-session",
				Usage:     "rebuild the point cloud of a recorded session and export it",
				ArgsUsage: "SESSION_DIR",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagFormat,
						Usage: "export format, one of pcd, las or ply. Defaults to the config's format",
					},
					&cli.StringFlag{
						Name:  flagOutput,
						Usage: "write the export into `DIR` instead of the config's export directory",
					},
				},
				Action: exportSessionAction,
			},
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String(flagConfig)
	if path == "" {
		return nil, errors.Errorf("--%s is required for %s", flagConfig, c.Command.Name)
	}
	return config.Read(path)
}

func newLogger(c *cli.Context, cfg *config.Config) (logging.Logger, io.Closer) {
	logger, closer := cfg.Log.NewLogger("scanengine")
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
	}
	return logger, closer
}

func checkConfigAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Setting", "Value"})
	t.AppendRow(table.Row{"output_dir", cfg.OutputDir})
	t.AppendRow(table.Row{"export_dir", cfg.ExportDir})
	t.AppendRow(table.Row{"catalog_path", cfg.CatalogPath})
	t.AppendRow(table.Row{"point_capacity", cfg.PointCapacity})
	t.AppendRow(table.Row{"unproject.stride", cfg.Unproject.Stride})
	t.AppendRow(table.Row{"unproject.min_confidence", cfg.Unproject.MinConfidence})
	t.AppendRow(table.Row{"recorder.workers", cfg.Recorder.Workers})
	t.AppendRow(table.Row{"recorder.queue_size", cfg.Recorder.QueueSize})
	t.AppendRow(table.Row{"recorder.min_free_disk", units.HumanSize(float64(cfg.Recorder.MinFreeDiskBytes()))})
	t.AppendRow(table.Row{"export.format", cfg.Export.Format})
	t.AppendRow(table.Row{"render.frame_budget", cfg.Render.Budget()})
	fmt.Fprintf(c.App.Writer, "%s is valid\n%s\n", cfg.ConfigFilePath, t.Render())
	return nil
}

func configSchemaAction(c *cli.Context) error {
	data, err := json.MarshalIndent(config.Schema(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(data))
	return nil
}

func inspectAction(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return errors.New("a session directory is required")
	}
	m, err := recorder.ReadManifest(dir)
	if err != nil {
		return errors.Wrapf(err, "reading manifest of %s", dir)
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Session", "Started", "Duration", "Queued", "Written", "Failed", "Dropped"})
	t.AppendRow(table.Row{
		m.ID, formatTime(m.StartedAt), formatDuration(m.StartedAt, m.StoppedAt),
		m.FramesQueued, m.FramesWritten, m.FramesFailed, m.FramesDropped,
	})
	fmt.Fprintf(c.App.Writer, "format version %s\n%s\n", m.FormatVersion, t.Render())
	return nil
}

// withCatalog opens the catalog named by the config for the duration of fn.
func withCatalog(c *cli.Context, fn func(cat *catalog.Catalog) error) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.CatalogPath == "" {
		return errors.New("config has no catalog_path")
	}
	logger, closer := newLogger(c, cfg)
	defer goutils.UncheckedErrorFunc(closer.Close)

	cat, err := catalog.Open(cfg.CatalogPath, logger.Sublogger("catalog"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, cat.Close())
	}()
	return fn(cat)
}

func sessionsAction(c *cli.Context) error {
	return withCatalog(c, func(cat *catalog.Catalog) error {
		sessions, err := cat.Sessions(c.Context)
		if err != nil {
			return err
		}
		t := table.NewWriter()
		t.AppendHeader(table.Row{"#", "Session", "Started", "Duration", "Written", "Failed", "Dropped", "Dir"})
		for i, s := range sessions {
			t.AppendRow(table.Row{
				i + 1, s.ID, formatTime(s.StartedAt), formatDuration(s.StartedAt, s.StoppedAt),
				s.FramesWritten, s.FramesFailed, s.FramesDropped, s.Dir,
			})
		}
		fmt.Fprintln(c.App.Writer, t.Render())
		return nil
	})
}

func exportsAction(c *cli.Context) error {
	return withCatalog(c, func(cat *catalog.Catalog) error {
		exports, err := cat.Exports(c.Context)
		if err != nil {
			return err
		}
		t := table.NewWriter()
		t.AppendHeader(table.Row{"#", "Created", "Format", "Points", "Size", "Session", "Path"})
		for i, e := range exports {
			t.AppendRow(table.Row{
				i + 1, formatTime(e.CreatedAt), e.Format, e.Points, units.HumanSize(float64(e.Bytes)), e.SessionID, e.Path,
			})
		}
		fmt.Fprintln(c.App.Writer, t.Render())
		return nil
	})
}

func exportSessionAction(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return errors.New("a session directory is required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if format := c.String(flagFormat); format != "" {
		cfg.Export.Format = format
	}
	if output := c.String(flagOutput); output != "" {
		cfg.ExportDir = output
	}
	logger, closer := newLogger(c, cfg)
	defer goutils.UncheckedErrorFunc(closer.Close)

	path, err := engine.ExportSession(c.Context, cfg, dir, logger)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, path)
	return nil
}

func formatTime(t time.Time) string {
	return t.Local().Format(time.DateTime)
}

func formatDuration(started time.Time, stopped *time.Time) string {
	if stopped == nil {
		return "recording"
	}
	return stopped.Sub(started).Round(time.Second).String()
}
