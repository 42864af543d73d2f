package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"skymosaic/internal/cache"
	"skymosaic/internal/config"
	"skymosaic/internal/export"
	"skymosaic/internal/fetch"
	"skymosaic/internal/fsutil"
	"skymosaic/internal/healpix"
	"skymosaic/internal/pipeline"
	"skymosaic/internal/report"
	"skymosaic/internal/server"
	"skymosaic/internal/storage"
	"skymosaic/internal/watch"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline, c *cache.Cache, surveys *fetch.SurveySet, fetcher *fetch.Fetcher) *cobra.Command {
	root := NewRoot(pipe, cfg, log, store, c, surveys, fetcher)

	rootCmd := &cobra.Command{
		Use:   "skymosaic",
		Short: "Skymosaic assembles annotated sky mosaics around a target",
		Long: `Skymosaic builds a 3x3 tile mosaic from an all-sky survey, centered on a
target coordinate, with the tiles cached locally and the target marked
in the final crop.`,
	}

	rootCmd.AddCommand(newCreateCmd(root))
	rootCmd.AddCommand(newSurveysCmd(root))
	rootCmd.AddCommand(newCacheCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newConvertCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newCreateCmd(root *Root) *cobra.Command {
	var (
		survey string
		order  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "create <name> <ra_deg> <dec_deg>",
		Short: "Assemble a mosaic centered on a target",
		Long: `Assemble a mosaic around the given equatorial coordinates.

Examples:
  # Andromeda with the default survey
  skymosaic create "Andromeda Galaxy" 10.6847 41.2687

  # Infrared view at a coarser resolution
  skymosaic create M13 250.4235 36.4613 --survey "2MASS Color" --order 6`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			ra, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("bad RA %q", args[1])
			}
			dec, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("bad Dec %q", args[2])
			}
			if dec < -90 || dec > 90 {
				return fmt.Errorf("Dec %v out of range [-90,90]", dec)
			}

			if survey == "" {
				survey = root.cfg.Mosaic.DefaultSurvey
			}
			if _, ok := root.surveys.Get(survey); !ok {
				return fmt.Errorf("unknown survey %q, see 'skymosaic surveys list'", survey)
			}
			if output == "" {
				output = filepath.Join(root.cfg.Paths.OutputDir, fsutil.SafeName(name)+".png")
			}

			job := pipeline.Job{
				ID:     newID("run"),
				Target: healpix.SkyPosition{Name: name, RADeg: ra, DecDeg: dec}.Normalized(),
				Survey: survey,
				Order:  order,
				Output: output,
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}

	cmd.Flags().StringVarP(&survey, "survey", "s", "", "survey to fetch tiles from (default from config)")
	cmd.Flags().IntVar(&order, "order", 0, "pixelization order, 0 uses the configured default")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output PNG path")

	return cmd
}

// probeTargets spread across both hemispheres and the pole so a survey
// with partial sky coverage shows up in the probe.
var probeTargets = []healpix.SkyPosition{
	{Name: "Andromeda Galaxy", RADeg: 10.6847, DecDeg: 41.2687},
	{Name: "Galactic center", RADeg: 266.4168, DecDeg: -29.0078},
	{Name: "Large Magellanic Cloud", RADeg: 80.8942, DecDeg: -69.7561},
	{Name: "Polaris", RADeg: 37.9545, DecDeg: 89.2641},
	{Name: "M13", RADeg: 250.4235, DecDeg: 36.4613},
}

const probeWorkingThreshold = 0.8

func newSurveysCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "surveys",
		Short: "List or probe the configured surveys",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List configured surveys",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range root.surveys.All() {
				fmt.Printf("%-16s %s  tile %dpx  max order %d  %.2f\"/px\n",
					s.Name, s.BaseURL, s.TileSize, s.MaxOrder, s.ArcsecPerPixel)
			}
			return nil
		},
	}

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Fetch one tile per survey per probe position and report availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var results []report.ProbeResult

			for _, s := range root.surveys.All() {
				order := 3
				if s.MaxOrder > 0 && order > s.MaxOrder {
					order = s.MaxOrder
				}
				ok := 0
				for _, target := range probeTargets {
					idx, err := healpix.IndexFor(target, order)
					if err != nil {
						return err
					}
					start := time.Now()
					data, err := root.fetcher.Get(ctx, s.TileURL(idx.Value, order))
					pr := report.ProbeResult{
						Survey:   s.Name,
						Target:   target.Name,
						RADeg:    target.RADeg,
						DecDeg:   target.DecDeg,
						Duration: time.Since(start),
					}
					if err != nil {
						pr.Error = err.Error()
					} else {
						pr.OK = true
						pr.Size = int64(len(data))
						ok++
					}
					results = append(results, pr)
				}

				rate := float64(ok) / float64(len(probeTargets))
				status := "WORKING"
				if rate < probeWorkingThreshold {
					status = "DEGRADED"
				}
				fmt.Printf("%-16s %d/%d tiles  %s\n", s.Name, ok, len(probeTargets), status)
			}

			if err := fsutil.EnsureDir(root.cfg.Paths.OutputDir); err != nil {
				return err
			}
			path, err := report.WriteProbeCSV(root.cfg.Paths.OutputDir, results)
			if err != nil {
				return err
			}
			fmt.Printf("probe report: %s\n", path)
			return nil
		},
	}

	cmd.AddCommand(listCmd, probeCmd)
	return cmd
}

func newCacheCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or prune the tile cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := root.cache.Stats()
			fmt.Printf("entries: %d\n", st.Entries)
			fmt.Printf("size:    %.1f MiB\n", float64(st.TotalBytes)/(1024*1024))
			fmt.Printf("hits:    %d\n", st.TotalHits)
			if !st.OldestEntry.IsZero() {
				fmt.Printf("oldest:  %s\n", st.OldestEntry.Format(time.RFC3339))
			}
			return nil
		},
	}

	var olderThanHours int
	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Evict cache entries older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThanHours <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			n, err := root.cache.EvictOlderThan(time.Duration(olderThanHours) * time.Hour)
			if err != nil {
				return err
			}
			fmt.Printf("evicted %d entries\n", n)
			return nil
		},
	}
	cleanCmd.Flags().IntVar(&olderThanHours, "older-than", 0, "evict entries older than this many hours")
	cleanCmd.MarkFlagRequired("older-than")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := root.cache.Clear()
			if err != nil {
				return err
			}
			fmt.Printf("removed %d entries\n", n)
			return nil
		},
	}

	cmd.AddCommand(statsCmd, cleanCmd, clearCmd)
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr      string
		watchDir  string
		withWatch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with an optional target drop directory",
		Long: `Start an HTTP server exposing run history, survey info, cache stats
and a live result stream.

Examples:
  skymosaic serve --addr :8480
  skymosaic serve --watch --watch-dir ./targets`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			realPipeline, ok := root.pipeline.(*pipeline.Pipeline)
			if !ok {
				return fmt.Errorf("pipeline unavailable for server startup")
			}

			if withWatch {
				if watchDir == "" {
					watchDir = root.cfg.Paths.WatchDir
				}
				w, err := watch.New(watchDir, root.cfg.Mosaic.DefaultSurvey, root.cfg.Paths.OutputDir, realPipeline, root.log)
				if err != nil {
					return fmt.Errorf("watcher: %w", err)
				}
				if err := w.Start(); err != nil {
					return fmt.Errorf("watcher: %w", err)
				}
				defer w.Stop()
			}

			srv := server.NewServer(addr, root.store, realPipeline, root.cache, root.surveys, root.log)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8480", "server address (host:port)")
	cmd.Flags().BoolVar(&withWatch, "watch", false, "also watch a drop directory for target lists")
	cmd.Flags().StringVar(&watchDir, "watch-dir", "", "drop directory (default from config)")

	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		dir    string
		survey string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a drop directory for target list files",
		Long: `Watch a directory for .txt target lists and assemble a mosaic for
every target they contain. A list holds one target per line:

  Andromeda Galaxy 10.6847 41.2687`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if dir == "" {
				dir = root.cfg.Paths.WatchDir
			}
			if survey == "" {
				survey = root.cfg.Mosaic.DefaultSurvey
			}

			w, err := watch.New(dir, survey, root.cfg.Paths.OutputDir, root.pipeline, root.log)
			if err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				return err
			}
			defer w.Stop()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory to watch (default from config)")
	cmd.Flags().StringVarP(&survey, "survey", "s", "", "survey for submitted targets (default from config)")

	return cmd
}

func newConvertCmd(root *Root) *cobra.Command {
	var quality int

	cmd := &cobra.Command{
		Use:   "convert <input> <output>",
		Short: "Convert a mosaic to another image format",
		Long: `Convert an assembled mosaic with ImageMagick. The output format is
taken from the output file extension (jpg, png, tif).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := export.Convert(args[0], args[1], quality); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", args[1])
			return nil
		},
	}

	cmd.Flags().IntVarP(&quality, "quality", "q", 92, "JPEG quality (1-100)")

	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			fmt.Printf("Configuration:\n\n")
			fmt.Printf("Default Survey: %s\n", cfg.Mosaic.DefaultSurvey)
			fmt.Printf("Order:          %d\n", cfg.Mosaic.Order)
			fmt.Printf("Crop Size:      %d px\n", cfg.Mosaic.CropSize)
			fmt.Printf("Annotate:       %v\n", cfg.Mosaic.Annotate)
			fmt.Printf("Fetch Timeout:  %ds\n", cfg.Fetch.TimeoutSeconds)
			fmt.Printf("Cache Dir:      %s\n", cfg.Cache.Dir)
			fmt.Printf("Output Dir:     %s\n", cfg.Paths.OutputDir)
			fmt.Printf("Database Path:  %s\n", cfg.Paths.DatabasePath)
			fmt.Printf("Watch Dir:      %s\n", cfg.Paths.WatchDir)
			fmt.Printf("Server Addr:    %s\n", cfg.Server.Addr)
			fmt.Printf("Log Level:      %s\n", cfg.Logging.Level)
			fmt.Printf("Surveys:        %d configured\n", len(cfg.Surveys))
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := fetch.NewSurveySet(root.cfg.Surveys); err != nil {
				return fmt.Errorf("surveys: %w", err)
			}
			if root.cfg.Mosaic.Order < 1 || root.cfg.Mosaic.Order > healpix.MaxOrder {
				return fmt.Errorf("mosaic.order %d out of range", root.cfg.Mosaic.Order)
			}
			if root.cfg.Mosaic.CropSize <= 0 {
				return fmt.Errorf("mosaic.crop_size must be positive")
			}
			fmt.Println("configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("skymosaic v1.0.0")
		},
	}
}
