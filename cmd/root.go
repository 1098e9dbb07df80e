package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/shiena/ansicolor"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/anaxi/internal/download"
	"github.com/kiesman99/anaxi/internal/stitch"
	"github.com/kiesman99/anaxi/internal/stitcher"
	"github.com/kiesman99/anaxi/pkg/tile"
)

// Version is reported by the API health endpoint.
var Version = "0.3.0"

// ExitResourceUnavailable is returned when stitching is impossible for the
// requested format. Downloaded tiles are kept.
const ExitResourceUnavailable = 10

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "anaxi <latStart> <lonStart> <latEnd> <lonEnd> <zoom> <tileServer>",
	Short: "Download and stitch tile images from GIS / TMS tile servers",
	Long: `anaxi downloads every map tile covering a bounding box at one zoom level
and stitches them into a single image.

The tile server is either a URL template with %zoom%, %xTile% and %yTile%
(or {z}, {x}, {y}) placeholders, or the ID of a known source (see 'anaxi sources').
Tiles are kept in <name>/raw and reused on later runs.

Examples:
  # Boston at zoom 17 from OpenStreetMap
  anaxi 42.363531 -71.096362 42.354185 -71.069741 17 https://tile.openstreetmap.org/%zoom%/%xTile%/%yTile%.png

  # Same area from known source 18 (Esri Satellite), saved as boston.jpg
  anaxi 42.363531 -71.096362 42.354185 -71.069741 17 18 --name boston --format .jpg

  # Only print the tile range
  anaxi 42.363531 -71.096362 42.354185 -71.069741 17 0 --dry-run

  # Start HTTP server
  anaxi serve --port 8080`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetBool("list-sources") {
			sources, err := knownSources()
			if err != nil {
				return err
			}
			return printSources(cmd.OutOrStdout(), sources, "text")
		}
		// If no args, show help
		if len(args) == 0 {
			return cmd.Help()
		}
		return runStitch(cmd, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetArgs(protectNegativeNumbers(os.Args[1:]))
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(ExitCode(err))
	}
}

// ExitCode maps a run error to the process exit status: the HTTP status of a
// failed tile request, ExitResourceUnavailable, or 1.
func ExitCode(err error) int {
	var httpErr *download.HTTPError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &httpErr):
		return httpErr.StatusCode
	case errors.Is(err, stitcher.ErrResourceUnavailable):
		return ExitResourceUnavailable
	default:
		return 1
	}
}

// protectNegativeNumbers prefixes negative numbers with a space so the flag
// parser keeps them as positional arguments. runStitch trims them again.
func protectNegativeNumbers(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a
		if len(a) > 1 && a[0] == '-' {
			if _, err := strconv.ParseFloat(a, 64); err == nil {
				out[i] = " " + a
			}
		}
	}
	return out
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.anaxi.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().Int("workers", 4, "parallel tile downloads")
	rootCmd.PersistentFlags().String("user-agent", download.DefaultUserAgent, "HTTP User-Agent header")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "tile request timeout")

	// Output options
	rootCmd.Flags().String("name", tile.DefaultName, "where to save tiles / map")
	rootCmd.Flags().StringP("format", "f", "", "format to save the stitched map as (default: tile format)")
	rootCmd.Flags().StringP("output-dir", "o", ".", "directory holding the <name> folder")
	rootCmd.Flags().Bool("no-stitch", false, "don't stitch tiles together")
	rootCmd.Flags().Bool("force-download", false, "download tiles even if they exist; keep going after failures")
	rootCmd.Flags().Bool("dry-run", false, "print download area and expected number of tiles, then exit")
	rootCmd.Flags().Bool("list-sources", false, "print known tile sources and exit")
	rootCmd.Flags().Bool("mbtiles", false, "also write the tiles into an MBTiles archive")
	rootCmd.Flags().BoolP("worldfile", "w", false, "write world file")
	rootCmd.Flags().Int64("max-pixels", 0, "refuse to stitch images larger than this many pixels (0 = unlimited)")

	// Bind flags to viper
	for _, name := range []string{"workers", "user-agent", "timeout"} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
	for _, name := range []string{"name", "format", "output-dir", "no-stitch", "force-download", "dry-run", "list-sources", "mbtiles", "worldfile", "max-pixels"} {
		viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "15:04:05.000",
	})
	log.SetOutput(ansicolor.NewAnsiColorWriter(os.Stderr))
	log.SetLevel(log.InfoLevel)
	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".anaxi" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".anaxi")
	}

	viper.SetEnvPrefix("anaxi")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
}

// knownSources returns the built-in sources plus those listed under "sources"
// in the config file.
func knownSources() ([]tile.Source, error) {
	var extra []tile.Source
	if err := viper.UnmarshalKey("sources", &extra); err != nil {
		return nil, fmt.Errorf("config key sources: %w", err)
	}
	return tile.Sources(extra...), nil
}

func parseCoordinate(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, strings.TrimSpace(s), err)
	}
	return v, nil
}

func runStitch(cmd *cobra.Command, args []string) error {
	if len(args) != 6 {
		return fmt.Errorf("expected 6 arguments <latStart> <lonStart> <latEnd> <lonEnd> <zoom> <tileServer>, got %d", len(args))
	}

	var coords [4]float64
	for i, name := range []string{"latStart", "lonStart", "latEnd", "lonEnd"} {
		v, err := parseCoordinate(name, args[i])
		if err != nil {
			return err
		}
		coords[i] = v
	}
	zoom, err := strconv.Atoi(strings.TrimSpace(args[4]))
	if err != nil {
		return fmt.Errorf("invalid zoom %q: %w", args[4], err)
	}

	sources, err := knownSources()
	if err != nil {
		return err
	}

	// Usage is only useful for argument errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := stitch.Options{
		Start:     tile.GeoPoint{Lat: coords[0], Lon: coords[1]},
		End:       tile.GeoPoint{Lat: coords[2], Lon: coords[3]},
		Zoom:      zoom,
		Server:    strings.TrimSpace(args[5]),
		Sources:   sources,
		Name:      viper.GetString("name"),
		Format:    viper.GetString("format"),
		NoStitch:  viper.GetBool("no-stitch"),
		Force:     viper.GetBool("force-download"),
		DryRun:    viper.GetBool("dry-run"),
		WorldFile: viper.GetBool("worldfile"),
		MBTiles:   viper.GetBool("mbtiles"),
		Workers:   viper.GetInt("workers"),
		UserAgent: viper.GetString("user-agent"),
		OutputDir: viper.GetString("output-dir"),
		MaxPixels: viper.GetInt64("max-pixels"),
		Command:   strings.Join(os.Args, " "),
		Client:    &http.Client{Timeout: viper.GetDuration("timeout")},
		Log:       log.StandardLogger(),
	}
	if !verbose {
		opts.Progress = cmd.ErrOrStderr()
	}

	res, err := stitch.NewStitcher(opts).Run(ctx)
	if err != nil {
		if errors.Is(err, stitcher.ErrResourceUnavailable) && res != nil && res.Download != nil {
			log.Warnf("Tiles were downloaded to %s but could not be stitched", res.RawDir)
		}
		return err
	}
	if res.MapFile != "" {
		fmt.Fprintln(cmd.OutOrStdout(), res.MapFile)
	}
	return nil
}
