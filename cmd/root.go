package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/extdl/internal/history"
	"github.com/tanq16/extdl/internal/output"
	"github.com/tanq16/extdl/internal/progress"
	"github.com/tanq16/extdl/internal/scheduler"
	"github.com/tanq16/extdl/internal/utils"
)

var (
	debug          bool
	workers        int
	configFile     string
	logFile        string
	progressJSON   bool
	preferred      []string
	downloaderPath map[string]string
	downloaderArgs []string
	historyFile    string
	noHistory      bool
	flagOpts       optionFlags
)

// optionFlags mirrors the option keys that can be set on the command line.
type optionFlags struct {
	retries         string
	fragmentRetries string
	rateLimit       string
	proxy           string
	sourceAddress   string
	maxFilesize     string
	retrySleep      float64
	noCheckCert     bool
	continueDL      bool
	noProgress      bool
	verbose         bool
	quiet           bool
	keepFragments   bool
	noSkipFragments bool
	nativeProgress  bool
	forceKeyframes  bool
	hlsUseMpegts    bool
	test            bool
	overwrite       bool
}

var ExtdlVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "extdl",
	Short:   "extdl downloads media through external downloaders (aria2c, curl, wget, axel, httpie, ffmpeg)",
	Version: ExtdlVersion,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		utils.InitLogger(debug)
		if logFile != "" {
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("error opening log file: %v", err)
			}
			utils.SetLogOutput(f)
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 1, "Number of tasks to download in parallel")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML file with resolved download options")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	rootCmd.PersistentFlags().BoolVar(&progressJSON, "progress-json", false, "Print progress samples as JSON lines instead of the terminal display")
	rootCmd.PersistentFlags().StringSliceVarP(&preferred, "downloader", "d", nil, "External downloaders to try, in order (default: all)")
	rootCmd.PersistentFlags().StringToStringVar(&downloaderPath, "downloader-path", nil, "Executable location per downloader (e.g. ffmpeg=/opt/bin/ffmpeg)")
	rootCmd.PersistentFlags().StringArrayVar(&downloaderArgs, "downloader-args", nil, "Extra arguments as NAME:ARGS (e.g. 'aria2c:-x8 -k1M'); can be repeated")
	rootCmd.PersistentFlags().StringVar(&historyFile, "history", "", "SQLite file recording finished downloads (default: user config dir)")
	rootCmd.PersistentFlags().BoolVar(&noHistory, "no-history", false, "Do not record downloads")

	f := rootCmd.PersistentFlags()
	f.StringVar(&flagOpts.retries, "retries", "", "Retries passed to the downloader (number or 'inf')")
	f.StringVar(&flagOpts.fragmentRetries, "fragment-retries", "", "Retries over the fragment set (number or 'inf')")
	f.StringVarP(&flagOpts.rateLimit, "limit-rate", "r", "", "Maximum download rate (e.g. 50K, 4.2M)")
	f.StringVarP(&flagOpts.proxy, "proxy", "p", "", "Proxy URL")
	f.StringVar(&flagOpts.sourceAddress, "source-address", "", "Client-side IP address or interface to bind to")
	f.StringVar(&flagOpts.maxFilesize, "max-filesize", "", "Abort downloads larger than this size")
	f.Float64Var(&flagOpts.retrySleep, "retry-sleep", 0, "Seconds to wait between fragment retries")
	f.BoolVar(&flagOpts.noCheckCert, "no-check-certificate", false, "Do not verify TLS certificates")
	f.BoolVar(&flagOpts.continueDL, "continue", true, "Resume partially downloaded files")
	f.BoolVar(&flagOpts.noProgress, "no-progress", false, "Suppress the downloaders' own progress output")
	f.BoolVar(&flagOpts.verbose, "verbose", false, "Let downloaders print verbose output")
	f.BoolVarP(&flagOpts.quiet, "quiet", "q", false, "Ask downloaders to be quiet")
	f.BoolVar(&flagOpts.keepFragments, "keep-fragments", false, "Keep fragment files after reassembly")
	f.BoolVar(&flagOpts.noSkipFragments, "abort-on-unavailable-fragments", false, "Fail instead of skipping fragments that cannot be downloaded")
	f.BoolVar(&flagOpts.nativeProgress, "native-progress", true, "Read progress from aria2c RPC and ffmpeg -progress")
	f.BoolVar(&flagOpts.forceKeyframes, "force-keyframes-at-cuts", false, "Re-encode when cutting sections")
	f.BoolVar(&flagOpts.hlsUseMpegts, "hls-use-mpegts", false, "Write HLS downloads as MPEG-TS")
	f.BoolVar(&flagOpts.test, "test", false, "Download only the first bytes")
	f.BoolVar(&flagOpts.overwrite, "overwrite", false, "Replace existing output files")

	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newBackendsCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newHistoryCmd())
}

func historyPath() string {
	if historyFile != "" {
		return historyFile
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "extdl", "history.db")
}

// resolveOptions layers explicitly set flags over the config file and then
// over base (options carried by a batch file).
func resolveOptions(cmd *cobra.Command, base utils.Options) (utils.Options, error) {
	opts := utils.Options{}
	for k, v := range base {
		opts[k] = v
	}
	if configFile != "" {
		fileOpts, err := utils.LoadOptions(configFile)
		if err != nil {
			return nil, err
		}
		for k, v := range fileOpts {
			opts[k] = v
		}
	}
	flags := cmd.Flags()
	set := func(flag, key string, value any) {
		if flags.Changed(flag) {
			opts[key] = value
		}
	}
	set("retries", "retries", flagOpts.retries)
	set("fragment-retries", "fragment_retries", flagOpts.fragmentRetries)
	set("limit-rate", "ratelimit", flagOpts.rateLimit)
	set("proxy", "proxy", flagOpts.proxy)
	set("source-address", "source_address", flagOpts.sourceAddress)
	set("max-filesize", "max_filesize", flagOpts.maxFilesize)
	set("retry-sleep", "retry_sleep", flagOpts.retrySleep)
	set("no-check-certificate", "nocheckcertificate", flagOpts.noCheckCert)
	set("continue", "continuedl", flagOpts.continueDL)
	set("no-progress", "noprogress", flagOpts.noProgress)
	set("verbose", "verbose", flagOpts.verbose)
	set("quiet", "quiet", flagOpts.quiet)
	set("keep-fragments", "keep_fragments", flagOpts.keepFragments)
	set("abort-on-unavailable-fragments", "skip_unavailable_fragments", !flagOpts.noSkipFragments)
	set("force-keyframes-at-cuts", "force_keyframes_at_cuts", flagOpts.forceKeyframes)
	set("hls-use-mpegts", "hls_use_mpegts", flagOpts.hlsUseMpegts)
	set("test", "test", flagOpts.test)
	set("overwrite", "overwrites", flagOpts.overwrite)
	if _, ok := opts["enable_native_progress"]; !ok || flags.Changed("native-progress") {
		opts["enable_native_progress"] = flagOpts.nativeProgress
	}

	if len(downloaderArgs) > 0 {
		argdict := map[string]any{}
		for k, v := range opts.StringSliceMap("external_downloader_args") {
			argdict[k] = v
		}
		for _, entry := range downloaderArgs {
			name, args, ok := strings.Cut(entry, ":")
			if !ok {
				return nil, fmt.Errorf("invalid --downloader-args %q, expected NAME:ARGS", entry)
			}
			argdict[strings.TrimSpace(name)] = strings.Fields(args)
		}
		opts["external_downloader_args"] = argdict
	}
	return opts, nil
}

// runTasks drives the scheduler with the terminal display or the JSON sink
// and exits non-zero if any task failed.
func runTasks(tasks []utils.Task, opts utils.Options) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := scheduler.Config{
		Workers:   workers,
		Options:   opts,
		Preferred: preferred,
		Paths:     downloaderPath,
	}
	toStdout := false
	for _, t := range tasks {
		toStdout = toStdout || t.WritesToPipe()
	}
	var store *history.Store
	if !noHistory {
		var err error
		if store, err = history.Open(historyPath()); err != nil {
			log.Warn().Str("op", "cmd/run").Err(err).Msg("Download history disabled")
		} else {
			cfg.History = store
		}
	}
	var display *output.Manager
	switch {
	case progressJSON && !toStdout:
		cfg.Sinks = append(cfg.Sinks, progress.NewJSONSink(os.Stdout))
	case progressJSON:
		cfg.Sinks = append(cfg.Sinks, progress.NewJSONSink(os.Stderr))
	case !toStdout:
		display = output.NewManager(os.Stdout)
		cfg.Display = display
		display.StartDisplay()
	}

	err := scheduler.Run(ctx, tasks, cfg)
	if display != nil {
		display.StopDisplay()
	}
	if store != nil {
		store.Close()
	}
	if err != nil {
		log.Debug().Str("op", "cmd/run").Err(err).Msg("Run finished with errors")
		os.Exit(1)
	}
}
