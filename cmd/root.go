package cmd

import (
	"context"
	"fmt"
	u "net/url"
	"os"
	"path"

	"github.com/spf13/cobra"

	"romdl/internal/download"
	"romdl/internal/output"
	"romdl/internal/queue"
	"romdl/utils"
)

var (
	outputDir     string
	concurrency   int
	workers       int
	extractAfter  bool
	deleteArchive bool
	expectedHash  string
	urlListFile   string
	sessionFile   string
	rateLimit     int64
	userAgent     string
	debug         bool
)

var RomdlVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "romdl [urls...]",
	Short:   "romdl is a resumable download queue with chained archive extraction",
	Version: RomdlVersion,
	Args:    cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		if len(args) == 0 && urlListFile == "" && sessionFile == "" {
			output.PrintError("No URL, URL list or session provided")
			os.Exit(1)
		}
		if expectedHash != "" && len(args) != 1 {
			output.PrintError("--hash applies to a single URL download")
			os.Exit(1)
		}

		cfg := download.DefaultConfig()
		cfg.RateLimit = rateLimit
		if userAgent == "randomize" {
			cfg.UserAgent = utils.GetRandomUserAgent()
		} else if userAgent != "" {
			cfg.UserAgent = userAgent
		}

		if workers <= 0 {
			workers = queue.MaxConcurrencyLimit + 2
		}
		pool := queue.NewPool(workers)
		defer pool.Close()
		display := output.NewDisplay()
		manager := queue.NewManager(pool, cfg, concurrency, display.Callback())

		var items []*queue.Item
		if sessionFile != "" {
			loaded, err := manager.LoadSession(sessionFile, extractAfter, deleteArchive)
			if err != nil {
				output.PrintError(fmt.Sprintf("Failed to load session: %v", err))
				os.Exit(1)
			}
			items = loaded
			output.PrintInfo(fmt.Sprintf("Loaded %d entries from session", len(loaded)))
		}
		if urlListFile != "" {
			entries, err := utils.ReadDownloadList(urlListFile)
			if err != nil {
				output.PrintError("Failed to read URL list file")
				os.Exit(1)
			}
			for _, entry := range entries {
				dest := entry.Dest
				if dest == "" {
					dest = outputDir
				}
				it := queue.NewItem(entry.Name, entry.URL, dest)
				it.ExpectedHash = entry.Hash
				it.ExtractAfter = entry.Extract || extractAfter
				it.DeleteArchive = deleteArchive
				items = append(items, it)
				manager.Enqueue(it)
			}
		}
		for _, rawURL := range args {
			name, err := inferName(rawURL)
			if err != nil {
				output.PrintError("Invalid URL format")
				os.Exit(1)
			}
			it := queue.NewItem(name, rawURL, outputDir)
			it.ExpectedHash = expectedHash
			it.ExtractAfter = extractAfter
			it.DeleteArchive = deleteArchive
			items = append(items, it)
			manager.Enqueue(it)
		}

		display.StartDisplay()
		manager.WaitIdle(context.Background())
		display.Stop()
		display.ShowSummary()

		if sessionFile != "" {
			if err := queue.SaveSession(sessionFile, items); err != nil {
				output.PrintError(fmt.Sprintf("Failed to save session: %v", err))
				os.Exit(1)
			}
		}
	},
}

func inferName(rawURL string) (string, error) {
	parsed, err := u.Parse(rawURL)
	if err != nil {
		return "", err
	}
	name := path.Base(parsed.Path)
	if name == "/" || name == "." || name == "" {
		name = parsed.Host
	}
	return utils.SafeFilename(name), nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&outputDir, "output-dir", "d", ".", "Destination directory for downloads")
	rootCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 3, "Maximum concurrent downloads (clamped to 1-5)")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Worker pool size (defaults to concurrency ceiling + 2)")
	rootCmd.Flags().BoolVarP(&extractAfter, "extract", "x", false, "Extract archives after download")
	rootCmd.Flags().BoolVar(&deleteArchive, "delete-archive", false, "Delete the archive after a successful extraction")
	rootCmd.Flags().StringVar(&expectedHash, "hash", "", "Expected digest for integrity check (MD5/SHA-1/SHA-256, inferred from length)")
	rootCmd.Flags().StringVarP(&urlListFile, "urllist", "l", "", "Path to YAML file with download entries")
	rootCmd.Flags().StringVarP(&sessionFile, "session", "s", "", "Session snapshot to load before and save after the run")
	rootCmd.Flags().Int64Var(&rateLimit, "limit", 0, "Per-download bandwidth limit in bytes per second (0 = unlimited)")
	rootCmd.Flags().StringVarP(&userAgent, "user-agent", "a", "", "User agent ('randomize' picks a browser UA)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
}
