// Package main is the simdex CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/simdex/internal/cli"
	"github.com/hyperjump/simdex/internal/config"
	"github.com/hyperjump/simdex/internal/library"
	"github.com/hyperjump/simdex/internal/models"
	"github.com/hyperjump/simdex/internal/server"
	"github.com/hyperjump/simdex/internal/vecindex"
	"github.com/hyperjump/simdex/internal/watcher"
	"github.com/hyperjump/simdex/pkg/utils"
)

var version = "dev"

const (
	defaultServerURL = "http://localhost:8080"
	clientTimeout    = 60 * time.Second
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded (for saving watch directories).
func loadConfig(path string) (*config.Config, string, error) {
	if path == config.DefaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "server":
		runServer()
	case "add":
		runAdd()
	case "search":
		runSearch()
	case "list":
		runList()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "version":
		fmt.Printf("simdex %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runServer() {
	fset := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fset.String("config", config.DefaultConfigPath, "config file path")
	debug := fset.Bool("debug", false, "enable debug logging (file events, adds, requests)")
	_ = fset.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	if *debug {
		cfg.Debug = true
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lib, err := library.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open index", zap.Error(err))
	}
	defer lib.Close()

	watchSvc := watcher.New(lib, watcher.Options{
		Extensions: cfg.Watch.Extensions,
		Recursive:  cfg.Watch.RecursiveOrDefault(),
		Logger:     logger,
	})
	if err := watchSvc.Start(ctx, cfg.Watch.Directories); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}

	srv := server.New(lib, logger, server.WithWatch(watchSvc), server.WithConfigPath(resolvedConfigPath))
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchSvc.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}

// remoteOrLocal runs remote against the server at serverURL. When serverURL is empty or the
// server cannot be reached, it opens the index from the config at configPath and runs local.
func remoteOrLocal[T any](serverURL, configPath string, remote func(*cli.Client) (T, error), local func(*library.Library) (T, error)) (T, error) {
	if serverURL != "" {
		out, err := remote(cli.NewClient(serverURL, clientTimeout))
		if err == nil || !errors.Is(err, cli.ErrUnreachable) {
			return out, err
		}
	}
	var zero T
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return zero, fmt.Errorf("load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return zero, err
	}
	defer logger.Sync()
	lib, err := library.Open(context.Background(), cfg, logger)
	if err != nil {
		return zero, fmt.Errorf("open index: %w", err)
	}
	defer lib.Close()
	return local(lib)
}

// reorderArgs moves any flags (and their values) that appear after the positional
// arguments to the front, so flag.Parse sees them: "simdex search budget -k 3".
func reorderArgs(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinQuery joins positional args so multi-word queries work with or without quotes.
func joinQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func parseOutput(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fatalf("%v", err)
	}
	return format
}

func printSearchUsage(fset *flag.FlagSet) {
	fmt.Fprintf(fset.Output(), "Usage: simdex search [flags] <query>\n       simdex search [flags] -file <path>\n\n")
	fset.PrintDefaults()
	fmt.Fprintf(fset.Output(), `
Results are the k nearest documents by embedding distance, best first.

Examples:
  simdex search machine learning
  simdex search -k 10 "quarterly budget"
  simdex search -file notes/draft.md       # documents similar to a file
  simdex search -output json invoice       # structured JSON for other apps
`)
}

func runSearch() {
	fset := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fset.String("config", config.DefaultConfigPath, "config file path (for direct index access)")
	serverURL := fset.String("server", defaultServerURL, "server URL (empty = open the index directly)")
	k := fset.Int("k", 0, "number of results (default from config)")
	file := fset.String("file", "", "search by the text of this file instead of a query")
	output := fset.String("output", "text", "output format: text, compact, or json")
	fset.Usage = func() { printSearchUsage(fset) }
	_ = fset.Parse(reorderArgs(os.Args[2:]))

	format := parseOutput(*output)
	query := joinQuery(fset.Args())
	if query == "" && *file == "" {
		printSearchUsage(fset)
		os.Exit(1)
	}

	ctx := context.Background()
	resp, err := remoteOrLocal(*serverURL, *configPath,
		func(c *cli.Client) (*models.SearchResponse, error) {
			if *file != "" {
				return c.SearchFile(ctx, *file, *k)
			}
			return c.Search(ctx, models.SearchRequest{Query: query, K: *k})
		},
		func(lib *library.Library) (*models.SearchResponse, error) {
			if *file != "" {
				content, err := os.ReadFile(*file)
				if err != nil {
					return nil, err
				}
				text, err := lib.Extract(library.Upload{Filename: filepath.Base(*file), Content: content})
				if err != nil {
					return nil, err
				}
				return lib.Search(ctx, models.SearchRequest{Query: text, K: *k})
			}
			return lib.Search(ctx, models.SearchRequest{Query: query, K: *k})
		})
	if err != nil {
		fatalf("Search failed: %v", err)
	}
	if err := cli.WriteSearchResults(os.Stdout, resp, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

// collectFiles expands directories in paths to the files under them with one of exts.
// Files named explicitly are kept whatever their extension.
func collectFiles(paths []string, exts []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if hasExtension(path, exts) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func hasExtension(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// chunk splits files into batches of at most size.
func chunk(files []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var out [][]string
	for len(files) > size {
		out = append(out, files[:size])
		files = files[size:]
	}
	if len(files) > 0 {
		out = append(out, files)
	}
	return out
}

func runAdd() {
	fset := flag.NewFlagSet("add", flag.ExitOnError)
	configPath := fset.String("config", config.DefaultConfigPath, "config file path")
	serverURL := fset.String("server", defaultServerURL, "server URL (empty = open the index directly)")
	batch := fset.Int("batch", 10, "files per upload when adding through the server")
	output := fset.String("output", "text", "output format: text or json")
	_ = fset.Parse(reorderArgs(os.Args[2:]))

	format := parseOutput(*output)
	if fset.NArg() < 1 {
		fmt.Println("Usage: simdex add [flags] <file-or-directory>...")
		os.Exit(1)
	}

	exts := defaultWatchExtensions(*configPath)
	files, err := collectFiles(fset.Args(), exts)
	if err != nil {
		fatalf("Failed to read paths: %v", err)
	}
	if len(files) == 0 {
		fmt.Println("No files to add")
		return
	}

	ctx := context.Background()
	results, err := remoteOrLocal(*serverURL, *configPath,
		func(c *cli.Client) ([]*models.AddResult, error) {
			var all []*models.AddResult
			for _, group := range chunk(files, *batch) {
				res, err := c.AddFiles(ctx, group)
				all = append(all, res...)
				if err != nil {
					return all, err
				}
			}
			return all, nil
		},
		func(lib *library.Library) ([]*models.AddResult, error) {
			all := make([]*models.AddResult, 0, len(files))
			for _, f := range files {
				abs, err := filepath.Abs(f)
				if err != nil {
					return all, err
				}
				res, err := lib.AddFile(ctx, abs)
				if err != nil {
					if errors.Is(err, vecindex.ErrClosed) || errors.Is(err, vecindex.ErrDurability) {
						return all, err
					}
					res = &models.AddResult{Filename: filepath.Base(f), Error: err.Error()}
				}
				all = append(all, res)
			}
			return all, nil
		})
	if werr := cli.WriteAddResults(os.Stdout, results, format); werr != nil {
		fatalf("Output failed: %v", werr)
	}
	if err != nil {
		fatalf("Add failed: %v", err)
	}
}

// defaultWatchExtensions returns the configured watch extensions, or the defaults when the
// config cannot be loaded (e.g. adding through a server on another machine).
func defaultWatchExtensions(configPath string) []string {
	if cfg, _, err := loadConfig(configPath); err == nil {
		return cfg.Watch.Extensions
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg.Watch.Extensions
}

func runList() {
	fset := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fset.String("config", config.DefaultConfigPath, "config file path (for direct index access)")
	serverURL := fset.String("server", defaultServerURL, "server URL (empty = open the index directly)")
	offset := fset.Int("offset", 0, "records to skip")
	limit := fset.Int("limit", 0, "records to show (default from config)")
	fuzzy := fset.Bool("fuzzy", false, "typo-tolerant keyword lookup")
	output := fset.String("output", "text", "output format: text, compact, or json")
	_ = fset.Parse(reorderArgs(os.Args[2:]))

	format := parseOutput(*output)
	query := joinQuery(fset.Args())
	ctx := context.Background()
	list, err := remoteOrLocal(*serverURL, *configPath,
		func(c *cli.Client) (*models.DocumentList, error) {
			return c.ListDocuments(ctx, query, *offset, *limit, *fuzzy)
		},
		func(lib *library.Library) (*models.DocumentList, error) {
			if query != "" {
				return lib.FindDocuments(ctx, query, *limit, *fuzzy)
			}
			return lib.List(ctx, *offset, *limit)
		})
	if err != nil {
		fatalf("List failed: %v", err)
	}
	if err := cli.WriteDocumentList(os.Stdout, list, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runStatus() {
	fset := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fset.String("config", config.DefaultConfigPath, "config file path (for direct index access)")
	serverURL := fset.String("server", defaultServerURL, "server URL (empty = open the index directly)")
	output := fset.String("output", "text", "output format: text or json")
	_ = fset.Parse(os.Args[2:])

	format := parseOutput(*output)
	ctx := context.Background()
	status, err := remoteOrLocal(*serverURL, *configPath,
		func(c *cli.Client) (*models.Status, error) { return c.Status(ctx) },
		func(lib *library.Library) (*models.Status, error) { return lib.Status(ctx) })
	if err != nil {
		fatalf("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: simdex watch <add|remove|list> [path]")
		fmt.Println("  simdex watch add <path>     Add directory to watch")
		fmt.Println("  simdex watch remove <path>  Remove directory from watch")
		fmt.Println("  simdex watch list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fset := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fset.String("server", defaultServerURL, "server URL")
	_ = fset.Parse(reorderArgs(os.Args[3:]))

	ctx := context.Background()
	client := cli.NewClient(*serverURL, clientTimeout)
	switch sub {
	case "add", "remove":
		if fset.NArg() < 1 {
			fmt.Printf("Usage: simdex watch %s <path>\n", sub)
			os.Exit(1)
		}
		path, err := filepath.Abs(fset.Arg(0))
		if err != nil {
			fatalf("Invalid path: %v", err)
		}
		if sub == "add" {
			if err := client.AddWatchDirectory(ctx, path); err != nil {
				fatalf("Add failed: %v", err)
			}
			fmt.Printf("Added: %s\n", path)
			return
		}
		if err := client.RemoveWatchDirectory(ctx, path); err != nil {
			fatalf("Remove failed: %v", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		dirs, err := client.WatchDirectories(ctx)
		if err != nil {
			fatalf("List failed: %v", err)
		}
		for _, d := range dirs {
			fmt.Println(d)
		}
	default:
		fatalf("Unknown watch subcommand: %s", sub)
	}
}

func printUsage() {
	fmt.Println(`simdex - persistent similarity index for documents

Usage:
  simdex server [flags]                  Start the HTTP server and directory watcher
  simdex add [flags] <path>...           Add files (directories are walked)
  simdex search [flags] <query>          Find the k most similar documents
  simdex list [flags] [keywords]         List documents, or look them up by keyword
  simdex status [flags]                  Show index status
  simdex watch <add|remove|list>         Manage watched directories
  simdex version                         Show version
  simdex help                            Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/simdex/config.yaml)
  --debug            Enable debug logging

Client Flags (add, search, list, status):
  --config string    Config file path, used when the server is not running
  --server string    Server URL (default: http://localhost:8080). Use --server "" to open the index directly.
  --output string    Output format: text, compact, or json (default: text)

Search Flags:
  --k int            Number of results (default: search.default_k)
  --file string      Search by the text of a file

List Flags:
  --offset int       Records to skip
  --limit int        Records to show
  --fuzzy            Typo-tolerant keyword lookup

Examples:
  simdex server
  simdex add ~/Documents/reports
  simdex search "machine learning algorithms"
  simdex search -k 10 -output json invoice
  simdex list -fuzzy budgte
  simdex status --output json
  simdex watch add /path/to/docs
  simdex watch list`)
}
