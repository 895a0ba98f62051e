package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/razvandimescu/peekhtml/internal/config"
	"github.com/razvandimescu/peekhtml/internal/filetree"
	"github.com/razvandimescu/peekhtml/internal/project"
	"github.com/razvandimescu/peekhtml/internal/server"
)

// Build info (set via ldflags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// cliFlags holds the command-line options. Values only override the config
// file when the flag was given explicitly.
type cliFlags struct {
	fs          *flag.FlagSet
	port        *int
	host        *string
	openBrowser *bool
	configPath  *string
	noWatch     *bool
	showVersion *bool
	showIgnored *bool
}

func newFlags(name string, output io.Writer) *cliFlags {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.SetOutput(output)
	f := &cliFlags{
		fs:          fs,
		port:        fs.Int("port", 3333, "Port to serve on"),
		host:        fs.String("host", "localhost", "Interface to listen on"),
		openBrowser: fs.Bool("browser", true, "Open browser automatically"),
		configPath:  fs.String("config", "", "Path to config file (default: "+config.FileName+" in the working directory)"),
		noWatch:     fs.Bool("no-watch", false, "Disable live reload of the project folder"),
		showVersion: fs.Bool("version", false, "Show version information"),
		showIgnored: fs.Bool("show-ignored", false, "Show all excluded directories and exit"),
	}
	fs.Usage = func() {
		fmt.Fprintf(output, "Usage: %s [options] [project-folder]\n\nOptions:\n", name)
		fs.PrintDefaults()
	}
	return f
}

// loadConfig reads the config file and applies explicit flags on top.
func (f *cliFlags) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if *f.configPath != "" {
		if _, statErr := os.Stat(*f.configPath); statErr != nil {
			return nil, fmt.Errorf("config file: %w", statErr)
		}
		cfg, err = config.Load(*f.configPath)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, err
	}

	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			cfg.Port = *f.port
		case "host":
			cfg.Host = *f.host
		case "browser":
			cfg.OpenBrowser = *f.openBrowser
		case "no-watch":
			cfg.Watch = !*f.noWatch
		}
	})
	if f.fs.NArg() > 0 {
		cfg.Project = f.fs.Arg(0)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runShowIgnored(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "Hardcoded exclusions:")
	fmt.Fprintln(w, "  .* (hidden files and directories)")
	for _, dir := range filetree.DependencyDirs() {
		fmt.Fprintf(w, "  %s\n", dir)
	}

	if len(cfg.Ignore) > 0 {
		fmt.Fprintln(w, "\nConfig exclusions (ignore):")
		for _, p := range cfg.Ignore {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}

	checkDir := cfg.Project
	if checkDir == "" {
		checkDir = "."
	}
	if absPath, err := filepath.Abs(checkDir); err == nil {
		checkDir = absPath
	}

	if patterns := filetree.LoadIgnoreFile(checkDir); len(patterns) > 0 {
		fmt.Fprintf(w, "\nCustom exclusions (%s in %s):\n", filetree.IgnoreFileName, checkDir)
		for _, p := range patterns {
			fmt.Fprintf(w, "  %s\n", p)
		}
	} else {
		fmt.Fprintf(w, "\nNo %s file found in %s\n", filetree.IgnoreFileName, checkDir)
	}
}

func main() {
	flags := newFlags("peekhtml", os.Stderr)
	flags.fs.Parse(os.Args[1:])

	if *flags.showVersion {
		fmt.Printf("peekhtml %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := flags.loadConfig()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if *flags.showIgnored {
		runShowIgnored(os.Stdout, cfg)
		os.Exit(0)
	}

	store := project.NewStore(cfg.BackupSuffix)
	srv := server.New(cfg, store)

	if cfg.Project != "" {
		if _, err := srv.SetProject(cfg.Project); err != nil {
			log.Fatalf("Cannot open project folder: %v", err)
		}
	}

	url := fmt.Sprintf("http://%s", cfg.Addr())
	fmt.Printf("peekhtml at %s\n", url)
	if root, err := store.Root(); err == nil {
		fmt.Printf("Editing %s\n", root)
	} else {
		fmt.Println("No project folder yet - choose one in the browser")
	}
	fmt.Println("Press Ctrl+C to quit")

	if cfg.OpenBrowser {
		go func() {
			time.Sleep(500 * time.Millisecond)
			openURL(url)
		}()
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv.Handler(),
		// WriteTimeout intentionally omitted: /api/events streams indefinitely.
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigint

		log.Println("\nShutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		srv.Close()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func openURL(url string) {
	var cmd string
	var args []string

	switch {
	case fileExists("/usr/bin/open"): // macOS
		cmd = "open"
		args = []string{url}
	case fileExists("/usr/bin/xdg-open"): // Linux
		cmd = "xdg-open"
		args = []string{url}
	default: // Windows
		cmd = "cmd"
		args = []string{"/c", "start", url}
	}

	if err := exec.Command(cmd, args...).Start(); err != nil {
		log.Printf("Failed to open URL %s: %v", url, err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
