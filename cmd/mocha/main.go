// Mocha CLI - runs a static entry point on the VM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/mocha/config"
	"github.com/chazu/mocha/server"
	"github.com/chazu/mocha/vm"
)

var log = commonlog.GetLogger("mocha")

func main() {
	configDir := flag.String("config", ".", "Directory to search upward from for mocha.toml")
	classDirs := flag.String("cp", "", "Class directories, separated by "+string(os.PathListSeparator)+" (overrides mocha.toml)")
	storePath := flag.String("store", "", "SQLite class store (overrides mocha.toml)")
	mainClass := flag.String("m", "", "Class whose static main method to run (e.g. 'app/Main')")
	preload := flag.String("preload", "", "Comma-separated classes to load and initialize before main")
	importDir := flag.String("import", "", "Import every encoded class under this directory into the store, then exit")
	serve := flag.Bool("serve", false, "Serve the inspector (Connect HTTP/JSON) until interrupted")
	addr := flag.String("addr", "", "Inspector address (overrides mocha.toml)")
	verbose := flag.Int("v", -1, "Log verbosity (overrides mocha.toml)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mocha [options] [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Boots the VM over the configured class path and runs an entry point.\n")
		fmt.Fprintf(os.Stderr, "Remaining arguments are passed to main as a String[].\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  mocha -m app/Main a b          # Run app.Main.main with two arguments\n")
		fmt.Fprintf(os.Stderr, "  mocha -store classes.db -import ./classes  # Fill the class store\n")
		fmt.Fprintf(os.Stderr, "  mocha -m app/Main -serve -addr :7070       # Run, then keep serving the inspector\n")
	}
	flag.Parse()

	cfg, err := config.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if *classDirs != "" {
		cfg.Classpath.Dirs = filepath.SplitList(*classDirs)
	}
	if *storePath != "" {
		cfg.Classpath.Store = *storePath
	}
	if *addr != "" {
		cfg.Inspect.Addr = *addr
	}
	if *verbose >= 0 {
		cfg.Log.Verbosity = *verbose
	}
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogFile())

	if *importDir != "" {
		n, err := importClasses(cfg.StorePath(), *importDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Imported %d classes into %s\n", n, cfg.StorePath())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, closeSource, err := openClasspath(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeSource()

	machine, err := vm.New(src, cfg.VMOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error booting VM: %v\n", err)
		os.Exit(1)
	}
	log.Infof("VM %s booted", machine.ID)

	if *preload != "" {
		if err := preloadClasses(ctx, machine, strings.Split(*preload, ",")); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	exitCode := 0
	if *mainClass != "" {
		if err := runMain(ctx, machine, *mainClass, flag.Args()); err != nil {
			fmt.Fprintf(os.Stderr, "Exception in main: %v\n", err)
			exitCode = 1
		}
	}

	if *serve {
		if cfg.Inspect.Addr == "" {
			fmt.Fprintf(os.Stderr, "Error: -serve needs an inspector address\n")
			os.Exit(1)
		}
		srv := server.New(machine, server.WithInvokeTimeout(cfg.VM.InitWaitTimeout.Duration))
		if err := srv.ListenAndServe(ctx, cfg.Inspect.Addr); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	} else if *mainClass == "" && *preload == "" {
		flag.Usage()
		os.Exit(2)
	}
	closeSource()
	stop()
	os.Exit(exitCode)
}
