// Command tjs runs a JavaScript file on the embedded runtime.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wot-js/runtime/internal/config"
	"github.com/wot-js/runtime/internal/core"
	"github.com/wot-js/runtime/internal/modules/process"
	"github.com/wot-js/runtime/pkg/logger"
	"github.com/wot-js/runtime/pkg/version"

	// Bindings installed into every runtime.
	_ "github.com/wot-js/runtime/internal/modules/dns"
	_ "github.com/wot-js/runtime/internal/modules/fs"
	_ "github.com/wot-js/runtime/internal/modules/http"
	_ "github.com/wot-js/runtime/internal/modules/uart"
	_ "github.com/wot-js/runtime/internal/streams"
	_ "github.com/wot-js/runtime/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version and exit")
	evalSource := flag.String("e", "", "evaluate the given source instead of a file")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.FullVersion())
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tjs: %v\n", err)
		return 1
	}
	log := logger.New(cfg.LoggingConfig())

	script := flag.Arg(0)
	if script == "" && *evalSource == "" {
		fmt.Fprintln(os.Stderr, "usage: tjs [flags] <script.js> [args...]")
		return 64
	}

	process.SetArgs("tjs", script, flag.Args())

	rt, err := core.New(core.Options{
		UnhandledRejection: cfg.UnhandledRejection,
		StackSize:          cfg.StackSize,
		MemoryLimit:        cfg.MemoryLimit,
		DumpMemory:         cfg.DumpMemory,
		TraceMemory:        cfg.TraceMemory,
		Log:                log,
	})
	if err != nil {
		log.WithField("error", err).Error("runtime creation failed")
		return 1
	}
	defer rt.Free()

	if *evalSource != "" {
		if _, err := rt.EvalScript("<eval>", *evalSource); err != nil {
			rt.DumpError(err)
			return 1
		}
	} else {
		if _, err := rt.EvalFile(script, core.EvalAuto, true); err != nil {
			rt.DumpError(err)
			return 1
		}
	}

	return rt.Run()
}
