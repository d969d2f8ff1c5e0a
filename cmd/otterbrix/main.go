// Command otterbrix is the interactive shell for the embedded kernel:
// CREATE DATABASE/TABLE, CHECKPOINT, VACUUM, plus a pragmatic
// INSERT/SELECT/UPDATE/DELETE subset layered on the dispatcher.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/otterbrix/kernel/pkg/engine"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("otterbrix", flag.ContinueOnError)
	dataDir := fs.StringP("data-dir", "d", "./otterbrix_data", "root directory for the WAL, catalog, and checkpoints")
	configPath := fs.StringP("config", "c", "", "path to a config file (yaml/json/toml, viper-loaded)")
	debug := fs.BoolP("debug", "v", false, "enable development logging")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, "usage error:", err)
		return 2
	}

	cfg, err := engine.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}
	cfg.DataDir = *dataDir
	cfg.LogDebug = *debug

	k, err := engine.Open(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open kernel:", err)
		return 1
	}
	defer k.Close()

	return newREPL(k).run()
}
