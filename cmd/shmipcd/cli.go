package main

import "flag"

// Options holds the command line options. Unset flags defer to the file
// and environment configuration.
type Options struct {
	ConfigPath   string
	Region       string
	Threads      int
	ShutdownMode string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) (Options, error) {
	fs := flag.NewFlagSet("shmipcd", flag.ContinueOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.Region, "region", "", "Shared region name (overrides config)")
	fs.IntVar(&opts.Threads, "t", -1, "Worker threads per pool, 0 = auto (overrides config)")
	fs.StringVar(&opts.ShutdownMode, "shutdown", "", "Shutdown mode, drain or immediate (overrides config)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}
