// bridgeverify checks a release artifact for the bridge methods and classes
// the scripting layer calls by name.
//
// Exit codes: 0 all names found, 1 names missing, 2 usage error or missing
// input.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Thiagojm/rnode_usb_bridge/config"
	"github.com/Thiagojm/rnode_usb_bridge/logging"
	"github.com/Thiagojm/rnode_usb_bridge/verifier"
)

const (
	exitPassed = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bridgeverify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "path to config file")
	srcDir := fs.String("src", "", "source tree to scan (overrides verify.source_dir)")
	xlsxPath := fs.String("xlsx", "", "also write the report to this .xlsx file")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: bridgeverify [flags] <path-to-release.apk>\n\n")
		fmt.Fprintf(stderr, "Verifies that bridge methods called by name survived shrinking.\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}
	artifact := fs.Arg(0)

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return exitUsage
	}
	if *srcDir != "" {
		cfg.Verify.SourceDir = *srcDir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "ERROR: invalid config: %v\n", err)
		return exitUsage
	}

	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return exitUsage
	}
	defer closer.Close()

	v, err := verifier.New(verifier.Options{
		SourceDir:    cfg.Verify.SourceDir,
		Extensions:   cfg.Verify.Extensions,
		BridgeVars:   cfg.Verify.BridgeVars,
		Classes:      cfg.Verify.Classes,
		CodeSuffixes: cfg.Verify.CodeSuffixes,
		Logger:       log,
	})
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return exitUsage
	}

	report, err := v.Run(artifact)
	switch {
	case errors.Is(err, verifier.ErrArtifactNotFound):
		fmt.Fprintf(stderr, "ERROR: APK not found: %s\n", artifact)
		return exitUsage
	case errors.Is(err, verifier.ErrSourceNotFound):
		fmt.Fprintf(stderr, "ERROR: source directory not found: %s\n", cfg.Verify.SourceDir)
		return exitUsage
	case err != nil:
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return exitUsage
	}

	report.WriteText(stdout)
	if *xlsxPath != "" {
		if err := report.WriteXLSX(*xlsxPath); err != nil {
			log.Error("xlsx export failed", "path", *xlsxPath, "err", err)
		}
	}
	if !report.Passed() {
		return exitFailed
	}
	return exitPassed
}
