// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Command pseudocode is the CLI entry point of spec §6: compile a script
// (from a file or `-e`) and run it against the VM, mapping the outcome to
// the contractual exit codes.
package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/probechain/pseudocode/internal/builtin"
	"github.com/probechain/pseudocode/internal/compiler"
	"github.com/probechain/pseudocode/internal/config"
	"github.com/probechain/pseudocode/internal/heap"
	"github.com/probechain/pseudocode/internal/logging"
	"github.com/probechain/pseudocode/internal/vm"

	cli "gopkg.in/urfave/cli.v1"
)

// version is overridden at build time via -ldflags; "dev" otherwise.
var version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "pseudocode"
	app.Usage = "compile and run a pseudocode script"
	app.Version = version
	app.ArgsUsage = "[script]"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "e", Usage: "execute a source string instead of a file"},
		cli.BoolFlag{Name: "i", Usage: "disable the JIT; interpreter only"},
		cli.BoolFlag{Name: "j", Usage: "enable the JIT (default)"},
		cli.BoolFlag{Name: "d", Usage: "enable debug traces to stderr"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

// run implements spec §6's single subcommand: there is no REPL (Non-goal),
// so `-i`'s interactivity is limited to the script itself reading stdin via
// `input`; it only ever toggles the JIT off.
func run(c *cli.Context) error {
	source, filename, err := readSource(c)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
		return nil
	}

	cfg, err := config.Load(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "pseudocode: config: %s\n", err)
	}

	h := heap.New()
	h.SetGrowthFactor(cfg.GCGrowthFactor)

	chunk, errs := compiler.Compile(filename, source, h)
	for _, e := range errs {
		fmt.Fprintln(os.Stderr, e.Error())
	}
	if hasFatalError(errs) {
		os.Exit(2)
		return nil
	}

	log := logging.New(os.Stderr)
	if c.Bool("d") {
		log.SetLevel(logging.LevelTrace)
	}

	v := vm.New(h,
		vm.WithStreams(os.Stdout, os.Stderr, os.Stdin),
		vm.WithLogger(log),
		vm.WithJIT(!c.Bool("i")),
	)
	builtin.Register(v)

	stopInterruptRelay := relayInterrupts(v)
	defer stopInterruptRelay()

	result := v.Run(chunk)
	os.Exit(result.ExitCode)
	return nil
}

// relayInterrupts forwards the process's interrupt signal to the VM's
// cooperative cancellation flag (spec §5 "the host may set an atomic
// interrupt flag"), so Ctrl-C unwinds through `finally` blocks and exits
// 130 instead of killing the process outright.
func relayInterrupts(v *vm.VM) (stop func()) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-sig:
			v.Interrupt()
		case <-done:
		}
	}()
	return func() {
		close(done)
		signal.Stop(sig)
	}
}

func hasFatalError(errs []*compiler.Error) bool {
	for _, e := range errs {
		if e.Severity == compiler.SeverityError {
			return true
		}
	}
	return false
}

func readSource(c *cli.Context) (source, filename string, err error) {
	if e := c.String("e"); e != "" {
		return e, "<inline>", nil
	}
	if c.NArg() < 1 {
		return "", "", fmt.Errorf("pseudocode: no script given (pass a file, or -e '<source>')")
	}
	path := c.Args().First()
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("pseudocode: %w", err)
	}
	return string(data), path, nil
}
