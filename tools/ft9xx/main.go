package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"runtime/debug"

	ftdebug "github.com/clktmr/ft9xx/debug"
	"github.com/clktmr/ft9xx/tools/sdimg"
	"github.com/clktmr/ft9xx/tools/testrun"
)

const usageString = `ft9xx works with SD cards of FT900 and FT930 boards from the host.
Card images are accessed through the same sdhost driver the firmware uses,
running against a simulated controller.

Usage:

	%s [flags] <command> [arguments]

The commands are:

`

const usageFooter = `
Use "%s help <command>" for the flags and arguments of a command.

`

type command struct {
	name    string
	summary string
	main    func(args []string)
	usage   func(w io.Writer)
}

var commands = []command{
	{"sdimg", "format, inspect, script and mount card images", sdimg.Main, sdimg.Usage},
	{"testrun", "flash and run on-target tests, report PASS or FAIL", testrun.Main, testrun.Usage},
}

var verbose = flag.Bool("v", false, "log sdhost driver activity of all commands")

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, usageString, os.Args[0])
	for _, c := range commands {
		fmt.Fprintf(w, "\t%-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "\t%-8s %s\n", "help", "show help of a command")
	fmt.Fprintf(w, "\t%-8s %s\n", "version", "print module version")
	fmt.Fprintf(w, usageFooter, os.Args[0])
	flag.PrintDefaults()
}

// help prints the help text of the named command to w.
func help(w io.Writer, args []string) error {
	if len(args) == 0 {
		flag.CommandLine.SetOutput(w)
		usage()
		return nil
	}
	c, ok := lookup(args[0])
	if !ok {
		return fmt.Errorf("unknown help topic: %s", args[0])
	}
	c.usage(w)
	return nil
}

func version(w io.Writer) {
	v := "(devel)"
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		v = bi.Main.Version
	}
	fmt.Fprintln(w, "ft9xx", v)
}

func main() {
	log.Default().SetFlags(0)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	if *verbose {
		ftdebug.SetLevel(slog.LevelDebug)
	}

	switch name := flag.Arg(0); name {
	case "help":
		if err := help(os.Stdout, flag.Args()[1:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		version(os.Stdout)
	default:
		c, ok := lookup(name)
		if !ok {
			fmt.Fprintf(flag.CommandLine.Output(), "unknown command: %s\n", name)
			flag.Usage()
			os.Exit(1)
		}
		c.main(flag.Args())
	}
}
