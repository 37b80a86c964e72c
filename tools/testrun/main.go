// Package testrun runs a command that executes tests on a target, typically a
// flasher followed by a serial console, and scans its output for the result
// printed by the Go test framework. The command is interrupted shortly after
// the result was seen, since the console usually never exits by itself.
package testrun

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/clktmr/ft9xx/debug"
)

const usageString = `Run on-target tests and report their result.

Usage: %s [flags] <command> [arguments]

`

var (
	flags = flag.NewFlagSet("testrun", flag.ExitOnError)

	timeout = flags.Duration("timeout", 5*time.Minute, "give up if no result was printed")
	grace   = flags.Duration("grace", 500*time.Millisecond, "delay before stopping the command after the result")
)

func usage() {
	fmt.Fprintf(flags.Output(), usageString, "testrun")
	flags.PrintDefaults()
}

// Usage writes the help text of the testrun command to w.
func Usage(w io.Writer) {
	flags.SetOutput(w)
	usage()
}

// Result of a test run.
type Result uint8

const (
	Unknown Result = iota
	Pass
	Fail
)

func (r Result) String() string {
	switch r {
	case Pass:
		return "PASS"
	case Fail:
		return "FAIL"
	}
	return "unknown"
}

// classify returns the result a line of test output implies.
func classify(line string) Result {
	switch {
	case strings.HasPrefix(line, "fatal error:"), strings.HasPrefix(line, "panic:"):
		return Fail
	case line == "FAIL", strings.HasPrefix(line, "FAIL\t"):
		return Fail
	case line == "PASS", strings.HasPrefix(line, "ok  \t"):
		return Pass
	}
	return Unknown
}

// Scan copies r to w line by line until it finds the test result. The result
// is also sent to done as soon as it is known, scanning continues until r
// ends so the remaining output is not lost.
func Scan(r io.Reader, w io.Writer, done chan<- Result) Result {
	res := Unknown
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fmt.Fprintln(w, sc.Text())
		if res != Unknown {
			continue
		}
		if res = classify(strings.TrimRight(sc.Text(), "\r")); res != Unknown && done != nil {
			done <- res
		}
	}
	return res
}

func Main(args []string) {
	flags.Usage = usage
	flags.Parse(args[1:])

	if flags.NArg() < 1 {
		flags.Usage()
		os.Exit(1)
	}

	cmd := exec.Command(flags.Arg(0), flags.Args()[1:]...)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		fmt.Fprintln(os.Stderr, "open stdout:", err)
		os.Exit(1)
	}
	if err := cmd.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "start command:", err)
		os.Exit(1)
	}

	done := make(chan Result, 1)
	go Scan(stdout, os.Stdout, done)

	res := Fail
	select {
	case res = <-done:
		time.Sleep(*grace)
	case <-time.After(*timeout):
		debug.LogError(debug.ComponentTest, "no test result", "timeout", *timeout)
	}
	debug.LogInfo(debug.ComponentTest, "result", "result", res)

	cmd.Process.Signal(os.Interrupt)
	cmd.Wait()
	if res != Pass {
		os.Exit(1)
	}
}
