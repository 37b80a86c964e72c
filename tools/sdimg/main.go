package sdimg

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/buildkite/shellwords"
	"github.com/diskfs/go-diskfs/filesystem/fat32"

	"github.com/clktmr/ft9xx/chip"
	"github.com/clktmr/ft9xx/debug"
	"github.com/clktmr/ft9xx/drivers/sdhost"
)

func must[T any](ret T, err error) T {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return ret
}

const usageString = `SD card image utility. Images are accessed through the sdhost driver
and a simulated controller, like firmware would see them.

Usage:

	%s [flags] <command> [arguments]

The commands are:

	format <image>              create a FAT32 formatted image
	info <image>                print card registers
	ls <image> [dir]            list directory
	cat <image> <file>          print file content
	put <image> <src> <dst>     copy local file src into the image
	mkdir <image> <dir>         create directory
	run <image> <script>        execute commands from script, one per line
	mount <image> <dir>         serve image read-only via fuse

`

var (
	flags = flag.NewFlagSet("sdimg", flag.ExitOnError)

	kind    = flags.String("kind", "sdhc", "sdv1 | sdsc | sdhc | mmcv3 | mmc | mmchc")
	variant = flags.String("variant", strings.ToLower(chip.Default.String()), "ft900 | ft930")
	size    = flags.Int64("size", 64<<20, "image size in bytes for format")
	label   = flags.String("label", "FT9XX", "volume label for format")
	verbose = flags.Bool("v", false, "log driver activity")
)

func usage() {
	fmt.Fprintf(flags.Output(), usageString, "sdimg")
	flags.PrintDefaults()
}

// Usage writes the help text of the sdimg command to w.
func Usage(w io.Writer) {
	flags.SetOutput(w)
	usage()
}

var errUsage = errors.New("bad arguments")

func Main(args []string) {
	flags.Usage = usage
	flags.Parse(args[1:])

	if *verbose {
		debug.SetLevel(slog.LevelDebug)
	}
	if flags.NArg() < 2 {
		flags.Usage()
		os.Exit(1)
	}

	cmd, image := flags.Arg(0), flags.Arg(1)
	if cmd == "format" {
		must(0, format(image))
		return
	}

	s := must(open(image, cmd != "mount" && cmd != "ls" && cmd != "cat" && cmd != "info"))
	defer s.Close()

	err := dispatch(s, cmd, flags.Args()[2:])
	if errors.Is(err, errUsage) {
		flags.Usage()
		os.Exit(1)
	}
	must(0, err)
}

func open(image string, writable bool) (*slot, error) {
	k, err := parseKind(*kind)
	if err != nil {
		return nil, err
	}
	v, err := parseVariant(*variant)
	if err != nil {
		return nil, err
	}
	return openSlot(image, k, v, writable)
}

func dispatch(s *slot, cmd string, args []string) error {
	switch cmd {
	case "info":
		return info(os.Stdout, s)
	case "ls":
		dir := "/"
		if len(args) > 0 {
			dir = args[0]
		}
		return ls(os.Stdout, s, dir)
	case "cat":
		if len(args) < 1 {
			return errUsage
		}
		return cat(os.Stdout, s, args[0])
	case "put":
		if len(args) < 2 {
			return errUsage
		}
		return put(s, args[0], args[1])
	case "mkdir":
		if len(args) < 1 {
			return errUsage
		}
		return withFS(s, func(fs *fat32.FileSystem) error { return fs.Mkdir(args[0]) })
	case "run":
		if len(args) < 1 {
			return errUsage
		}
		return runScript(os.Stderr, s, args[0])
	case "mount":
		if len(args) < 1 {
			return errUsage
		}
		return mount(s, args[0])
	}
	return fmt.Errorf("unknown command: %s", cmd)
}

func format(image string) error {
	f, err := os.OpenFile(image, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := f.Truncate(*size); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	s, err := open(image, true)
	if err != nil {
		return err
	}
	defer s.Close()
	_, err = fat32.Create(s.dev, s.dev.Size(), 0, sdhost.BlockSize, *label)
	return err
}

func withFS(s *slot, fn func(fs *fat32.FileSystem) error) error {
	fs, err := fat32.Read(s.dev, s.dev.Size(), 0, sdhost.BlockSize)
	if err != nil {
		return err
	}
	return fn(fs)
}

func info(w io.Writer, s *slot) error {
	c := s.host.Card()
	fmt.Fprintf(w, "type:        %v\n", c.Type)
	fmt.Fprintf(w, "cid:         %v\n", c.CID.Decode(c.Type))
	fmt.Fprintf(w, "rca:         %#04x\n", c.RCA)
	fmt.Fprintf(w, "ocr:         %#08x\n", c.OCR)
	fmt.Fprintf(w, "blocks:      %d\n", s.host.Capacity())
	fmt.Fprintf(w, "erase:       %d blocks\n", s.host.EraseBlockCount())
	fmt.Fprintf(w, "high speed:  %v\n", c.HighSpeed)
	fmt.Fprintf(w, "4-bit bus:   %v\n", c.BusWidth4)
	fmt.Fprintf(w, "addressing:  %s\n", map[bool]string{true: "byte", false: "block"}[c.SDSC])
	return nil
}

func ls(w io.Writer, s *slot, dir string) error {
	return withFS(s, func(fs *fat32.FileSystem) error {
		entries, err := fs.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			fmt.Fprintf(w, "%10d  %s  %s\n", e.Size(), e.ModTime().Format("2006-01-02 15:04"), name)
		}
		return nil
	})
}

func cat(w io.Writer, s *slot, name string) error {
	return withFS(s, func(fs *fat32.FileSystem) error {
		f, err := fs.OpenFile(name, os.O_RDONLY)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
}

func put(s *slot, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return withFS(s, func(fs *fat32.FileSystem) error {
		if strings.HasSuffix(dst, "/") {
			dst = path.Join(dst, path.Base(src))
		}
		f, err := fs.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, in); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
}

// runScript executes one command per line of the script file. Empty lines
// and lines starting with # are skipped. Each command is echoed to trace as
// the equivalent sdimg command line.
func runScript(trace io.Writer, s *slot, script string) error {
	f, err := os.Open(script)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for lineno := 1; sc.Scan(); lineno++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words, err := shellwords.Split(line)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", script, lineno, err)
		}
		if len(words) == 0 {
			continue
		}
		if words[0] == "run" || words[0] == "mount" || words[0] == "format" {
			return fmt.Errorf("%s:%d: %s not allowed in scripts", script, lineno, words[0])
		}
		fmt.Fprintln(trace, "+", s.commandLine(words[0], words[1:]...))
		if err := dispatch(s, words[0], words[1:]); err != nil {
			return fmt.Errorf("%s:%d: %w", script, lineno, err)
		}
	}
	return sc.Err()
}
