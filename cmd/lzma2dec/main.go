// Command lzma2dec decompresses a raw LZMA2 stream.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/cmccarthy/lzma2mt"
)

var (
	inputFile  = flag.String("i", "", "input file path (required, '-' for stdin)")
	outputFile = flag.String("o", "", "output file path (default: stdout)")
	threads    = flag.Int("t", 1, "number of decode threads")
	version    = flag.Bool("version", false, "print version and exit")
)

const appVersion = "0.1.0"

// fs is the filesystem the CLI reads/writes through; a package variable so
// that another afero.Fs (such as an in-memory one) can be substituted.
var fs afero.Fs = afero.NewOsFs()

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -i <file> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Decompresses a raw LZMA2 stream.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -i data.lzma2 -o data.bin\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i data.lzma2 -t 4 > data.bin\n", os.Args[0])
	}
	flag.Parse()

	if *version {
		fmt.Printf("lzma2dec version %s\n", appVersion)
		os.Exit(0)
	}

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Error: input file required (-i)\n")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(*inputFile, *outputFile, *threads); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(inputFile, outputFile string, nbThreads int) error {
	in, err := openInput(inputFile)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer in.Close()

	out, err := openOutput(outputFile)
	if err != nil {
		return fmt.Errorf("opening output: %w", err)
	}
	defer out.Close()

	r := lzma2mt.NewReader(in, nbThreads)
	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("decompressing: %w", err)
	}
	return nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return fs.Open(path)
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopWriteCloser{os.Stdout}, nil
	}
	return fs.Create(path)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
