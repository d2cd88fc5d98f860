// typewire - typed serialization CLI tool
//
// Usage:
//
//	typewire json2msgpack [file]                 Convert JSON to MessagePack
//	typewire msgpack2json [--indent=N] [file]    Convert MessagePack to JSON
//	typewire json2yaml [file]                    Convert JSON to YAML
//	typewire yaml2json [--indent=N] [file]       Convert YAML to JSON
//	typewire fmt [--indent=N] [file]             Pretty-print or minify JSON
//	typewire frame [--msgpack] [--zstd] [file]   Wrap JSON lines in frames
//	typewire frames [file]                       Decode frames and print them
//	typewire version                             Print version info
//
// If no file is given, reads from stdin.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Neumenon/typewire/json"
	"github.com/Neumenon/typewire/msgpack"
	"github.com/Neumenon/typewire/stream"
	"github.com/Neumenon/typewire/yaml"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var input io.Reader = os.Stdin

	indent := 2
	useMsgpack := false
	useZstd := false
	fileArg := ""
	for _, arg := range os.Args[2:] {
		switch {
		case strings.HasPrefix(arg, "--indent="):
			n, err := parseIntArg(arg, "--indent=")
			if err != nil {
				fatal("invalid %s", arg)
			}
			indent = n
		case arg == "--minify":
			indent = -1
		case arg == "--msgpack":
			useMsgpack = true
		case arg == "--zstd":
			useZstd = true
		default:
			if !strings.HasPrefix(arg, "-") && arg != "-" {
				fileArg = arg
			}
		}
	}

	if fileArg != "" {
		f, err := os.Open(fileArg)
		if err != nil {
			fatal("open file: %v", err)
		}
		defer f.Close()
		input = f
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	var err error
	switch cmd {
	case "json2msgpack":
		err = cmdJSONToMsgpack(input, out)
	case "msgpack2json":
		err = cmdMsgpackToJSON(input, out, indent)
	case "json2yaml":
		err = cmdJSONToYAML(input, out)
	case "yaml2json":
		err = cmdYAMLToJSON(input, out, indent)
	case "fmt":
		err = cmdFmt(input, out, indent)
	case "frame":
		err = cmdFrame(input, out, useMsgpack, useZstd)
	case "frames":
		err = cmdFrames(input, out)
	case "version", "-v", "--version":
		fmt.Fprintf(out, "typewire %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		out.Flush()
		fatal("%s: %v", cmd, err)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `typewire - typed serialization CLI tool

Usage:
  typewire json2msgpack [file]                 Convert JSON to MessagePack
  typewire msgpack2json [--indent=N] [file]    Convert MessagePack to JSON
  typewire json2yaml [file]                    Convert JSON to YAML
  typewire yaml2json [--indent=N] [file]       Convert YAML to JSON
  typewire fmt [--indent=N|--minify] [file]    Pretty-print or minify JSON
  typewire frame [--msgpack] [--zstd] [file]   Wrap JSON lines in frames
  typewire frames [file]                       Decode frames and print them
  typewire version                             Print version info

If no file is given, reads from stdin.

Examples:
  echo '{"b":1,"a":[1,2]}' | typewire fmt --indent=4
  cat events.ndjson | typewire frame --msgpack --zstd | typewire frames
`)
}

func cmdJSONToMsgpack(r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	v, err := json.Decode[any](data)
	if err != nil {
		return err
	}
	b, err := msgpack.Encode(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func cmdMsgpackToJSON(r io.Reader, w io.Writer, indent int) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	v, err := msgpack.Decode[any](data)
	if err != nil {
		return err
	}
	return writeJSON(w, v, indent)
}

func cmdJSONToYAML(r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	v, err := json.Decode[any](data)
	if err != nil {
		return err
	}
	b, err := yaml.Encode(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func cmdYAMLToJSON(r io.Reader, w io.Writer, indent int) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	v, err := yaml.Decode[any](data)
	if err != nil {
		return err
	}
	return writeJSON(w, v, indent)
}

func cmdFmt(r io.Reader, w io.Writer, indent int) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b, err := json.Format(data, indent)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

func writeJSON(w io.Writer, v any, indent int) error {
	b, err := json.Encode(v)
	if err != nil {
		return err
	}
	if indent >= 0 {
		if b, err = json.Format(b, indent); err != nil {
			return err
		}
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// cmdFrame wraps each JSON line of the input in one frame.
func cmdFrame(r io.Reader, w io.Writer, useMsgpack, useZstd bool) error {
	opts := []stream.WriterOption{stream.WithStream(1), stream.WithDigest()}
	if useMsgpack {
		opts = append(opts, stream.WithFormat(stream.FormatMsgpack))
	}
	if useZstd {
		opts = append(opts, stream.WithCompression(stream.CompressZstd))
	}
	fw := stream.NewWriter(w, opts...)

	dec, err := json.NewDecoder[any]()
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	values, err := dec.DecodeLines(data)
	if err != nil {
		return err
	}
	for i, v := range values {
		if i == len(values)-1 {
			err = fw.Close(v)
		} else {
			err = fw.Write(v)
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}

// cmdFrames prints every frame of the input with its payload as JSON.
func cmdFrames(r io.Reader, w io.Writer) error {
	reader := stream.NewReader(r, stream.WithCursor(stream.NewCursor()))
	n := 0
	for {
		f, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("frame %d: %w", n+1, err)
		}
		n++
		printFrame(w, n, f)
	}
	fmt.Fprintf(os.Stderr, "--- %d frames decoded ---\n", n)
	return nil
}

func printFrame(w io.Writer, n int, f *stream.Frame) {
	fmt.Fprintf(w, "--- Frame %d ---\n", n)
	fmt.Fprintf(w, "  fmt=%s z=%s len=%d\n", f.Format, f.Compression, len(f.Payload))
	if f.HasSeq {
		fmt.Fprintf(w, "  sid=%d seq=%d\n", f.SID, f.Seq)
	}
	if f.CRC != nil {
		fmt.Fprintf(w, "  crc=%08x\n", *f.CRC)
	}
	if f.Digest != nil {
		fmt.Fprintf(w, "  sha256=%s\n", f.Digest)
	}
	if f.Final {
		fmt.Fprintln(w, "  final=true")
	}

	v, err := stream.DecodeFrame[any](f)
	if err != nil {
		fmt.Fprintf(w, "  payload error: %v\n", err)
		return
	}
	b, err := json.Encode(v)
	if err != nil {
		fmt.Fprintf(w, "  payload error: %v\n", err)
		return
	}
	payload := string(b)
	if len(payload) > 200 {
		payload = payload[:200] + "..."
	}
	fmt.Fprintf(w, "  payload: %s\n", payload)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "typewire: "+format+"\n", args...)
	os.Exit(1)
}

// parseIntArg extracts an integer from a flag like "--indent=4"
func parseIntArg(arg, prefix string) (int, error) {
	return strconv.Atoi(strings.TrimPrefix(arg, prefix))
}
