// bench - wire format comparison runner
//
// For each JSON input file, compares:
//   - Bytes on wire: minified JSON, MessagePack, zstd MessagePack, YAML
//   - Encode and decode time per format
//
// Usage:
//
//	bench [--iterations=N] [--markdown=FILE] file.json...
//
// Output: CSV on stdout, summary on stderr, optional markdown report.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/Neumenon/typewire/json"
	"github.com/Neumenon/typewire/msgpack"
	"github.com/Neumenon/typewire/yaml"
)

type CaseResult struct {
	Name         string
	JSONBytes    int
	MsgpackBytes int
	ZstdBytes    int
	YAMLBytes    int

	JSONEncode, JSONDecode       time.Duration
	MsgpackEncode, MsgpackDecode time.Duration
}

// SavedPct is the MessagePack size saving relative to minified JSON.
func (r CaseResult) SavedPct() float64 {
	if r.JSONBytes == 0 {
		return 0
	}
	return float64(r.JSONBytes-r.MsgpackBytes) / float64(r.JSONBytes) * 100
}

func main() {
	iterations := 200
	mdPath := ""
	var files []string
	for _, arg := range os.Args[1:] {
		switch {
		case strings.HasPrefix(arg, "--iterations="):
			n, err := strconv.Atoi(strings.TrimPrefix(arg, "--iterations="))
			if err != nil || n <= 0 {
				fmt.Fprintf(os.Stderr, "invalid %s\n", arg)
				os.Exit(1)
			}
			iterations = n
		case strings.HasPrefix(arg, "--markdown="):
			mdPath = strings.TrimPrefix(arg, "--markdown=")
		default:
			files = append(files, arg)
		}
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: bench [--iterations=N] [--markdown=FILE] file.json...")
		os.Exit(1)
	}

	zenc, err := zstd.NewWriter(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zstd: %v\n", err)
		os.Exit(1)
	}
	defer zenc.Close()

	fmt.Fprintf(os.Stderr, "Wire Format Benchmark\n")
	fmt.Fprintf(os.Stderr, "=====================\n")
	fmt.Fprintf(os.Stderr, "Cases: %d, iterations: %d\n\n", len(files), iterations)

	var results []CaseResult
	for _, path := range files {
		r, err := runCase(path, iterations, zenc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Skip %s: %v\n", path, err)
			continue
		}
		results = append(results, r)
	}

	writeCSV(os.Stdout, results)

	if mdPath != "" {
		f, err := os.Create(mdPath)
		if err == nil {
			writeMarkdown(f, results)
			f.Close()
			fmt.Fprintf(os.Stderr, "Markdown written to: %s\n", mdPath)
		}
	}

	var totalJSON, totalMsgpack, totalZstd int
	for _, r := range results {
		totalJSON += r.JSONBytes
		totalMsgpack += r.MsgpackBytes
		totalZstd += r.ZstdBytes
	}
	fmt.Fprintf(os.Stderr, "\n=== SUMMARY ===\n")
	fmt.Fprintf(os.Stderr, "Cases:         %d\n", len(results))
	fmt.Fprintf(os.Stderr, "JSON total:    %d bytes\n", totalJSON)
	fmt.Fprintf(os.Stderr, "MsgPack total: %d bytes (%.1f%% saved)\n", totalMsgpack, pct(totalJSON-totalMsgpack, totalJSON))
	fmt.Fprintf(os.Stderr, "zstd total:    %d bytes (%.1f%% saved)\n", totalZstd, pct(totalJSON-totalZstd, totalJSON))
}

func runCase(path string, iterations int, zenc *zstd.Encoder) (CaseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CaseResult{}, err
	}
	v, err := json.Decode[any](data)
	if err != nil {
		return CaseResult{}, err
	}

	jsonMin, err := json.Format(data, -1)
	if err != nil {
		return CaseResult{}, err
	}
	mp, err := msgpack.Encode(v)
	if err != nil {
		return CaseResult{}, err
	}
	y, err := yaml.Encode(v)
	if err != nil {
		return CaseResult{}, err
	}

	r := CaseResult{
		Name:         filepath.Base(path),
		JSONBytes:    len(jsonMin),
		MsgpackBytes: len(mp),
		ZstdBytes:    len(zenc.EncodeAll(mp, nil)),
		YAMLBytes:    len(y),
	}

	jenc := json.NewEncoder()
	menc := msgpack.NewEncoder()
	jdec, err := json.NewDecoder[any]()
	if err != nil {
		return CaseResult{}, err
	}
	mdec, err := msgpack.NewDecoder[any]()
	if err != nil {
		return CaseResult{}, err
	}

	r.JSONEncode = timeIt(iterations, func() error { _, err := jenc.Encode(v); return err })
	r.JSONDecode = timeIt(iterations, func() error { _, err := jdec.Decode(jsonMin); return err })
	r.MsgpackEncode = timeIt(iterations, func() error { _, err := menc.Encode(v); return err })
	r.MsgpackDecode = timeIt(iterations, func() error { _, err := mdec.Decode(mp); return err })
	return r, nil
}

// timeIt returns the mean duration of fn over n runs.
func timeIt(n int, fn func() error) time.Duration {
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := fn(); err != nil {
			return -1
		}
	}
	return time.Since(start) / time.Duration(n)
}

func pct(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

func writeCSV(w io.Writer, results []CaseResult) {
	fmt.Fprintln(w, "name,json_bytes,msgpack_bytes,zstd_bytes,yaml_bytes,json_enc_ns,json_dec_ns,msgpack_enc_ns,msgpack_dec_ns")
	for _, r := range results {
		fmt.Fprintf(w, "%s,%d,%d,%d,%d,%d,%d,%d,%d\n",
			r.Name, r.JSONBytes, r.MsgpackBytes, r.ZstdBytes, r.YAMLBytes,
			r.JSONEncode.Nanoseconds(), r.JSONDecode.Nanoseconds(),
			r.MsgpackEncode.Nanoseconds(), r.MsgpackDecode.Nanoseconds())
	}
}

func writeMarkdown(w io.Writer, results []CaseResult) {
	fmt.Fprintf(w, "# Wire Format Benchmark Results\n\n")
	fmt.Fprintf(w, "**Date:** %s  \n", time.Now().Format("2006-01-02"))
	fmt.Fprintf(w, "**Cases:** %d\n\n", len(results))

	sorted := make([]CaseResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SavedPct() > sorted[j].SavedPct()
	})

	fmt.Fprintf(w, "## Sizes\n\n")
	fmt.Fprintf(w, "| Case | JSON | MsgPack | zstd | YAML | MsgPack saved |\n")
	fmt.Fprintf(w, "|------|------|---------|------|------|---------------|\n")
	for _, r := range sorted {
		fmt.Fprintf(w, "| %s | %d | %d | %d | %d | %.1f%% |\n",
			truncateName(r.Name, 25), r.JSONBytes, r.MsgpackBytes, r.ZstdBytes, r.YAMLBytes, r.SavedPct())
	}

	fmt.Fprintf(w, "\n## Timings (mean per op)\n\n")
	fmt.Fprintf(w, "| Case | JSON enc | JSON dec | MsgPack enc | MsgPack dec |\n")
	fmt.Fprintf(w, "|------|----------|----------|-------------|-------------|\n")
	for _, r := range results {
		fmt.Fprintf(w, "| %s | %s | %s | %s | %s |\n",
			truncateName(r.Name, 25), r.JSONEncode, r.JSONDecode, r.MsgpackEncode, r.MsgpackDecode)
	}

	fmt.Fprintf(w, "\n## Methodology\n\n")
	fmt.Fprintf(w, "- **JSON:** minified input bytes\n")
	fmt.Fprintf(w, "- **MsgPack:** the decoded input re-encoded as MessagePack\n")
	fmt.Fprintf(w, "- **zstd:** MessagePack compressed at the default level\n")
}

func truncateName(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
