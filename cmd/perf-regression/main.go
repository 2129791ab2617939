// Command perf-regression compares two `go test -bench -count=N` outputs and
// fails when a tracked hot path got slower or started allocating more than
// the allowed ratio.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

const defaultThreshold = 0.30

// trackedMetrics are the request-path benchmarks of the root package.
var trackedMetrics = map[string][]string{
	"BenchmarkRateLimitCheck/memory": {"ns/op", "allocs/op"},
	"BenchmarkRateLimitCheck/redis":  {"ns/op"},
	"BenchmarkSessionGet/memory":     {"ns/op", "allocs/op"},
	"BenchmarkSessionGet/redis":      {"ns/op"},
	"BenchmarkSessionCreate/memory":  {"ns/op"},
}

type sampleSet map[string]map[string][]float64

type row struct {
	benchmark string
	metric    string
	baseline  float64
	candidate float64
	delta     float64
}

func main() {
	var (
		baselinePath  string
		candidatePath string
		threshold     float64
	)

	flag.StringVar(&baselinePath, "baseline", "", "path to baseline benchmark output")
	flag.StringVar(&candidatePath, "candidate", "", "path to candidate benchmark output")
	flag.Float64Var(&threshold, "threshold", defaultThreshold, "maximum allowed regression ratio (0.30 = +30%)")
	flag.Parse()

	if baselinePath == "" || candidatePath == "" {
		fmt.Fprintln(os.Stderr, "-baseline and -candidate are required")
		os.Exit(2)
	}
	if threshold < 0 {
		fmt.Fprintln(os.Stderr, "-threshold must be >= 0")
		os.Exit(2)
	}

	baseline, err := parseBenchmarkFile(baselinePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse baseline: %v\n", err)
		os.Exit(1)
	}
	candidate, err := parseBenchmarkFile(candidatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse candidate: %v\n", err)
		os.Exit(1)
	}

	rows, failures := compare(baseline, candidate, threshold)
	fmt.Println("benchmark metric baseline candidate delta")
	for _, r := range rows {
		fmt.Printf("%s %s %.3f %.3f %+0.2f%%\n", r.benchmark, r.metric, r.baseline, r.candidate, r.delta*100)
	}

	if len(failures) > 0 {
		fmt.Fprintln(os.Stderr, "performance regression threshold exceeded:")
		for _, failure := range failures {
			fmt.Fprintf(os.Stderr, "  - %s\n", failure)
		}
		os.Exit(1)
	}
}

// compare returns one row per tracked metric, sorted by name, and a failure
// line for each missing or regressed metric.
func compare(baseline, candidate sampleSet, threshold float64) ([]row, []string) {
	names := make([]string, 0, len(trackedMetrics))
	for name := range trackedMetrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		rows     []row
		failures []string
	)
	for _, name := range names {
		for _, metric := range trackedMetrics[name] {
			base, cand := baseline[name][metric], candidate[name][metric]
			if len(base) == 0 || len(cand) == 0 {
				failures = append(failures, fmt.Sprintf("missing samples for %s %s", name, metric))
				continue
			}

			r := row{benchmark: name, metric: metric, baseline: median(base), candidate: median(cand)}
			switch {
			case r.baseline > 0:
				r.delta = (r.candidate - r.baseline) / r.baseline
			case r.candidate > 0:
				// From zero allocations to some is always a regression.
				r.delta = 1
			}
			rows = append(rows, r)
			if r.delta > threshold {
				failures = append(failures, fmt.Sprintf("%s %s regressed by %+0.2f%% (limit %+0.2f%%)", name, metric, r.delta*100, threshold*100))
			}
		}
	}
	return rows, failures
}

func parseBenchmarkFile(path string) (sampleSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return parseBenchmarks(file)
}

func parseBenchmarks(r io.Reader) (sampleSet, error) {
	samples := sampleSet{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "Benchmark") {
			continue
		}

		name := normalizeBenchmarkName(fields[0])
		if _, ok := trackedMetrics[name]; !ok {
			continue
		}
		if samples[name] == nil {
			samples[name] = map[string][]float64{}
		}

		// fields[1] is the iteration count; value/unit pairs follow.
		for i := 2; i+1 < len(fields); i += 2 {
			value, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			samples[name][fields[i+1]] = append(samples[name][fields[i+1]], value)
		}
	}
	return samples, scanner.Err()
}

// normalizeBenchmarkName strips the -GOMAXPROCS suffix.
func normalizeBenchmarkName(raw string) string {
	if idx := strings.LastIndexByte(raw, '-'); idx > 0 {
		if _, err := strconv.Atoi(raw[idx+1:]); err == nil {
			return raw[:idx]
		}
	}
	return raw
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
