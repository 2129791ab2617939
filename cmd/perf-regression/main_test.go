package main

import (
	"strings"
	"testing"
)

const baselineOutput = `goos: linux
goarch: amd64
pkg: github.com/campusreach/authcore
BenchmarkRateLimitCheck/memory-8   	 1000000	      1000 ns/op	     256 B/op	       4 allocs/op
BenchmarkRateLimitCheck/memory-8   	 1000000	      1200 ns/op	     256 B/op	       4 allocs/op
BenchmarkRateLimitCheck/memory-8   	 1000000	      1100 ns/op	     256 B/op	       4 allocs/op
BenchmarkUntracked-8               	 1000000	        10 ns/op
PASS
`

func TestParseBenchmarksKeepsTrackedOnly(t *testing.T) {
	samples, err := parseBenchmarks(strings.NewReader(baselineOutput))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := samples["BenchmarkUntracked"]; ok {
		t.Fatal("untracked benchmark was kept")
	}
	got := samples["BenchmarkRateLimitCheck/memory"]
	if len(got["ns/op"]) != 3 || len(got["allocs/op"]) != 3 {
		t.Fatalf("samples = %v", got)
	}
	if m := median(got["ns/op"]); m != 1100 {
		t.Fatalf("median ns/op = %v, want 1100", m)
	}
}

func TestCompareFlagsRegressionsAndMissing(t *testing.T) {
	base := sampleSet{
		"BenchmarkRateLimitCheck/memory": {"ns/op": {1000}, "allocs/op": {0}},
		"BenchmarkSessionGet/memory":     {"ns/op": {2000}, "allocs/op": {10}},
	}
	cand := sampleSet{
		"BenchmarkRateLimitCheck/memory": {"ns/op": {1200}, "allocs/op": {2}},
		"BenchmarkSessionGet/memory":     {"ns/op": {4000}, "allocs/op": {10}},
	}

	rows, failures := compare(base, cand, 0.30)
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}

	want := []string{
		"BenchmarkRateLimitCheck/memory allocs/op regressed",
		"BenchmarkSessionGet/memory ns/op regressed",
		"missing samples for BenchmarkRateLimitCheck/redis ns/op",
		"missing samples for BenchmarkSessionCreate/memory ns/op",
		"missing samples for BenchmarkSessionGet/redis ns/op",
	}
	joined := strings.Join(failures, "\n")
	for _, w := range want {
		if !strings.Contains(joined, w) {
			t.Errorf("failures missing %q:\n%s", w, joined)
		}
	}
	if strings.Contains(joined, "BenchmarkRateLimitCheck/memory ns/op") {
		t.Errorf("+20%% must stay under the threshold:\n%s", joined)
	}
}

func TestNormalizeBenchmarkName(t *testing.T) {
	cases := map[string]string{
		"BenchmarkSessionGet/redis-16": "BenchmarkSessionGet/redis",
		"BenchmarkSessionGet":          "BenchmarkSessionGet",
		"BenchmarkFoo-bar":             "BenchmarkFoo-bar",
	}
	for in, want := range cases {
		if got := normalizeBenchmarkName(in); got != want {
			t.Errorf("normalizeBenchmarkName(%q) = %q, want %q", in, got, want)
		}
	}
}
