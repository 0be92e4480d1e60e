package utils

import (
	"fmt"
	"sort"
	"time"
)

// BuildStats holds construction time per layer type
type BuildStats struct {
	TotalTime time.Duration
	PerType   map[string]time.Duration
	Counts    map[string]int
}

func NewBuildStats() *BuildStats {
	return &BuildStats{
		PerType: make(map[string]time.Duration),
		Counts:  make(map[string]int),
	}
}

// Record adds one constructed layer of the given type.
func (s *BuildStats) Record(layerType string, d time.Duration) {
	s.TotalTime += d
	s.PerType[layerType] += d
	s.Counts[layerType]++
}

// Layers is the number of recorded layers.
func (s *BuildStats) Layers() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// PrintBuildStats prints the construction time breakdown, slowest type first.
// Respects the Verbose flag - does nothing if Verbose is false.
func PrintBuildStats(stats *BuildStats) {
	if !Verbose {
		return
	}
	fmt.Fprintln(Output, "\n=== BUILD STATISTICS ===")
	fmt.Fprintf(Output, "Total build time: %v\n", stats.TotalTime)
	fmt.Fprintf(Output, "Layers built: %d\n", stats.Layers())
	if stats.Layers() == 0 {
		return
	}

	types := make([]string, 0, len(stats.PerType))
	for t := range stats.PerType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if stats.PerType[types[i]] != stats.PerType[types[j]] {
			return stats.PerType[types[i]] > stats.PerType[types[j]]
		}
		return types[i] < types[j]
	})

	fmt.Fprintln(Output, "\nBreakdown by layer type:")
	for _, t := range types {
		d := stats.PerType[t]
		pct := 0.0
		if stats.TotalTime > 0 {
			pct = float64(d) / float64(stats.TotalTime) * 100
		}
		fmt.Fprintf(Output, "  %-16s x%-4d %v (%.1f%%), avg %.1fµs\n",
			t, stats.Counts[t], d, pct, DurationUS(d)/float64(stats.Counts[t]))
	}
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
