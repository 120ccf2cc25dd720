// Command validate performs offline integrity checks on a saved catalog
// payload (the body of GET /resources, or a bare array of resources) and,
// optionally, a saved observation list (the body of GET /reports). It checks
// coordinate ranges, dedup key uniqueness, canonical types, per-source
// accounting, provider freshness, and observation ordering.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -catalog data/snapshots/resources.json \
//	  -reports data/snapshots/reports.json \
//	  -precision 3 -max-stale 10
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/fatih/color"
	"github.com/jonboulle/clockwork"
)

// phase tracks pass/fail for a validation phase. Warnings are reported but
// do not fail the run.
type phase struct {
	name     string
	errors   []string
	warnings []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) warnf(format string, args ...any) {
	p.warnings = append(p.warnings, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// options are the command-line settings for one validation run.
type options struct {
	catalogPath string
	reportsPath string
	precision   int
	maxStale    int
}

func main() {
	var opts options
	flag.StringVar(&opts.catalogPath, "catalog", "", "path to a saved /resources payload")
	flag.StringVar(&opts.reportsPath, "reports", "", "optional path to a saved /reports payload")
	flag.IntVar(&opts.precision, "precision", 3, "decimal places used for dedup keys")
	flag.IntVar(&opts.maxStale, "max-stale", -1, "fail when more than this many resources are stale (-1 disables)")
	asOf := flag.String("as-of", "", "RFC 3339 reference time for staleness (default now)")
	flag.Parse()

	if opts.catalogPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	clock := clockwork.NewRealClock()
	if *asOf != "" {
		t, err := time.Parse(time.RFC3339, *asOf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -as-of: %v\n", err)
			os.Exit(1)
		}
		clock = clockwork.NewFakeClockAt(t)
	}

	if code := run(os.Stdout, opts, clock); code != 0 {
		os.Exit(code)
	}
}

func run(out io.Writer, opts options, clock clockwork.Clock) int {
	fmt.Fprintln(out, "=== Need Map Snapshot Validation ===")
	fmt.Fprintln(out)

	snap, err := loadCatalog(opts.catalogPath)
	if err != nil {
		fmt.Fprintf(out, "FATAL: load catalog: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateEnvelope(snap),
		validateCoordinates(snap.Results),
		validateDedup(snap.Results, opts.precision),
		validateSchema(snap.Results),
		validateFreshness(snap.Results, clock.Now(), opts.maxStale),
	}

	var observations []domain.Observation
	if opts.reportsPath != "" {
		observations, err = loadObservations(opts.reportsPath)
		if err != nil {
			fmt.Fprintf(out, "FATAL: load reports: %v\n", err)
			return 1
		}
		phases = append(phases, validateObservations(observations))
	}

	allPassed := true
	for _, p := range phases {
		status := color.GreenString("PASS")
		switch {
		case !p.passed():
			status = color.RedString("FAIL (%d errors)", len(p.errors))
			allPassed = false
		case len(p.warnings) > 0:
			status = color.YellowString("PASS (%d warnings)", len(p.warnings))
		}
		fmt.Fprintf(out, "  %-40s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Records: %d resources from %d sources, %d observations\n",
		len(snap.Results), len(snap.Sources), len(observations))

	for _, p := range phases {
		if len(p.errors) == 0 && len(p.warnings) == 0 {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
		for _, w := range p.warnings {
			fmt.Fprintf(out, "  (warn) %s\n", w)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

// ── Data loading ──

// catalogFile is the saved catalog. Count is nil for a bare array.
type catalogFile struct {
	domain.Snapshot
	Count *int `json:"count"`
}

func loadCatalog(path string) (catalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return catalogFile{}, err
	}
	var snap catalogFile
	if isArray(data) {
		err = json.Unmarshal(data, &snap.Results)
	} else {
		err = json.Unmarshal(data, &snap)
	}
	return snap, err
}

func loadObservations(path string) ([]domain.Observation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if isArray(data) {
		var items []domain.Observation
		err = json.Unmarshal(data, &items)
		return items, err
	}
	var envelope struct {
		Results []domain.Observation `json:"results"`
	}
	err = json.Unmarshal(data, &envelope)
	return envelope.Results, err
}

func isArray(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// ── Phase 1: Envelope ──
// Per-source counts are raw fetch counts, so deduplication can only shrink
// their sum.

func validateEnvelope(snap catalogFile) *phase {
	p := &phase{name: "Phase 1: Catalog envelope"}

	if snap.Count != nil && *snap.Count != len(snap.Results) {
		p.errorf("count is %d but results has %d entries", *snap.Count, len(snap.Results))
	}
	if snap.Sources == nil {
		if snap.Count != nil {
			p.errorf("sources map is missing")
		}
		return p
	}

	total := 0
	for _, n := range snap.Sources {
		if n < 0 {
			p.errorf("negative source count %d", n)
		}
		total += n
	}
	if total < len(snap.Results) {
		p.errorf("sources sum to %d, fewer than the %d deduplicated results", total, len(snap.Results))
	}

	kept := make(map[string]int)
	for _, r := range snap.Results {
		kept[r.Source]++
	}
	for _, name := range sortedKeys(kept) {
		fetched, ok := snap.Sources[name]
		if !ok {
			p.errorf("results reference unknown source %q", name)
			continue
		}
		if kept[name] > fetched {
			p.errorf("source %q kept %d records but fetched only %d", name, kept[name], fetched)
		}
	}
	for _, name := range sortedKeys(snap.Sources) {
		if snap.Sources[name] == 0 {
			p.warnf("source %q returned no records", name)
		}
	}
	return p
}

// ── Phase 2: Coordinates ──

func validateCoordinates(resources []domain.Resource) *phase {
	p := &phase{name: "Phase 2: Coordinates"}
	for i, r := range resources {
		if !r.Coordinates.Valid() {
			p.errorf("result %d (%s): coordinates %s out of range", i, r.Name, r.Coordinates)
		}
	}
	return p
}

// ── Phase 3: Deduplication ──

func validateDedup(resources []domain.Resource, precision int) *phase {
	p := &phase{name: "Phase 3: Deduplication"}
	seen := make(map[string]int, len(resources))
	for i, r := range resources {
		key := domain.DedupKey(r, precision)
		if first, dup := seen[key]; dup {
			p.errorf("result %d (%s/%s) duplicates result %d under key %q", i, r.Source, r.Name, first, key)
			continue
		}
		seen[key] = i
	}
	return p
}

// ── Phase 4: Schema ──

func validateSchema(resources []domain.Resource) *phase {
	p := &phase{name: "Phase 4: Schema"}
	for i, r := range resources {
		if r.Name == "" {
			p.errorf("result %d: missing name", i)
		}
		if r.Source == "" {
			p.errorf("result %d (%s): missing source", i, r.Name)
		}
		if !r.Type.Valid() {
			p.errorf("result %d (%s): type %q is not canonical", i, r.Name, r.Type)
		}
		if r.CapacityAvailable != nil && *r.CapacityAvailable < 0 {
			p.errorf("result %d (%s): negative capacityAvailable %d", i, r.Name, *r.CapacityAvailable)
		}
		if r.WaitMinutes != nil && *r.WaitMinutes < 0 {
			p.errorf("result %d (%s): negative waitMinutes %d", i, r.Name, *r.WaitMinutes)
		}
	}
	return p
}

// ── Phase 5: Freshness ──

func validateFreshness(resources []domain.Resource, now time.Time, maxStale int) *phase {
	p := &phase{name: "Phase 5: Freshness"}
	stale := 0
	for _, r := range resources {
		if !r.IsStale(now) {
			continue
		}
		stale++
		p.warnf("%s/%s last verified %s", r.Source, r.Name, r.LastVerifiedAt.Format(time.RFC3339))
	}
	if maxStale >= 0 && stale > maxStale {
		p.errorf("%d stale resources exceed the limit of %d", stale, maxStale)
	}
	return p
}

// ── Phase 6: Observations ──

func validateObservations(observations []domain.Observation) *phase {
	p := &phase{name: "Phase 6: Observations"}
	for i, o := range observations {
		if o.Type == "" {
			p.errorf("observation %d: missing type", o.ID)
		}
		if !o.Coordinates.Valid() {
			p.errorf("observation %d: coordinates %s out of range", o.ID, o.Coordinates)
		}
		if o.Count < 1 {
			p.errorf("observation %d: count %d is not positive", o.ID, o.Count)
		}
		if n := utf8.RuneCountInString(o.Note); n > domain.MaxNoteLength {
			p.errorf("observation %d: note has %d characters", o.ID, n)
		}
		if i == 0 {
			continue
		}
		prev := observations[i-1]
		if o.ID <= prev.ID {
			p.errorf("observation %d follows %d: ids must increase", o.ID, prev.ID)
		}
		if o.Timestamp.Before(prev.Timestamp) {
			p.errorf("observation %d is older than observation %d", o.ID, prev.ID)
		}
	}
	return p
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
