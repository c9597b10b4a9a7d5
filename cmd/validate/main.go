// Command validate checks the consistency of the CSV outputs of a batch run:
// column layout, event and station agreement, and residual arithmetic.
//
// Usage:
//
//	go run ./cmd/validate -dir out/
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/couchcryptid/me-compute/internal/adapter/file"
)

// roundingTolerance covers event Me rounded to two decimals.
const roundingTolerance = 0.005 + 1e-9

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dir := flag.String("dir", "", "directory holding the CSV outputs of a run")
	flag.Parse()

	if *dir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*dir); code != 0 {
		os.Exit(code)
	}
}

func run(dir string) int {
	fmt.Println("=== Energy Magnitude Output Validation ===")
	fmt.Println()

	out, err := loadOutputs(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	phases := validate(out)

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Rows: %d events, %d waveforms, %d residuals\n",
		len(out.events.rows), len(out.measurements.rows), len(out.residuals.rows))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func validate(out outputs) []*phase {
	return []*phase{
		validateSchema(out),
		validateEvents(out),
		validateResiduals(out),
	}
}

// ── Data loading ──

// csvRow is a parsed CSV row with field values keyed by header name.
type csvRow struct {
	lineNum int
	fields  map[string]string
}

type csvFile struct {
	name   string
	header []string
	rows   []csvRow
}

type outputs struct {
	measurements csvFile
	events       csvFile
	residuals    csvFile
}

func loadOutputs(dir string) (outputs, error) {
	var out outputs
	var err error
	if out.measurements, err = loadCSV(filepath.Join(dir, file.MeasurementsFile)); err != nil {
		return out, err
	}
	if out.events, err = loadCSV(filepath.Join(dir, file.EventsFile)); err != nil {
		return out, err
	}
	if out.residuals, err = loadCSV(filepath.Join(dir, file.ResidualsFile)); err != nil {
		return out, err
	}
	return out, nil
}

func loadCSV(path string) (csvFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return csvFile{}, err
	}
	defer f.Close()

	all, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return csvFile{}, fmt.Errorf("read %s: %w", path, err)
	}
	if len(all) == 0 {
		return csvFile{}, fmt.Errorf("no header in %s", path)
	}

	out := csvFile{name: filepath.Base(path), header: all[0]}
	for i, row := range all[1:] {
		fields := make(map[string]string, len(out.header))
		for j, h := range out.header {
			if j < len(row) {
				fields[h] = strings.TrimSpace(row[j])
			}
		}
		out.rows = append(out.rows, csvRow{lineNum: i + 2, fields: fields})
	}
	return out, nil
}

// optional parses a possibly empty numeric cell.
func optional(s string) (float64, bool, error) {
	if s == "" {
		return math.NaN(), false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN(), false, err
	}
	return v, true, nil
}

// ── Phase 1: Schema ──

func validateSchema(out outputs) *phase {
	p := &phase{name: "Phase 1: Schema (CSV headers)"}
	for _, f := range []struct {
		file csvFile
		want []string
	}{
		{out.measurements, file.MeasurementHeader},
		{out.events, file.EventHeader},
		{out.residuals, file.ResidualHeader},
	} {
		if !slices.Equal(f.file.header, f.want) {
			p.errorf("%s: header %v, want %v", f.file.name, f.file.header, f.want)
		}
	}
	return p
}

// ── Phase 2: Events vs stations ──

type stationSummary struct {
	waveforms int
	stations  map[string]struct{}
	minMe     float64
	maxMe     float64
}

func summarizeStations(p *phase, rows []csvRow) map[string]*stationSummary {
	out := make(map[string]*stationSummary)
	for _, r := range rows {
		id := r.fields["event_id"]
		s, ok := out[id]
		if !ok {
			s = &stationSummary{stations: map[string]struct{}{}, minMe: math.Inf(1), maxMe: math.Inf(-1)}
			out[id] = s
		}
		s.stations[r.fields["network"]+"."+r.fields["station"]] = struct{}{}

		me, ok, err := optional(r.fields["station_energy_magnitude"])
		if err != nil {
			p.errorf("line %d: station_energy_magnitude: %v", r.lineNum, err)
			continue
		}
		if !ok {
			if r.fields["rejection"] == "" {
				p.errorf("line %d: event %s: empty Me without a rejection reason", r.lineNum, id)
			}
			continue
		}
		s.waveforms++
		s.minMe = min(s.minMe, me)
		s.maxMe = max(s.maxMe, me)
	}
	return out
}

func validateEvents(out outputs) *phase {
	p := &phase{name: "Phase 2: Event Consistency (events vs stations)"}
	stations := summarizeStations(p, out.measurements.rows)

	seen := make(map[string]bool, len(out.events.rows))
	for _, r := range out.events.rows {
		id := r.fields["event_id"]
		if seen[id] {
			p.errorf("line %d: duplicate event %s", r.lineNum, id)
			continue
		}
		seen[id] = true

		s, ok := stations[id]
		if !ok {
			p.errorf("line %d: event %s has no station rows", r.lineNum, id)
			continue
		}
		checkEventCounts(p, r, s)
		checkEventMe(p, r, s)
	}

	for id := range stations {
		if !seen[id] {
			p.errorf("station rows for event %s have no event row", id)
		}
	}
	return p
}

func checkEventCounts(p *phase, r csvRow, s *stationSummary) {
	id := r.fields["event_id"]
	if got := r.fields["waveforms"]; got != strconv.Itoa(s.waveforms) {
		p.errorf("line %d: event %s: waveforms=%s, station file has %d", r.lineNum, id, got, s.waveforms)
	}
	if got := r.fields["stations"]; got != strconv.Itoa(len(s.stations)) {
		p.errorf("line %d: event %s: stations=%s, station file has %d", r.lineNum, id, got, len(s.stations))
	}
	used, err := strconv.Atoi(r.fields["Me_waveforms_used"])
	if err != nil || used < 0 || used > s.waveforms {
		p.errorf("line %d: event %s: Me_waveforms_used=%q out of range 0-%d", r.lineNum, id, r.fields["Me_waveforms_used"], s.waveforms)
	}
}

func checkEventMe(p *phase, r csvRow, s *stationSummary) {
	id := r.fields["event_id"]
	me, ok, err := optional(r.fields["Me"])
	if err != nil {
		p.errorf("line %d: event %s: Me: %v", r.lineNum, id, err)
		return
	}
	_, hasStd, _ := optional(r.fields["Me_stddev"])
	if ok != hasStd {
		p.errorf("line %d: event %s: Me and Me_stddev must be both present or both empty", r.lineNum, id)
	}
	if !ok {
		if r.fields["Me_waveforms_used"] != "0" {
			p.errorf("line %d: event %s: empty Me with Me_waveforms_used=%s", r.lineNum, id, r.fields["Me_waveforms_used"])
		}
		return
	}
	if me < s.minMe-roundingTolerance || me > s.maxMe+roundingTolerance {
		p.errorf("line %d: event %s: Me %g outside station range [%g, %g]", r.lineNum, id, me, s.minMe, s.maxMe)
	}
}

// ── Phase 3: Residuals ──

func validateResiduals(out outputs) *phase {
	p := &phase{name: "Phase 3: Residuals (station - event Me)"}

	eventMe := make(map[string]csvRow, len(out.events.rows))
	for _, r := range out.events.rows {
		eventMe[r.fields["event_id"]] = r
	}

	perEvent := make(map[string]int)
	for _, r := range out.residuals.rows {
		id := r.fields["event_id"]
		perEvent[id]++
		ev, ok := eventMe[id]
		if !ok {
			p.errorf("line %d: residual for unknown event %s", r.lineNum, id)
			continue
		}
		checkResidual(p, r, ev)
	}

	for id, ev := range eventMe {
		if got := strconv.Itoa(perEvent[id]); got != ev.fields["stations"] {
			p.errorf("event %s: %s residual rows, stations=%s", id, got, ev.fields["stations"])
		}
	}
	return p
}

func checkResidual(p *phase, r, ev csvRow) {
	stationMe, hasStation, err1 := optional(r.fields["station_energy_magnitude"])
	residual, hasResidual, err2 := optional(r.fields["residual"])
	if err1 != nil || err2 != nil {
		p.errorf("line %d: unparsable residual columns", r.lineNum)
		return
	}
	station := r.fields["network"] + "." + r.fields["station"]
	if hasResidual && !hasStation {
		p.errorf("line %d: station %s: residual without station Me", r.lineNum, station)
		return
	}
	me, hasMe, _ := optional(ev.fields["Me"])
	if !hasMe {
		return
	}
	if hasStation && !hasResidual {
		p.errorf("line %d: station %s: station Me without residual", r.lineNum, station)
		return
	}
	if !hasResidual {
		return
	}
	// Residuals use the unrounded event Me.
	if math.Abs(residual-(stationMe-me)) > roundingTolerance {
		p.errorf("line %d: station %s: residual %g, station Me %g minus event Me %g",
			r.lineNum, station, residual, stationMe, me)
	}
}
