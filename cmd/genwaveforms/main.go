// Command genwaveforms writes a deterministic JSON-lines waveform fixture for
// file-mode runs, demos and tests. Every event gets one recording per
// distance.
//
// Usage:
//
//	go run ./cmd/genwaveforms \
//	  -out data/mock/waveforms.jsonl \
//	  -events 3 -distances 30,45,60,75
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/couchcryptid/me-compute/internal/domain"
	"github.com/couchcryptid/me-compute/internal/synthetic"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the JSON-lines fixture")
	events := flag.Int("events", 1, "number of events")
	distances := flag.String("distances", "30,45,60,75", "comma separated station distances in degrees")
	magnitude := flag.Float64("magnitude", 6, "event magnitude echoed in the fixture")
	depth := flag.Float64("depth", 10, "event depth in km")
	amplitude := flag.Float64("amplitude", 1000, "signal amplitude in counts")
	seed := flag.Uint64("seed", 1, "noise seed")
	flag.Parse()

	if *out == "" || *events < 1 {
		flag.Usage()
		return fmt.Errorf("missing required flags: -out, -events >= 1")
	}
	dists, err := parseDistances(*distances)
	if err != nil {
		return err
	}

	var inputs []domain.WaveformInput //nolint:prealloc // one batch per event
	for i := range *events {
		opts := synthetic.Options{
			EventID:         fmt.Sprintf("synthetic-%03d", i+1),
			Magnitude:       *magnitude,
			DepthKm:         *depth,
			SignalAmplitude: *amplitude * float64(i+1),
			Seed:            *seed + uint64(i)*uint64(len(dists)),
		}
		inputs = append(inputs, synthetic.Event(opts, dists)...)
	}

	if err := writeJSONLines(*out, inputs); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote %d waveforms for %d events to %s", len(inputs), *events, *out)
	return nil
}

func parseDistances(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := strconv.ParseFloat(p, 64)
		if err != nil || d <= 0 || d > 180 {
			return nil, fmt.Errorf("invalid distance %q: must be in (0, 180]", p)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no distances given")
	}
	return out, nil
}

func writeJSONLines(path string, inputs []domain.WaveformInput) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range inputs {
		if err := enc.Encode(inputs[i]); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
