// Command unsquare finds building footprints in a GeoJSON file whose corners
// are nearly but not quite right angles, and optionally squares them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/paulmach/orb"

	"github.com/banshee-data/unsquare/internal/config"
	"github.com/banshee-data/unsquare/internal/fix"
	"github.com/banshee-data/unsquare/internal/footprint"
	"github.com/banshee-data/unsquare/internal/geom"
	"github.com/banshee-data/unsquare/internal/monitoring"
	"github.com/banshee-data/unsquare/internal/render"
	"github.com/banshee-data/unsquare/internal/store"
	"github.com/banshee-data/unsquare/internal/validation"
	"github.com/banshee-data/unsquare/internal/version"
)

// Apply modes for -apply.
const (
	applyNone = "none"
	applyAuto = "auto"
	applyAll  = "all"
)

type options struct {
	in           string
	out          string
	configPath   string
	apply        string
	tagNonSquare bool
	loadedBBox   string
	dbPath       string
	plotDir      string
	jsonPath     string
}

// reportEntry is one flagged building in the -json report.
type reportEntry struct {
	IssueID          string   `json:"issue_id"`
	EntityID         string   `json:"entity_id"`
	MaxOffsetDegrees float64  `json:"max_offset_degrees"`
	Deviation        float64  `json:"deviation"`
	AutoApplicable   bool     `json:"auto_applicable"`
	Fixes            []string `json:"fixes"`
	Applied          string   `json:"applied,omitempty"`
	Iterations       int      `json:"iterations,omitempty"`
	MaxErrorDegrees  float64  `json:"max_error_degrees,omitempty"`
	Plot             string   `json:"plot,omitempty"`
}

type summary struct {
	Candidates int           `json:"candidates"`
	Flagged    int           `json:"flagged"`
	Auto       int           `json:"auto_applicable"`
	Squared    int           `json:"squared"`
	Tagged     int           `json:"tagged"`
	Plots      int           `json:"plots,omitempty"`
	RunID      string        `json:"run_id,omitempty"`
	Issues     []reportEntry `json:"issues"`
}

func main() {
	var o options
	flag.StringVar(&o.in, "in", "", "Input GeoJSON FeatureCollection (required)")
	flag.StringVar(&o.out, "out", "", "Write the edited FeatureCollection here")
	flag.StringVar(&o.configPath, "config", "", "Thresholds JSON file (defaults apply when empty)")
	flag.StringVar(&o.apply, "apply", applyNone, "Square flagged buildings: 'none', 'auto' (auto-fixable only) or 'all'")
	flag.BoolVar(&o.tagNonSquare, "tag-nonsquare", false, "Tag flagged buildings that were not squared with nonsquare=yes")
	flag.StringVar(&o.loadedBBox, "loaded-bbox", "", "Fully loaded area as minLon,minLat,maxLon,maxLat")
	flag.StringVar(&o.dbPath, "db", "", "Record the run in this sqlite database")
	flag.StringVar(&o.plotDir, "plots", "", "Write before/after plots to this directory")
	flag.StringVar(&o.jsonPath, "json", "", "Write a JSON report here ('-' for stdout)")
	verbose := flag.Bool("verbose", false, "Log why each building was skipped or flagged")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if o.in == "" {
		flag.Usage()
		os.Exit(2)
	}
	monitoring.SetVerbose(*verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := run(ctx, o)
	if err != nil {
		log.Fatalf("unsquare: %v", err)
	}
	printSummary(os.Stdout, s)
}

func run(ctx context.Context, o options) (*summary, error) {
	switch o.apply {
	case applyNone, applyAuto, applyAll:
	default:
		return nil, fmt.Errorf("invalid -apply %q: want none, auto or all", o.apply)
	}

	var cfg *config.SquareConfig
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadSquareConfig(o.configPath); err != nil {
			return nil, err
		}
	}
	v, err := validation.New(cfg)
	if err != nil {
		return nil, err
	}

	ds, err := footprint.LoadFile(o.in)
	if err != nil {
		return nil, err
	}
	if o.loadedBBox != "" {
		b, err := parseBBox(o.loadedBBox)
		if err != nil {
			return nil, err
		}
		ds.SetLoadedBound(b)
	}

	var plots *render.Plotter
	if o.plotDir != "" {
		if plots, err = render.NewPlotter(o.plotDir); err != nil {
			return nil, err
		}
	}

	var db *store.Store
	s := &summary{Issues: []reportEntry{}}
	if o.dbPath != "" {
		if db, err = store.Open(o.dbPath); err != nil {
			return nil, err
		}
		defer db.Close()
		if s.RunID, err = db.StartRun(o.in); err != nil {
			return nil, err
		}
	}

	candidates := ds.Candidates()
	s.Candidates = len(candidates)
	issues, err := v.ValidateAll(ctx, candidates, ds.Context())
	if err != nil {
		return nil, err
	}

	for i, issue := range issues {
		if issue == nil {
			continue
		}
		entry, after := handleIssue(ds, candidates[i].Ring, issue, o, s)
		if plots != nil {
			if entry.Plot, err = plots.Plot(entry.EntityID, candidates[i].Ring, after); err != nil {
				monitoring.Logf("plot %s: %v", entry.EntityID, err)
			}
		}
		if db != nil {
			if err := db.RecordIssue(s.RunID, issue, entry.Applied); err != nil {
				return nil, err
			}
		}
		s.Issues = append(s.Issues, entry)
	}

	if plots != nil {
		s.Plots = plots.Written()
	}
	if db != nil {
		counts := store.RunCounts{Candidates: s.Candidates, Flagged: s.Flagged, Squared: s.Squared, Tagged: s.Tagged}
		if err := db.FinishRun(s.RunID, counts); err != nil {
			return nil, err
		}
	}
	if o.out != "" {
		if err := ds.WriteFile(o.out); err != nil {
			return nil, err
		}
	}
	if o.jsonPath != "" {
		if err := writeReport(o.jsonPath, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// handleIssue applies the fixes o asks for. It returns the report entry and
// the squared ring, if one was applied or proposed.
func handleIssue(ds *footprint.Dataset, ring geom.Ring, issue *validation.Issue, o options, s *summary) (reportEntry, geom.Ring) {
	entry := reportEntry{
		IssueID:          issue.ID,
		EntityID:         issue.EntityIDs[0],
		MaxOffsetDegrees: issue.Verdict.MaxOffsetDegrees,
		Deviation:        issue.Verdict.Deviation,
		AutoApplicable:   issue.Offer.AutoApplicable,
	}
	s.Flagged++
	if issue.Offer.AutoApplicable {
		s.Auto++
	}
	var after geom.Ring
	if issue.Offer.Proposed != nil {
		after = issue.Offer.Proposed.Ring
	}

	for _, f := range issue.Offer.Fixes {
		switch f := f.(type) {
		case fix.ApplyOrthogonalizeFix:
			entry.Fixes = append(entry.Fixes, store.AppliedSquare)
			if !shouldSquare(o.apply, issue.Offer.AutoApplicable) {
				continue
			}
			res, err := fix.Resolve(f, ring)
			if err != nil {
				monitoring.Logf("square %s: %v", f.EntityID, err)
				continue
			}
			f.Precomputed = &res
			if err := ds.Apply(f); err != nil {
				monitoring.Logf("square %s: %v", f.EntityID, err)
				continue
			}
			entry.Applied = store.AppliedSquare
			after = res.Ring
			entry.Iterations = res.Iterations
			entry.MaxErrorDegrees = res.MaxErrorDegrees
			s.Squared++
		case fix.TagAsNonSquareFix:
			entry.Fixes = append(entry.Fixes, store.AppliedTag)
			if !o.tagNonSquare || entry.Applied != store.AppliedNone {
				continue
			}
			if err := ds.Apply(f); err != nil {
				monitoring.Logf("tag %s: %v", f.EntityID, err)
				continue
			}
			entry.Applied = store.AppliedTag
			s.Tagged++
		}
	}
	return entry, after
}

func shouldSquare(mode string, auto bool) bool {
	return mode == applyAll || (mode == applyAuto && auto)
}

func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("invalid -loaded-bbox %q: want minLon,minLat,maxLon,maxLat", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid -loaded-bbox value '%s': %w", p, err)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, errors.New("invalid -loaded-bbox: min exceeds max")
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func writeReport(path string, s *summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func printSummary(w io.Writer, s *summary) {
	fmt.Fprintf(w, "checked %d buildings: %d unsquare (%d auto-fixable), %d squared, %d tagged\n",
		s.Candidates, s.Flagged, s.Auto, s.Squared, s.Tagged)
	if s.Plots > 0 {
		fmt.Fprintf(w, "%d plots written\n", s.Plots)
	}
	if s.RunID != "" {
		fmt.Fprintf(w, "run %s recorded\n", s.RunID)
	}
}
