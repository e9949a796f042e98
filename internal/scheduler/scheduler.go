// Package scheduler drives the rotation sweep: it samples headings
// across [rotation_min, rotation_max] at rotation_step, runs each
// heading's lanes C/D/X in parallel across a bounded pool of goroutines,
// and blends the per-rotation landability and measurability rasters into
// the final M3/M4 outputs.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/MeKo-Tech/lad/internal/errs"
	"github.com/MeKo-Tech/lad/internal/ops"
	"github.com/MeKo-Tech/lad/internal/pipeline"
	"github.com/MeKo-Tech/lad/internal/raster"
)

// Result is the outcome of a full rotation sweep.
type Result struct {
	M3Final     *raster.Buffer
	M4Final     *raster.Buffer
	PerRotation map[float64]*pipeline.RotationResult
	Errors      map[float64]error
}

// ProgressFunc is called after each heading in the sweep completes, with
// the heading just finished alongside the running totals.
type ProgressFunc func(heading float64, completed, total, failed int)

// Scheduler runs a pipeline's rotation-dependent lanes across a sweep of
// headings, in parallel, bounded by MaxThreads.
type Scheduler struct {
	Pipeline   *pipeline.Pipeline
	MaxThreads int
	OnProgress ProgressFunc
}

// New builds a Scheduler for p, reading MaxThreads from p.Config and
// floor-clamping it to 3 the way config.Load already does for the
// top-level default, so a scheduler built directly from a hand-rolled
// config still gets a sane worker count.
func New(p *pipeline.Pipeline) *Scheduler {
	threads := p.Config.Scheduling.MaxThreads
	if threads < 3 {
		threads = 3
	}
	return &Scheduler{Pipeline: p, MaxThreads: threads}
}

// headings returns theta_k = theta_min + k*step for k = 0..n, where
// n = floor((theta_max - theta_min) / step), per the rotation-sweep
// contract. If fix_rotation is set, it returns the single configured
// rotation.
func (s *Scheduler) headings() []float64 {
	rot := s.Pipeline.Config.Rotation
	if rot.FixRotation {
		return []float64{rot.Rotation}
	}
	if rot.RotationStep <= 0 {
		return []float64{rot.RotationMin}
	}
	n := int(math.Floor((rot.RotationMax - rot.RotationMin) / rot.RotationStep))
	out := make([]float64, 0, n+1)
	for k := 0; k <= n; k++ {
		out = append(out, rot.RotationMin+float64(k)*rot.RotationStep)
	}
	return out
}

// headingResult is the outcome of running one heading's rotation lanes.
// Heading doubles as the sort key the blend step orders by, so there is
// no separate task/result indirection to keep in sync with it.
type headingResult struct {
	Heading float64
	Value   *pipeline.RotationResult
	Err     error
	Elapsed time.Duration
}

// runHeadings fans headings out across MaxThreads goroutines, each
// calling RunRotationLanes for its heading, and reports progress as each
// completes. It blocks until every heading has been attempted or ctx is
// cancelled.
func (s *Scheduler) runHeadings(ctx context.Context, headings []float64) []headingResult {
	headingCh := make(chan float64, len(headings))
	resultCh := make(chan headingResult, len(headings))

	workers := s.MaxThreads
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for heading := range headingCh {
				select {
				case <-ctx.Done():
					resultCh <- headingResult{Heading: heading, Err: ctx.Err()}
					continue
				default:
				}

				start := time.Now()
				rr, err := s.Pipeline.RunRotationLanes(heading)
				resultCh <- headingResult{Heading: heading, Value: rr, Err: err, Elapsed: time.Since(start)}
			}
		}()
	}

	go func() {
		for _, h := range headings {
			select {
			case headingCh <- h:
			case <-ctx.Done():
			}
		}
		close(headingCh)
	}()

	results := make([]headingResult, 0, len(headings))
	done := make(chan struct{})
	go func() {
		var completed, failed int
		for r := range resultCh {
			results = append(results, r)
			completed++
			if r.Err != nil {
				failed++
			}
			if s.OnProgress != nil {
				s.OnProgress(r.Heading, completed, len(headings), failed)
			}
		}
		close(done)
	}()

	wg.Wait()
	close(resultCh)
	<-done

	return results
}

// Run executes the rotation sweep and blends the results. When
// fix_rotation is set, the single heading's M3/M4 are returned directly
// without blending. Otherwise, every successful rotation's M3 (resp.
// M4) is blended via ops.BlendMean; a rotation that fails contributes
// nothing to the blend but is recorded in Result.Errors, and the sweep
// as a whole only fails if every rotation fails.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	headings := s.headings()
	if len(headings) == 0 {
		return nil, errs.New(errs.KindWrongArgument, "rotation sweep produced no headings")
	}

	results := s.runHeadings(ctx, headings)

	perRotation := make(map[float64]*pipeline.RotationResult, len(results))
	errorsByHeading := make(map[float64]error)

	for _, r := range results {
		if r.Err != nil {
			errorsByHeading[r.Heading] = r.Err
			continue
		}
		if r.Value == nil {
			errorsByHeading[r.Heading] = errs.New(errs.KindUnknown, "rotation %v produced no result", r.Heading)
			continue
		}
		perRotation[r.Heading] = r.Value
	}

	if len(perRotation) == 0 {
		return nil, errs.New(errs.KindWrongArgument, "every rotation in the sweep failed: %s", summarizeErrors(errorsByHeading))
	}

	if s.Pipeline.Config.Rotation.FixRotation {
		rr := perRotation[headings[0]]
		return &Result{
			M3Final:     rr.M3,
			M4Final:     rr.M4,
			PerRotation: perRotation,
			Errors:      errorsByHeading,
		}, nil
	}

	orderedHeadings := make([]float64, 0, len(perRotation))
	for h := range perRotation {
		orderedHeadings = append(orderedHeadings, h)
	}
	sort.Float64s(orderedHeadings)

	m3Layers := make([]*raster.Buffer, 0, len(orderedHeadings))
	m4Layers := make([]*raster.Buffer, 0, len(orderedHeadings))
	for _, h := range orderedHeadings {
		m3Layers = append(m3Layers, perRotation[h].M3)
		m4Layers = append(m4Layers, perRotation[h].M4)
	}

	reference := m3Layers[0]
	m3Final, err := ops.BlendMean(m3Layers, reference)
	if err != nil {
		return nil, err
	}
	m4Final, err := ops.BlendMean(m4Layers, reference)
	if err != nil {
		return nil, err
	}

	if len(errorsByHeading) > 0 {
		s.Pipeline.Log().Warn("rotation sweep blended with partial failures",
			"failed", len(errorsByHeading), "succeeded", len(perRotation))
	}

	return &Result{
		M3Final:     m3Final,
		M4Final:     m4Final,
		PerRotation: perRotation,
		Errors:      errorsByHeading,
	}, nil
}

func summarizeErrors(byHeading map[float64]error) string {
	if len(byHeading) == 0 {
		return "none"
	}
	headings := make([]float64, 0, len(byHeading))
	for h := range byHeading {
		headings = append(headings, h)
	}
	sort.Float64s(headings)

	out := ""
	for i, h := range headings {
		if i > 0 {
			out += "; "
		}
		out += fmt.Sprintf("%v: %v", h, byHeading[h])
	}
	return out
}
