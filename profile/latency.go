package profile

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/lanl/sicm-go/extent"
	"github.com/lanl/sicm-go/router"
)

// tierEvents names the eight ordered per-socket counters spec §4.8
// requires: read-inserts/occupancy and write-inserts/occupancy for the
// upper tier, then the same four for the lower tier, plus a DRAM
// clock-tick event.
type tierEvents struct {
	UpperReadInserts, UpperReadOccupancy   *imcCounter
	UpperWriteInserts, UpperWriteOccupancy *imcCounter
	LowerReadInserts, LowerReadOccupancy   *imcCounter
	LowerWriteInserts, LowerWriteOccupancy *imcCounter
	DRAMClockTicks                         *imcCounter
}

func (t *tierEvents) all() []*imcCounter {
	return []*imcCounter{
		t.UpperReadInserts, t.UpperReadOccupancy, t.UpperWriteInserts, t.UpperWriteOccupancy,
		t.LowerReadInserts, t.LowerReadOccupancy, t.LowerWriteInserts, t.LowerWriteOccupancy,
		t.DRAMClockTicks,
	}
}

// cma is a cumulative moving average, spec §4.8's "maintain a cumulative
// moving average of the ratio".
type cma struct {
	n     uint64
	value float64
}

func (c *cma) add(x float64) float64 {
	c.n++
	c.value += (x - c.value) / float64(c.n)
	return c.value
}

// socketLatency holds one socket's eight counters and its tier-ratio CMA.
type socketLatency struct {
	cpu      int
	events   tierEvents
	ratioCMA cma
}

// LatencyProfiler implements spec §4.8's latency profiler. Per interval
// it derives DRAM speed and per-tier read/write latency from occupancy
// and insert counts, computes the lower/upper read-latency ratio, and
// folds it into a per-socket CMA. When SetMultipliers is enabled, the
// geometric mean of all sockets' ratio CMAs is published through
// Multiplier() for the access-sample profiler's per-event weighting.
type LatencyProfiler struct {
	skipEvery      int
	sockets        []*socketLatency
	setMultipliers bool
	lastTick       time.Time
	mu             sync.Mutex
	multiplier     float64
}

// NewLatencyProfiler opens the nine-counter set for each socket CPU
// against the given IMC PMU and per-event raw config codes.
func NewLatencyProfiler(cpus []int, imc string, configs [9]uint64, setMultipliers bool, skipEvery int) (*LatencyProfiler, error) {
	p := &LatencyProfiler{skipEvery: skipEvery, setMultipliers: setMultipliers, lastTick: timeNow(), multiplier: 1}
	for _, cpu := range cpus {
		sl := &socketLatency{cpu: cpu}
		counters := make([]*imcCounter, 9)
		for i, cfg := range configs {
			c, err := openIMCCounter(cpu, imc, cfg)
			if err != nil {
				p.Close()
				return nil, err
			}
			if err := c.start(); err != nil {
				p.Close()
				return nil, err
			}
			counters[i] = c
		}
		sl.events = tierEvents{
			UpperReadInserts: counters[0], UpperReadOccupancy: counters[1],
			UpperWriteInserts: counters[2], UpperWriteOccupancy: counters[3],
			LowerReadInserts: counters[4], LowerReadOccupancy: counters[5],
			LowerWriteInserts: counters[6], LowerWriteOccupancy: counters[7],
			DRAMClockTicks: counters[8],
		}
		p.sockets = append(p.sockets, sl)
	}
	return p, nil
}

func (p *LatencyProfiler) Name() string   { return "latency" }
func (p *LatencyProfiler) SkipEvery() int { return p.skipEvery }

func (p *LatencyProfiler) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, s := range p.sockets {
		for _, c := range s.events.all() {
			if err := c.close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Multiplier returns the current per-event weighting multiplier derived
// from the geometric mean of all sockets' read-ratio CMAs, or 1 if
// SetMultipliers was not requested or no interval has run yet.
func (p *LatencyProfiler) Multiplier() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.multiplier
}

func stopRead(c *imcCounter) (uint64, error) {
	v, err := c.stopAndRead()
	if err != nil {
		return 0, err
	}
	if err := c.start(); err != nil {
		return 0, err
	}
	return v, nil
}

func (p *LatencyProfiler) RunInterval(ctx context.Context, r *router.Router, profiles map[extent.ArenaID]*ArenaProfile) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := timeNow()
	elapsedNS := now.Sub(p.lastTick).Nanoseconds()
	p.lastTick = now
	if elapsedNS <= 0 {
		elapsedNS = 1
	}

	ratios := make([]float64, 0, len(p.sockets))
	for _, s := range p.sockets {
		ticks, err := stopRead(s.events.DRAMClockTicks)
		if err != nil {
			return err
		}
		speed := float64(ticks) / float64(elapsedNS)

		upperReadLatency, err := tierLatency(s.events.UpperReadOccupancy, s.events.UpperReadInserts, speed)
		if err != nil {
			return err
		}
		lowerReadLatency, err := tierLatency(s.events.LowerReadOccupancy, s.events.LowerReadInserts, speed)
		if err != nil {
			return err
		}
		_, err = tierLatency(s.events.UpperWriteOccupancy, s.events.UpperWriteInserts, speed)
		if err != nil {
			return err
		}
		_, err = tierLatency(s.events.LowerWriteOccupancy, s.events.LowerWriteInserts, speed)
		if err != nil {
			return err
		}

		var ratio float64
		if upperReadLatency > 0 {
			ratio = lowerReadLatency / upperReadLatency
		}
		cmaVal := s.ratioCMA.add(ratio)
		ratios = append(ratios, cmaVal)
	}

	if p.setMultipliers && len(ratios) > 0 {
		p.multiplier = geometricMean(ratios)
	}
	return nil
}

func tierLatency(occupancy, inserts *imcCounter, speed float64) (float64, error) {
	occ, err := stopRead(occupancy)
	if err != nil {
		return 0, err
	}
	ins, err := stopRead(inserts)
	if err != nil {
		return 0, err
	}
	if ins == 0 || speed == 0 {
		return 0, nil
	}
	return float64(occ) / float64(ins) / speed, nil
}

func geometricMean(xs []float64) float64 {
	if len(xs) == 0 {
		return 1
	}
	product := 1.0
	for _, x := range xs {
		if x <= 0 {
			continue
		}
		product *= x
	}
	return math.Pow(product, 1/float64(len(xs)))
}

// SkipInterval is a no-op: latency is a process-wide multiplier, not a
// per-arena accumulator, so a skipped interval simply leaves the last
// computed multiplier in place.
func (p *LatencyProfiler) SkipInterval(profiles map[extent.ArenaID]*ArenaProfile) {}
