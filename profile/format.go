package profile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lanl/sicm-go/extent"
)

// Run bundles a profiling run's snapshots with a generated identifier,
// a supplement over the original C library (which has no notion of a
// run ID; sicm-go tags every Run built by NewRun so output files from
// concurrent runs, or runs over time, can be told apart downstream).
type Run struct {
	ID        string
	Snapshots []Snapshot
}

// NewRun wraps snapshots with a freshly generated run ID.
func NewRun(snapshots []Snapshot) Run {
	return Run{ID: uuid.NewString(), Snapshots: snapshots}
}

// WriteProfile serializes a Run in spec §6's self-describing text
// envelope: "===== BEGIN SICM PROFILING INFORMATION ===== ... ===== END
// =====", wrapping per-arena "BEGIN ARENA <idx> ... END ARENA <idx>"
// blocks, each with per-subclass "BEGIN <SUBCLASS> ... END <SUBCLASS>"
// sections and one "BEGIN EVENT <name> ... END EVENT <name>" per event.
func WriteProfile(w io.Writer, run Run) error {
	bw := bufio.NewWriter(w)

	numEvents := 0
	for _, s := range run.Snapshots {
		for _, evs := range s.Events {
			numEvents += len(evs)
		}
	}

	fmt.Fprintf(bw, "===== BEGIN SICM PROFILING INFORMATION =====\n")
	fmt.Fprintf(bw, "RUN_ID %s\n", run.ID)
	fmt.Fprintf(bw, "NUM_EVENTS %d\n", numEvents)
	fmt.Fprintf(bw, "NUM_ARENAS %d\n", len(run.Snapshots))

	for _, s := range run.Snapshots {
		fmt.Fprintf(bw, "BEGIN ARENA %d\n", s.Arena)
		fmt.Fprintf(bw, "SITES")
		for _, site := range s.Sites {
			fmt.Fprintf(bw, " %d", site)
		}
		fmt.Fprintf(bw, "\n")
		fmt.Fprintf(bw, "FIRST_INTERVAL %d\n", s.FirstInterval)
		fmt.Fprintf(bw, "NUM_INTERVALS %d\n", s.NumIntervals)

		for subclass, events := range s.Events {
			fmt.Fprintf(bw, "BEGIN %s\n", strings.ToUpper(subclass))
			for name, rec := range events {
				fmt.Fprintf(bw, "BEGIN EVENT %s\n", name)
				fmt.Fprintf(bw, "TOTAL %d\n", rec.Total)
				fmt.Fprintf(bw, "PEAK %d\n", rec.Peak)
				fmt.Fprintf(bw, "INTERVALS")
				for _, v := range rec.Intervals {
					fmt.Fprintf(bw, " %d", v)
				}
				fmt.Fprintf(bw, "\n")
				fmt.Fprintf(bw, "END EVENT %s\n", name)
			}
			fmt.Fprintf(bw, "END %s\n", strings.ToUpper(subclass))
		}
		fmt.Fprintf(bw, "END ARENA %d\n", s.Arena)
	}
	fmt.Fprintf(bw, "===== END =====\n")
	return bw.Flush()
}

// ReadProfile parses the envelope WriteProfile produces, for the
// hotset-generator CLI's "offline_sorted_sites" input (spec §4.9) and
// for sicmctl's "profile dump" subcommand.
func ReadProfile(r io.Reader) (Run, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var run Run
	var cur *Snapshot
	var curSubclass string
	var curEventName string
	var curEvent EventRecord

	flushEvent := func() {
		if cur == nil || curEventName == "" {
			return
		}
		if cur.Events == nil {
			cur.Events = make(map[string]map[string]EventRecord)
		}
		sub, ok := cur.Events[curSubclass]
		if !ok {
			sub = make(map[string]EventRecord)
			cur.Events[curSubclass] = sub
		}
		sub[curEventName] = curEvent
		curEventName = ""
		curEvent = EventRecord{}
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		switch {
		case line == "===== BEGIN SICM PROFILING INFORMATION =====" || line == "===== END =====":
			continue
		case fields[0] == "RUN_ID" && len(fields) == 2:
			run.ID = fields[1]
		case fields[0] == "NUM_EVENTS", fields[0] == "NUM_ARENAS":
			continue
		case len(fields) >= 3 && fields[0] == "BEGIN" && fields[1] == "ARENA":
			id, err := strconv.ParseUint(fields[2], 10, 32)
			if err != nil {
				return run, fmt.Errorf("profile: read: bad arena id %q: %w", fields[2], err)
			}
			cur = &Snapshot{Arena: extent.ArenaID(id), Events: map[string]map[string]EventRecord{}}
		case len(fields) >= 3 && fields[0] == "END" && fields[1] == "ARENA":
			if cur != nil {
				run.Snapshots = append(run.Snapshots, *cur)
				cur = nil
			}
		case fields[0] == "SITES":
			if cur == nil {
				continue
			}
			for _, f := range fields[1:] {
				n, err := strconv.Atoi(f)
				if err != nil {
					continue
				}
				cur.Sites = append(cur.Sites, n)
			}
		case fields[0] == "FIRST_INTERVAL" && len(fields) == 2:
			if cur != nil {
				cur.FirstInterval, _ = strconv.Atoi(fields[1])
			}
		case fields[0] == "NUM_INTERVALS" && len(fields) == 2:
			if cur != nil {
				cur.NumIntervals, _ = strconv.Atoi(fields[1])
			}
		case len(fields) >= 3 && fields[0] == "BEGIN" && fields[1] == "EVENT":
			curEventName = fields[2]
		case len(fields) >= 3 && fields[0] == "END" && fields[1] == "EVENT":
			flushEvent()
		case fields[0] == "TOTAL" && len(fields) == 2:
			curEvent.Total, _ = strconv.ParseUint(fields[1], 10, 64)
		case fields[0] == "PEAK" && len(fields) == 2:
			curEvent.Peak, _ = strconv.ParseUint(fields[1], 10, 64)
		case fields[0] == "INTERVALS":
			for _, f := range fields[1:] {
				v, err := strconv.ParseUint(f, 10, 64)
				if err != nil {
					continue
				}
				curEvent.Intervals = append(curEvent.Intervals, v)
			}
		case fields[0] == "BEGIN":
			curSubclass = strings.ToLower(fields[1])
		case fields[0] == "END":
			// END <SUBCLASS>: nothing to flush, subclass map already
			// populated incrementally by flushEvent.
		}
	}
	if err := scanner.Err(); err != nil {
		return run, fmt.Errorf("profile: read: %w", err)
	}
	return run, nil
}
