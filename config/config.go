// Package config parses the SH_* environment variables into one typed,
// read-only Config loaded once at process start, the same "parse once
// into a struct, hand out read-only copies" shape as
// kernel/threads/sab/layout.go's package-level constants and
// kernel/threads/registry/loader.go's load-once-then-serve pattern.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Layout selects the site-to-arena routing strategy of spec §4.3.
type Layout int

const (
	OneArena Layout = iota
	ExclusiveArenas
	ExclusiveDeviceArenas
	SharedSiteArenas
	BigSmallArenas
)

func (l Layout) String() string {
	switch l {
	case OneArena:
		return "ONE_ARENA"
	case ExclusiveArenas:
		return "EXCLUSIVE_ARENAS"
	case ExclusiveDeviceArenas:
		return "EXCLUSIVE_DEVICE_ARENAS"
	case SharedSiteArenas:
		return "SHARED_SITE_ARENAS"
	case BigSmallArenas:
		return "BIG_SMALL_ARENAS"
	default:
		return "UNKNOWN"
	}
}

// ParseLayout parses the SH_ARENA_LAYOUT value, defaulting to
// SharedSiteArenas, "the prevailing production layout" per spec §4.3.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "SHARED_SITE_ARENAS":
		return SharedSiteArenas, nil
	case "ONE_ARENA":
		return OneArena, nil
	case "EXCLUSIVE_ARENAS":
		return ExclusiveArenas, nil
	case "EXCLUSIVE_DEVICE_ARENAS":
		return ExclusiveDeviceArenas, nil
	case "BIG_SMALL_ARENAS":
		return BigSmallArenas, nil
	default:
		return SharedSiteArenas, fmt.Errorf("config: unknown SH_ARENA_LAYOUT %q", s)
	}
}

// Config is the fully parsed process configuration, per spec §6's
// environment variable table.
type Config struct {
	ArenaLayout        Layout
	BigSmallThreshold  uint64
	MaxArenas          int
	MaxSitesPerArena   int
	MaxSites           int
	UpperNode          int
	LowerNode          int
	DefaultNode        int
	GuidanceFile       string
	ProfileRate        time.Duration
	ProfileAll         bool
	ProfileAllEvents   []string
	ProfileAllMults    []float64
	ProfileAllSkip     int
	ProfileRSS         bool
	ProfileRSSSkip     int
	ProfileExtentSize  bool
	ExtentSizeSkip     int
	ProfileAllocs      bool
	AllocsSkip         int
	ProfileBW          bool
	ProfileLatency     bool
	ProfileIMC         string
	ProfileNodes       []int
	ProfileOnline      bool
	OnlineGrace        int
	OnlineReconfRatio  float64
	OnlineNoBind       bool
	OnlineValueAlgo    string
	OnlineWeightAlgo   string
	OnlineSortAlgo     string
	OnlinePackingAlgo  string
	SampleFreq         int
	MaxSamplePages     int
	LogFile            string
	ProfileInputFile   string
	ProfileOutputFile  string
}

const (
	maxArenasHardCap = 4095
	defaultMaxArenas = 4095
)

// Load reads the environment and returns a fully populated Config,
// applying spec §6's defaults for every variable left unset.
func Load() (Config, error) {
	var c Config
	var err error

	layoutStr := os.Getenv("SH_ARENA_LAYOUT")
	if c.ArenaLayout, err = ParseLayout(layoutStr); err != nil {
		return c, err
	}

	c.BigSmallThreshold = envUint64("SH_BIG_SMALL_THRESHOLD", 1<<21)

	c.MaxArenas = envInt("SH_MAX_ARENAS", defaultMaxArenas)
	if c.MaxArenas > maxArenasHardCap {
		return c, fmt.Errorf("config: SH_MAX_ARENAS %d exceeds hard cap %d", c.MaxArenas, maxArenasHardCap)
	}
	c.MaxSitesPerArena = envInt("SH_MAX_SITES_PER_ARENA", 64)
	c.MaxSites = envInt("SH_MAX_SITES", 4096)

	c.UpperNode = envInt("SH_UPPER_NODE", -1)
	c.LowerNode = envInt("SH_LOWER_NODE", -1)
	c.DefaultNode = envInt("SH_DEFAULT_NODE", 0)

	c.GuidanceFile = os.Getenv("SH_GUIDANCE_FILE")

	rateNS := envInt("SH_PROFILE_RATE_NSECONDS", 1_000_000_000)
	c.ProfileRate = time.Duration(rateNS)

	c.ProfileAll = envBool("SH_PROFILE_ALL", false)
	c.ProfileAllEvents = envList("SH_PROFILE_ALL_EVENTS", nil)
	c.ProfileAllMults = envFloatList("SH_PROFILE_ALL_MULTIPLIERS", nil)
	c.ProfileAllSkip = envInt("SH_PROFILE_ALL_SKIP_INTERVALS", 0)

	c.ProfileRSS = envBool("SH_PROFILE_RSS", false)
	c.ProfileRSSSkip = envInt("SH_PROFILE_RSS_SKIP_INTERVALS", 0)
	c.ProfileExtentSize = envBool("SH_PROFILE_EXTENT_SIZE", false)
	c.ExtentSizeSkip = envInt("SH_PROFILE_EXTENT_SIZE_SKIP_INTERVALS", 0)
	c.ProfileAllocs = envBool("SH_PROFILE_ALLOCS", false)
	c.AllocsSkip = envInt("SH_PROFILE_ALLOCS_SKIP_INTERVALS", 0)

	c.ProfileBW = envBool("SH_PROFILE_BW", false)
	c.ProfileLatency = envBool("SH_PROFILE_LATENCY", false)
	c.ProfileIMC = os.Getenv("SH_PROFILE_IMC")
	c.ProfileNodes = envIntList("SH_PROFILE_NODES", nil)

	c.ProfileOnline = envBool("SH_PROFILE_ONLINE", false)
	c.OnlineGrace = envInt("SH_PROFILE_ONLINE_GRACE", 3)
	c.OnlineReconfRatio = envFloat("SH_PROFILE_ONLINE_RECONF_RATIO", 0.5)
	c.OnlineNoBind = envBool("SH_PROFILE_ONLINE_NOBIND", false)
	c.OnlineValueAlgo = envString("SH_PROFILE_ONLINE_VALUE", "hot")
	c.OnlineWeightAlgo = envString("SH_PROFILE_ONLINE_WEIGHT", "capacity")
	c.OnlineSortAlgo = envString("SH_PROFILE_ONLINE_SORT", "greedy")
	c.OnlinePackingAlgo = envString("SH_PROFILE_ONLINE_PACKING", "knapsack")

	c.SampleFreq = envInt("SH_SAMPLE_FREQ", 100)
	c.MaxSamplePages = envInt("SH_MAX_SAMPLE_PAGES", 4096)

	c.LogFile = os.Getenv("SH_LOG_FILE")
	c.ProfileInputFile = os.Getenv("SH_PROFILE_INPUT_FILE")
	c.ProfileOutputFile = os.Getenv("SH_PROFILE_OUTPUT_FILE")

	return c, nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func envUint64(key string, def uint64) uint64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

func envList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envIntList(key string, def []int) []int {
	raw := envList(key, nil)
	if raw == nil {
		return def
	}
	out := make([]int, 0, len(raw))
	for _, p := range raw {
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

func envFloatList(key string, def []float64) []float64 {
	raw := envList(key, nil)
	if raw == nil {
		return def
	}
	out := make([]float64, 0, len(raw))
	for _, p := range raw {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Fatal prints a configuration error and exits the process, per spec §7
// "Configuration error ... fatal: print a message and abort during
// initialization."
func Fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "sicm: fatal configuration error: "+format+"\n", args...)
	os.Exit(1)
}
