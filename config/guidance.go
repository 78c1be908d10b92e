package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Guidance is the parsed site-to-device table loaded from SH_GUIDANCE_FILE,
// populated at startup and consulted by the router when a fresh site needs
// a device (spec §4.3: "The device chosen for a fresh site is the value in
// the site-device table (populated from the guidance file at startup)").
type Guidance struct {
	SiteNode map[int]int
}

// LoadGuidance reads and parses a guidance file at path. A missing path
// (empty string) returns an empty, valid Guidance.
func LoadGuidance(path string) (Guidance, error) {
	g := Guidance{SiteNode: map[int]int{}}
	if path == "" {
		return g, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return g, fmt.Errorf("config: guidance file: %w", err)
	}
	defer f.Close()
	return ParseGuidance(f)
}

// ParseGuidance implements spec §6's guidance grammar: the parser looks
// for a line beginning with "===== GUIDANCE", then reads "<site-id>
// <numa-node>" pairs until "===== END". Whitespace-separated; comments
// (#) and blank lines ignored. Multiple sections allowed.
func ParseGuidance(r io.Reader) (Guidance, error) {
	g := Guidance{SiteNode: map[int]int{}}
	scanner := bufio.NewScanner(r)

	inSection := false
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "===== GUIDANCE") {
			inSection = true
			continue
		}
		if strings.HasPrefix(line, "===== END") {
			inSection = false
			continue
		}
		if !inSection {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return g, fmt.Errorf("config: guidance file line %d: expected \"<site> <node>\", got %q", lineNo, line)
		}
		site, err := strconv.Atoi(fields[0])
		if err != nil {
			return g, fmt.Errorf("config: guidance file line %d: bad site id %q: %w", lineNo, fields[0], err)
		}
		node, err := strconv.Atoi(fields[1])
		if err != nil {
			return g, fmt.Errorf("config: guidance file line %d: bad node id %q: %w", lineNo, fields[1], err)
		}
		g.SiteNode[site] = node
	}
	if err := scanner.Err(); err != nil {
		return g, fmt.Errorf("config: guidance file: %w", err)
	}
	return g, nil
}

// NodeFor returns the configured node for a site and whether one exists.
func (g Guidance) NodeFor(site int) (int, bool) {
	n, ok := g.SiteNode[site]
	return n, ok
}
