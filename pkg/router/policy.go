package router

import (
	"maps"
	"sort"
	"strings"
)

// Policy is the static routing table. It is built once at startup and never
// mutated; use NewPolicy to get an independent copy of the maps.
type Policy struct {
	Routes             map[string]string
	TTL                map[string]int
	DefaultDestination string
	DefaultTTL         int
	// LocalDestinations maps local-class destinations to local server model names.
	LocalDestinations map[string]string
	LocalPrefix       string
	Aliases           map[string]string
	CloudFallback     string
}

// NewPolicy copies p so later changes to the caller's maps do not leak in.
func NewPolicy(p Policy) Policy {
	p.Routes = maps.Clone(p.Routes)
	p.TTL = maps.Clone(p.TTL)
	p.LocalDestinations = maps.Clone(p.LocalDestinations)
	p.Aliases = maps.Clone(p.Aliases)
	if p.LocalPrefix == "" {
		p.LocalPrefix = "ollama"
	}
	if p.DefaultDestination == "" {
		p.DefaultDestination = "sonnet"
	}
	if p.CloudFallback == "" {
		p.CloudFallback = p.DefaultDestination
	}
	return p
}

// Destination returns the symbolic destination for operation.
func (p Policy) Destination(operation string) string {
	if d, ok := p.Routes[operation]; ok && d != "" {
		return d
	}
	return p.DefaultDestination
}

// TTLHours returns the exact-cache reuse window for operation. 0 disables reuse.
func (p Policy) TTLHours(operation string) int {
	if ttl, ok := p.TTL[operation]; ok {
		return ttl
	}
	return p.DefaultTTL
}

// Normalize turns a destination into a concrete model id: local-class
// destinations become "<prefix>/<model>", aliases expand to full ids and
// anything else is returned unchanged.
func (p Policy) Normalize(dest string) string {
	if m, ok := p.LocalDestinations[dest]; ok {
		return p.LocalPrefix + "/" + m
	}
	if full, ok := p.Aliases[dest]; ok {
		return full
	}
	return dest
}

// IsLocal reports whether a destination or model id is served locally.
func (p Policy) IsLocal(destOrModel string) bool {
	if _, ok := p.LocalDestinations[destOrModel]; ok {
		return true
	}
	return strings.HasPrefix(destOrModel, p.LocalPrefix+"/")
}

// PrimaryLocalModel is the model used when a local adapter must serve a
// cloud-class request.
func (p Policy) PrimaryLocalModel() string {
	if _, ok := p.LocalDestinations["local"]; ok {
		return p.Normalize("local")
	}
	names := make([]string, 0, len(p.LocalDestinations))
	for k := range p.LocalDestinations {
		names = append(names, k)
	}
	if len(names) == 0 {
		return p.LocalPrefix + "/local"
	}
	sort.Strings(names)
	return p.Normalize(names[0])
}

// RouteInfo is one row of the routing table.
type RouteInfo struct {
	Operation   string `json:"operation"`
	Destination string `json:"destination"`
	Model       string `json:"model"`
	Local       bool   `json:"local"`
	TTLHours    int    `json:"ttl_hours"`
}

// Table lists every operation that has a route or a TTL, sorted by name.
func (p Policy) Table() []RouteInfo {
	ops := make(map[string]struct{})
	for op := range p.Routes {
		ops[op] = struct{}{}
	}
	for op := range p.TTL {
		ops[op] = struct{}{}
	}
	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)

	out := make([]RouteInfo, 0, len(names))
	for _, op := range names {
		out = append(out, p.Describe(op))
	}
	return out
}

// Describe returns the routing row for a single operation.
func (p Policy) Describe(operation string) RouteInfo {
	dest := p.Destination(operation)
	return RouteInfo{
		Operation:   operation,
		Destination: dest,
		Model:       p.Normalize(dest),
		Local:       p.IsLocal(dest),
		TTLHours:    p.TTLHours(operation),
	}
}

// MinPositiveTTL and MaxPositiveTTL bound the reuse windows in use. Both are
// 0 when every operation has caching disabled.
func (p Policy) MinPositiveTTL() int {
	minTTL := 0
	for _, ttl := range p.allTTLs() {
		if ttl > 0 && (minTTL == 0 || ttl < minTTL) {
			minTTL = ttl
		}
	}
	return minTTL
}

func (p Policy) MaxPositiveTTL() int {
	maxTTL := 0
	for _, ttl := range p.allTTLs() {
		if ttl > maxTTL {
			maxTTL = ttl
		}
	}
	return maxTTL
}

func (p Policy) allTTLs() []int {
	out := []int{p.DefaultTTL}
	for _, ttl := range p.TTL {
		out = append(out, ttl)
	}
	return out
}
