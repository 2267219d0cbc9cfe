package routing

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/etcaddy/oscrouter/addr"
)

// Index is the three-level port -> source-ip -> path lookup the dispatcher
// consults for every inbound packet. It mirrors the original router's
// ROUTES_BY_PORT/ROUTES_BY_IP/ROUTES_BY_PATH nesting: narrow by listening
// port first (cheapest, since a process binds few ports), then by source IP
// (exact match or "any"), then by OSC address (exact match or "any path").
type Index struct {
	mu     sync.RWMutex
	byPort map[uint16]*ipLevel
	nics   []addr.NIC
}

type ipLevel struct {
	exact map[string]*pathLevel
	any   *pathLevel // routes with an empty SourceIP
}

type pathLevel struct {
	exact    map[string][]*Route
	any      []*Route // routes with an empty PathFrom
	wildcard []wildcardRoute
}

// wildcardRoute pairs a route whose PathFrom contains "*" with the compiled
// pattern matching it. A "*" matches any run of characters including "/",
// so a trailing "*" (the common case, e.g. "/eos/out/event/*") matches an
// arbitrarily deep subtree of addresses.
type wildcardRoute struct {
	pattern *regexp.Regexp
	route   *Route
}

func compileGlob(pattern string) *regexp.Regexp {
	segments := strings.Split(pattern, "*")
	quoted := make([]string, len(segments))
	for i, s := range segments {
		quoted[i] = regexp.QuoteMeta(s)
	}
	return regexp.MustCompile("^" + strings.Join(quoted, ".*") + "$")
}

// routePairKey identifies a route by its full (source, destination) pair
// for the route set's duplicate-pair dedup rule.
type routePairKey struct {
	srcProto Protocol
	srcPort  uint16
	srcIP    string
	pathFrom string
	dstProto Protocol
	dstAddr  addr.Address
}

func newIPLevel() *ipLevel {
	return &ipLevel{exact: make(map[string]*pathLevel), any: newPathLevel()}
}

func newPathLevel() *pathLevel {
	return &pathLevel{exact: make(map[string][]*Route)}
}

// NewIndex builds an empty index. nics is the set of local IPv4 interfaces
// used to resolve a route's SourceIP against a subnet rather than an exact
// address; pass nil to disable subnet matching.
func NewIndex(nics []addr.NIC) *Index {
	return &Index{byPort: make(map[uint16]*ipLevel), nics: nics}
}

// Build replaces the index's contents with routes, skipping disabled ones,
// routes with no source port (port 0 means "not configured", not "match
// any port"), and every but the first of a set of routes sharing the same
// (source, destination) pair. Routes are re-sorted by ID within each bucket
// so dispatch order is deterministic and stable across rebuilds.
func (idx *Index) Build(routes []*Route) {
	byPort := make(map[uint16]*ipLevel)
	seenPairs := make(map[routePairKey]bool)

	for _, r := range routes {
		if !r.Enabled || r.Source.Port == 0 {
			continue
		}
		key := routePairKey{
			srcProto: r.Source.Protocol, srcPort: r.Source.Port,
			srcIP: r.Source.SourceIP, pathFrom: r.Source.PathFrom,
			dstProto: r.Destination.Protocol, dstAddr: r.Destination.Addr,
		}
		if seenPairs[key] {
			continue
		}
		seenPairs[key] = true

		ipl, ok := byPort[r.Source.Port]
		if !ok {
			ipl = newIPLevel()
			byPort[r.Source.Port] = ipl
		}

		var pl *pathLevel
		if r.Source.SourceIP == "" {
			pl = ipl.any
		} else {
			pl, ok = ipl.exact[r.Source.SourceIP]
			if !ok {
				pl = newPathLevel()
				ipl.exact[r.Source.SourceIP] = pl
			}
		}

		switch {
		case r.Source.PathFrom == "":
			pl.any = append(pl.any, r)
		case strings.Contains(r.Source.PathFrom, "*"):
			pl.wildcard = append(pl.wildcard, wildcardRoute{pattern: compileGlob(r.Source.PathFrom), route: r})
		default:
			pl.exact[r.Source.PathFrom] = append(pl.exact[r.Source.PathFrom], r)
		}
	}

	for _, ipl := range byPort {
		sortPathLevel(ipl.any)
		for _, pl := range ipl.exact {
			sortPathLevel(pl)
		}
	}

	idx.mu.Lock()
	idx.byPort = byPort
	idx.mu.Unlock()
}

func sortRoutes(routes []*Route) {
	sort.Slice(routes, func(i, j int) bool { return routes[i].ID < routes[j].ID })
}

func sortPathLevel(pl *pathLevel) {
	sortRoutes(pl.any)
	for _, rs := range pl.exact {
		sortRoutes(rs)
	}
	sort.Slice(pl.wildcard, func(i, j int) bool { return pl.wildcard[i].route.ID < pl.wildcard[j].route.ID })
}

// SetNICs replaces the local-interface list used to resolve subnet-based
// SourceIP matches. The Supervisor calls this once at startup.
func (idx *Index) SetNICs(nics []addr.NIC) {
	idx.mu.Lock()
	idx.nics = nics
	idx.mu.Unlock()
}

// Match returns every enabled route whose source matches (port, srcIP,
// path), in ascending route-ID order. A path of "" (used for non-OSC/PSN
// traffic) only matches routes with an empty PathFrom.
func (idx *Index) Match(port uint16, srcIP, path string) []*Route {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ipl, ok := idx.byPort[port]
	if !ok {
		return nil
	}

	var out []*Route
	out = append(out, matchPath(ipl.any, path)...)
	for ip, pl := range ipl.exact {
		if addr.MatchesSource(ip, srcIP, idx.nics) {
			out = append(out, matchPath(pl, path)...)
		}
	}

	sortRoutes(out)
	return out
}

func matchPath(pl *pathLevel, path string) []*Route {
	var out []*Route
	out = append(out, pl.any...)
	if path != "" {
		out = append(out, pl.exact[path]...)
		for _, wr := range pl.wildcard {
			if wr.pattern.MatchString(path) {
				out = append(out, wr.route)
			}
		}
	}
	return out
}

// Ports returns the distinct listening ports referenced by the built index,
// used by the Supervisor to decide which UDP Listener workers to start.
func (idx *Index) Ports() []uint16 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ports := make([]uint16, 0, len(idx.byPort))
	for p := range idx.byPort {
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}
