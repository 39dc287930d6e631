package latency

import (
	"fmt"
	"sort"
	"strings"
)

// Report returns a multi-line string summarizing, per region, the upstreams known to the table
// ordered by ascending latency. resetCounters is accepted to satisfy internal/reporter.Reporter but
// is a no-op here: the table itself is the live state, there are no separate counters to reset.
//
// Output:
//
//	Region DE: https://cloudflare-dns.com/dns-query=12.4ms https://dns.google/dns-query=18.9ms
//	Region GLOBAL: https://dns.quad9.net/dns-query=24.1ms
func (t *Table) Report(resetCounters bool) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.regions) == 0 {
		return "Totals: no observations yet"
	}

	regionNames := make([]string, 0, len(t.regions))
	for r := range t.regions {
		regionNames = append(regionNames, r)
	}
	sort.Strings(regionNames)

	var b strings.Builder
	for _, r := range regionNames {
		byUpstream := t.regions[r]
		upstreams := make([]string, 0, len(byUpstream))
		for u := range byUpstream {
			upstreams = append(upstreams, u)
		}
		sort.Slice(upstreams, func(i, j int) bool {
			return byUpstream[upstreams[i]] < byUpstream[upstreams[j]]
		})

		fmt.Fprintf(&b, "Region %s:", r)
		for _, u := range upstreams {
			fmt.Fprintf(&b, " %s=%.1fms", u, byUpstream[u])
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}
