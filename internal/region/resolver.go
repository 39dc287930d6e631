// Package region derives an advisory Region Key from inbound request headers. The key is used
// solely to bucket the Latency Table (internal/latency); it is never validated against any
// geography list.
package region

import (
	"net/http"
	"strings"

	"github.com/dohrelay/dohrelay/internal/constants"
)

// Of returns the Region Key for the supplied headers, checked in priority order:
//
//  1. x-vercel-ip-country
//  2. cf-ipcountry
//  3. x-vercel-id
//  4. the literal GLOBAL
//
// The returned key is always uppercase and is never empty.
func Of(h http.Header) string {
	consts := constants.Get()
	for _, name := range []string{consts.RegionHeaderCountry, consts.RegionHeaderCF, consts.RegionHeaderVercel} {
		if v := strings.TrimSpace(h.Get(name)); len(v) > 0 {
			return strings.ToUpper(v)
		}
	}

	return consts.RegionGlobal
}
