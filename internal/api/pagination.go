package api

import (
	"net/http"
	"strings"
)

// Cursor is an opaque pagination token: the full URL the server advertised
// in its Link header. Empty means no further page in that direction.
type Cursor string

// parseLinkHeader extracts next/prev cursors from a standard Link header:
//
//	<https://host/api/v1/timelines/home?max_id=5>; rel="next",
//	<https://host/api/v1/timelines/home?min_id=9>; rel="prev"
func parseLinkHeader(h http.Header) (next, prev Cursor) {
	for _, link := range h.Values("Link") {
		for _, part := range strings.Split(link, ",") {
			segments := strings.Split(part, ";")
			if len(segments) < 2 {
				continue
			}
			target := strings.Trim(strings.TrimSpace(segments[0]), "<>")
			if target == "" {
				continue
			}
			for _, param := range segments[1:] {
				switch strings.TrimSpace(param) {
				case `rel="next"`, `rel=next`:
					next = Cursor(target)
				case `rel="prev"`, `rel=prev`:
					prev = Cursor(target)
				}
			}
		}
	}
	return next, prev
}
