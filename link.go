package zotero

import (
	"net/url"
	"regexp"
)

// Link is one target of a Link response header, split into the API path
// and its query so it can be fed back into Client.Get.
type Link struct {
	Path  string
	Query url.Values
}

// URL reassembles the link as a path with query string.
func (l Link) URL() string {
	if len(l.Query) == 0 {
		return l.Path
	}
	return l.Path + "?" + l.Query.Encode()
}

// <https://api.zotero.org/users/12345/items?limit=30&start=30>; rel="next"
var linkPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="([^"]+)"`)

// parseLinks maps each rel of a Link header to its target. Targets that do
// not parse as URLs are skipped.
func parseLinks(header string) map[string]Link {
	links := make(map[string]Link)
	if header == "" {
		return links
	}
	for _, m := range linkPattern.FindAllStringSubmatch(header, -1) {
		u, err := url.Parse(m[1])
		if err != nil {
			continue
		}
		links[m[2]] = Link{Path: u.Path, Query: u.Query()}
	}
	return links
}
