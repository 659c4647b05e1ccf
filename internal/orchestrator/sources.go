package orchestrator

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

const maxFooterSources = 5

// CollectSources scans a raw tool result for article links. Backends wrap
// their payloads in a few known shapes; each is probed loosely so a backend
// changing an unrelated field does not break extraction.
func CollectSources(raw []byte) []string {
	body := string(raw)
	if !gjson.Valid(body) {
		return nil
	}
	var urls []string
	urls = appendURLs(urls, gjson.Get(body, "articles.#.url"))
	urls = appendURLs(urls, gjson.Get(body, "top_posts.#.url"))
	urls = appendURLs(urls, gjson.Get(body, "reddit.top_posts.#.url"))

	// MCP content wrapper: the real payload hides inside text items.
	for _, item := range gjson.Get(body, "content.#.text").Array() {
		inner := item.String()
		if gjson.Valid(inner) {
			urls = append(urls, CollectSources([]byte(inner))...)
		}
	}
	return urls
}

func appendURLs(urls []string, result gjson.Result) []string {
	for _, r := range result.Array() {
		if u := strings.TrimSpace(r.String()); strings.HasPrefix(u, "http") {
			urls = append(urls, u)
		}
	}
	return urls
}

// SourcesFooter renders a dedupped link footer, empty when there is nothing
// to cite. Order follows first appearance across the run.
func SourcesFooter(urls []string) string {
	seen := map[string]struct{}{}
	var links []string
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		links = append(links, fmt.Sprintf(`<a href="%s">%s</a>`, u, linkLabel(u)))
		if len(links) == maxFooterSources {
			break
		}
	}
	if len(links) == 0 {
		return ""
	}
	return "\n\n📎 Sources: " + strings.Join(links, " | ")
}

func linkLabel(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return strings.TrimPrefix(u.Host, "www.")
}
