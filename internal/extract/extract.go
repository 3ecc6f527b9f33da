package extract

import (
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/JakeFAU/link-preview/internal/preview"
)

var (
	siteNameKeys = []string{
		"og:site_name",
		"application-name",
		"al:android:app_name",
		"al:ios:app_name",
		"twitter:app:name:iphone",
		"twitter:app:name:ipad",
		"twitter:app:name:googleplay",
	}
	descriptionKeys = []string{
		"description",
		"og:description",
		"twitter:description",
		"dc.description",
		"Description",
	}
	imageKeys = []string{
		"og:image",
		"twitter:image",
		"image",
		"twitter:image:src",
		"og:image:url",
		"og:image:secure_url",
	}
	iconRels = []string{
		"icon",
		"shortcut icon",
		"apple-touch-icon",
		"apple-touch-icon-precomposed",
	}
)

// Extract maps a page snapshot to a record. Each field takes the first
// non-empty candidate from its fallback chain. IsScreenshot is always false;
// the caller decides on a screenshot when Image comes back empty.
func Extract(p Page) preview.Record {
	rec := preview.Record{
		Title:       firstNonEmpty(p.Meta["og:title"], p.Title),
		SiteName:    firstMeta(p.Meta, siteNameKeys),
		Description: firstMeta(p.Meta, descriptionKeys),
		Image:       resolveAgainst(p.URL, firstMeta(p.Meta, imageKeys)),
		Icon:        firstMeta(p.Links, iconRels),
		URL:         p.URL,
	}
	if rec.SiteName == "" {
		rec.SiteName = hostLabel(p.URL)
	}
	return rec
}

// ScreenshotDataURI embeds PNG bytes as a data URI usable in an img src.
func ScreenshotDataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

func firstMeta(values map[string]string, keys []string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(values[key]); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func hostLabel(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// resolveAgainst makes relative image references absolute. Absolute URLs and
// data URIs pass through unchanged.
func resolveAgainst(pageURL, ref string) string {
	if ref == "" {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil || base.Scheme == "" {
		return ref
	}
	return resolve(base, ref)
}
