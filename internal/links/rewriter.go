// Package links rewrites plain URLs in campaign HTML into per-recipient
// redirect URLs so clicks can be attributed to the exact subscriber.
package links

import (
	"context"
	"regexp"
	"strings"

	"mailcast/internal/domain"
)

type Store interface {
	EnsureLink(ctx context.Context, campaignID int, url string) (string, error)
}

type Rewriter struct {
	Store Store
}

var hrefRe = regexp.MustCompile(`(?i)(href\s*=\s*")(https?://[^"]+)(")`)

// Rewrite registers every http(s) href under the campaign and replaces it
// with {serviceURL}/links/{campaign}/{list}/{subscriber}/{link}. URLs that
// still contain merge tag placeholders are left alone; they only become
// concrete after substitution and cannot be registered campaign-wide.
func (r *Rewriter) Rewrite(ctx context.Context, campaign domain.Campaign, list domain.List, sub domain.Subscriber, serviceURL, html string) (string, error) {
	base := strings.TrimRight(serviceURL, "/")

	var rerr error
	out := hrefRe.ReplaceAllStringFunc(html, func(match string) string {
		if rerr != nil {
			return match
		}
		m := hrefRe.FindStringSubmatch(match)
		raw := m[2]
		if strings.Contains(raw, "[") {
			return match
		}
		cid, err := r.Store.EnsureLink(ctx, campaign.ID, raw)
		if err != nil {
			rerr = err
			return match
		}
		tracked := base + "/links/" + campaign.CID + "/" + list.CID + "/" + sub.CID + "/" + cid
		return m[1] + tracked + m[3]
	})
	if rerr != nil {
		return "", rerr
	}
	return out, nil
}
