// Package compose renders one claimed (campaign, list, subscriber) unit into
// a fully addressed relay message: merge tags, tracked links, inline image
// extraction, VERP addressing and list headers.
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"mailcast/internal/domain"
	"mailcast/internal/relay"
)

type Store interface {
	GetCampaign(ctx context.Context, id int) (domain.Campaign, bool, error)
	GetList(ctx context.Context, id int) (domain.List, bool, error)
	GetSettings(ctx context.Context, keys ...string) (map[string]string, error)
	ListFields(ctx context.Context, listID int) ([]domain.Field, error)
}

// LinkRewriter rewrites plain URLs in the campaign HTML into per-recipient
// trackable redirect URLs.
type LinkRewriter interface {
	Rewrite(ctx context.Context, campaign domain.Campaign, list domain.List, sub domain.Subscriber, serviceURL, html string) (string, error)
}

// Config is the process-level snapshot handed to the composer. VERP is active
// only when this flag, the installation's verp_use setting and a configured
// verp_hostname are all present.
type Config struct {
	VERPEnabled bool
}

type Composer struct {
	Store  Store
	Links  LinkRewriter
	Config Config
}

func (c *Composer) Compose(ctx context.Context, unit *domain.ClaimedUnit) (*relay.Message, error) {
	campaign, found, err := c.Store.GetCampaign(ctx, unit.CampaignID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("campaign %d: %w", unit.CampaignID, domain.ErrNotFound)
	}

	list, found, err := c.Store.GetList(ctx, unit.ListID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("list %d: %w", unit.ListID, domain.ErrNotFound)
	}

	settings, err := c.Store.GetSettings(ctx, "service_url", "verp_use", "verp_hostname")
	if err != nil {
		return nil, err
	}
	serviceURL := settings["service_url"]
	verpHostname := settings["verp_hostname"]
	useVERP := c.Config.VERPEnabled && boolSetting(settings["verp_use"]) && verpHostname != ""

	fields, err := c.Store.ListFields(ctx, unit.ListID)
	if err != nil {
		return nil, err
	}

	sub := unit.Subscriber
	tags := map[string]string{
		"EMAIL":      sub.Email,
		"FIRST_NAME": sub.FirstName,
		"LAST_NAME":  sub.LastName,
		"FULL_NAME":  sub.FullName(),
	}
	mergeFieldTags(tags, fields, sub)

	html, err := c.Links.Rewrite(ctx, campaign, list, sub, serviceURL, campaign.HTML)
	if err != nil {
		return nil, err
	}

	html, attachments := ExtractInlineImages(html, emailDomain(campaign.FromEmail))

	// c1.l1.s1 style token used for bounce and FBL correlation
	token := campaign.CID + "." + list.CID + "." + sub.CID

	links := LinkSet{
		Unsubscribe: resolveURL(serviceURL, "/subscription/"+list.CID+"/unsubscribe/"+sub.CID+"?auto=yes&c="+campaign.CID),
		Preferences: resolveURL(serviceURL, "/subscription/"+list.CID+"/manage/"+sub.CID),
		Browser:     resolveURL(serviceURL, "/archive/"+campaign.CID+"/"+list.CID+"/"+sub.CID),
	}

	msg := &relay.Message{
		From:        relay.Address{Name: campaign.FromName, Email: campaign.FromEmail},
		To:          relay.Address{Name: sub.FullName(), Email: sub.Email},
		Headers:     correlationHeaders(token, list, serviceURL, links.Unsubscribe),
		Subject:     Format(campaign.Subject, links, tags),
		HTML:        Format(html, links, tags),
		Text:        Format(campaign.Text, links, tags),
		Attachments: attachments,
	}
	if useVERP {
		msg.EnvelopeFrom = token + "@" + verpHostname
	}
	return msg, nil
}

func correlationHeaders(token string, list domain.List, serviceURL, unsubscribeURL string) map[string]string {
	msys, _ := json.Marshal(map[string]string{"campaign_id": token})
	smtpapi, _ := json.Marshal(map[string]map[string]string{"unique_args": {"campaign_id": token}})
	mailgun, _ := json.Marshal(map[string]string{"campaign_id": token})

	return map[string]string{
		"X-Fbl": token,
		// provider-specific correlation payloads (SparkPost, SendGrid, Mailgun)
		"X-Msys-Api":          string(msys),
		"X-Smtpapi":           string(smtpapi),
		"X-Mailgun-Variables": string(mailgun),
		"List-ID":             fmt.Sprintf("%q <%s.%s>", sanitizeListName(list.Name), list.CID, serviceHost(serviceURL)),
		// one-click unsubscribe must identify the recipient, not just the list
		"List-Unsubscribe": "<" + unsubscribeURL + ">",
	}
}

// mergeFieldTags adds one binding per visible field merge tag and one per
// option-set sub-option. Option-set values render as labels, never as the
// stored keys: the field-level tag carries the labels of every selected
// option, a sub-option tag carries its label when selected and is empty
// otherwise.
func mergeFieldTags(tags map[string]string, fields []domain.Field, sub domain.Subscriber) {
	for _, f := range fields {
		if !f.Visible {
			continue
		}
		value := sub.Fields[f.Key]

		if f.Type == "option-set" {
			selected := selectionSet(value)
			var labels []string
			for _, opt := range f.Options {
				chosen := selected[opt.Key]
				if chosen {
					labels = append(labels, opt.Label)
				}
				if opt.MergeTag == "" {
					continue
				}
				v := ""
				if chosen {
					v = opt.Label
				}
				tags[strings.ToUpper(opt.MergeTag)] = v
			}
			if f.MergeTag != "" {
				tags[strings.ToUpper(f.MergeTag)] = strings.Join(labels, ", ")
			}
			continue
		}

		if f.MergeTag != "" {
			tags[strings.ToUpper(f.MergeTag)] = value
		}
	}
}

func selectionSet(value string) map[string]bool {
	out := make(map[string]bool)
	for _, sel := range strings.Split(value, ",") {
		if sel = strings.TrimSpace(sel); sel != "" {
			out[sel] = true
		}
	}
	return out
}

var listNameRe = regexp.MustCompile(`[^a-zA-Z0-9\s'.,\-]`)

func sanitizeListName(name string) string {
	return strings.TrimSpace(listNameRe.ReplaceAllString(name, ""))
}

func serviceHost(serviceURL string) string {
	u, err := url.Parse(serviceURL)
	if err != nil || u.Hostname() == "" {
		return "localhost"
	}
	return u.Hostname()
}

func resolveURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

func emailDomain(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return addr
}

func boolSetting(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
