package compose

import (
	"crypto/rand"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"mailcast/internal/relay"
)

// Most transports refuse raw data: URIs, so inline images become cid-addressed
// MIME attachments before the message leaves.
var inlineImgRe = regexp.MustCompile(`(?i)(<img\b[^>]* src\s*=[\s"']*)(data:[^"'>\s]+)`)

// ExtractInlineImages replaces every <img src="data:..."> occurrence with a
// generated cid: reference and returns the carried attachments. Content ids
// are fresh on every call; the rewritten HTML shape is otherwise stable.
func ExtractInlineImages(html, senderDomain string) (string, []relay.Attachment) {
	var attachments []relay.Attachment
	out := inlineImgRe.ReplaceAllStringFunc(html, func(match string) string {
		m := inlineImgRe.FindStringSubmatch(match)
		cid := newContentID(senderDomain)
		attachments = append(attachments, relay.Attachment{CID: cid, Data: m[2]})
		return m[1] + "cid:" + cid
	})
	return out, attachments
}

func newContentID(senderDomain string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
	return strings.ToLower(id) + "-attachments@" + senderDomain
}
