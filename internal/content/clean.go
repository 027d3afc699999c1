// Package content reduces raw email text to the compact form embedded in
// classification prompts.
package content

import (
	"regexp"
	"strings"
)

// DefaultBodyLimit caps cleaned body text.
const DefaultBodyLimit = 500

// SummaryBodyLimit caps body text inside a Summary.
const SummaryBodyLimit = 300

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	htmlEntityRe = regexp.MustCompile(`&[a-zA-Z]+;|&#\d+;`)
	urlRe        = regexp.MustCompile(`https?://\S+`)
	wroteLineRe  = regexp.MustCompile(`(?i)^On .+ wrote:?\s*$`)
	headerLineRe = regexp.MustCompile(`^(From|Sent|To|Subject|Date|Cc|Bcc):\s`)
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
	blankRunRe   = regexp.MustCompile(`\n\s*\n\s*\n+`)
	replyPrefix  = regexp.MustCompile(`(?i)^(Re|Fwd|Fw):\s*`)
	nameAddrRe   = regexp.MustCompile(`^([^<]+)<[^>]+>$`)
)

// signatureMarkers cut the body at the first signature or disclaimer block.
var signatureMarkers = []*regexp.Regexp{
	regexp.MustCompile(`\n--\s*\n`),
	regexp.MustCompile(`(?i)\nSent from my `),
	regexp.MustCompile(`(?i)\nGet Outlook for `),
	regexp.MustCompile(`\n_{3,}\n`),
	regexp.MustCompile(`(?i)\nThis email and any `),
	regexp.MustCompile(`(?i)\nConfidentiality Notice`),
	regexp.MustCompile(`(?i)\nThis message contains `),
	regexp.MustCompile(`(?i)\nIf you are not the intended `),
}

// Clean strips HTML, quoted reply chains, signatures and URLs from a message
// body and truncates the result to maxLen, preferring sentence and word
// boundaries. An empty body stays empty.
func Clean(body string, maxLen int) string {
	if body == "" {
		return ""
	}
	if maxLen <= 0 {
		maxLen = DefaultBodyLimit
	}

	text := htmlTagRe.ReplaceAllString(body, " ")
	text = htmlEntityRe.ReplaceAllString(text, " ")
	text = urlRe.ReplaceAllString(text, "[URL]")

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, ">") {
			continue
		}
		if wroteLineRe.MatchString(stripped) {
			continue
		}
		if headerLineRe.MatchString(stripped) {
			continue
		}
		kept = append(kept, line)
	}
	text = strings.Join(kept, "\n")

	for _, marker := range signatureMarkers {
		if loc := marker.FindStringIndex(text); loc != nil {
			text = text[:loc[0]]
		}
	}

	text = spaceRunRe.ReplaceAllString(text, " ")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	if len(text) > maxLen {
		text = text[:maxLen]
		if p := strings.LastIndex(text, ". "); p > maxLen/2 {
			text = text[:p+1]
		} else if s := strings.LastIndex(text, " "); s > maxLen*7/10 {
			text = text[:s] + "..."
		}
	}

	return text
}

// Summary holds the cleaned message fields embedded in prompts.
type Summary struct {
	Subject string
	From    string
	Body    string
}

// Summarize cleans the subject, sender and body of a message for prompt use.
// Stacked Re:/Fwd: prefixes are removed and "Name <addr>" senders reduce to
// the display name.
func Summarize(subject, from, body string) Summary {
	cleanSubject := subject
	for {
		next := replyPrefix.ReplaceAllString(cleanSubject, "")
		if next == cleanSubject {
			break
		}
		cleanSubject = next
	}
	cleanSubject = strings.TrimSpace(cleanSubject)

	cleanFrom := from
	if m := nameAddrRe.FindStringSubmatch(cleanFrom); m != nil {
		cleanFrom = strings.TrimSpace(m[1])
	}
	cleanFrom = strings.Trim(cleanFrom, `"'`)

	return Summary{
		Subject: cleanSubject,
		From:    cleanFrom,
		Body:    Clean(body, SummaryBodyLimit),
	}
}
