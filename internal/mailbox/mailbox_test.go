package mailbox

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/emersion/go-imap/v2"
)

func crlf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n"))
}

func TestParseMIMEBodyPlainText(t *testing.T) {
	raw := crlf(
		"From: alice@example.com",
		"To: bob@example.com",
		"Subject: Hello",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Just a short note.",
		"",
	)

	text, html, attachments := parseMIMEBody(raw)
	if strings.TrimSpace(text) != "Just a short note." {
		t.Errorf("text = %q", text)
	}
	if html != "" {
		t.Errorf("html = %q, want empty", html)
	}
	if len(attachments) != 0 {
		t.Errorf("attachments = %v, want none", attachments)
	}
}

func TestParseMIMEBodyAlternative(t *testing.T) {
	raw := crlf(
		"From: alice@example.com",
		"Subject: Hello",
		`Content-Type: multipart/alternative; boundary="BOUNDARY"`,
		"",
		"--BOUNDARY",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Plain version.",
		"--BOUNDARY",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>HTML version.</p>",
		"--BOUNDARY--",
		"",
	)

	text, html, _ := parseMIMEBody(raw)
	if strings.TrimSpace(text) != "Plain version." {
		t.Errorf("text = %q", text)
	}
	if strings.TrimSpace(html) != "<p>HTML version.</p>" {
		t.Errorf("html = %q", html)
	}
}

func TestParseMIMEBodyAttachments(t *testing.T) {
	raw := crlf(
		"From: billing@example.com",
		"Subject: Invoice",
		`Content-Type: multipart/mixed; boundary="MIX"`,
		"",
		"--MIX",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Invoice attached.",
		"--MIX",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="invoice.pdf"`,
		"",
		"%PDF-1.4 stub",
		"--MIX--",
		"",
	)

	text, _, attachments := parseMIMEBody(raw)
	if strings.TrimSpace(text) != "Invoice attached." {
		t.Errorf("text = %q", text)
	}
	if len(attachments) != 1 || attachments[0] != "invoice.pdf" {
		t.Errorf("attachments = %v, want [invoice.pdf]", attachments)
	}
}

func TestParseMIMEBodyQuotedPrintable(t *testing.T) {
	raw := crlf(
		"From: alice@example.com",
		"Subject: Encoding",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"Caf=C3=A9 at noon.",
		"",
	)

	text, _, _ := parseMIMEBody(raw)
	if strings.TrimSpace(text) != "Café at noon." {
		t.Errorf("text = %q, want decoded quoted-printable", text)
	}
}

func TestParseMIMEBodyFallsBackToRaw(t *testing.T) {
	raw := []byte("not a mime message at all")

	text, html, attachments := parseMIMEBody(raw)
	if text != "not a mime message at all" {
		t.Errorf("text = %q, want the raw input", text)
	}
	if html != "" || len(attachments) != 0 {
		t.Errorf("html/attachments = %q/%v, want empty", html, attachments)
	}
}

func TestExcludedFolders(t *testing.T) {
	s := &Session{opts: Options{
		ExcludeFolders: []string{"Spam", "Trash", "INBOX/Receipts"},
	}}

	cases := []struct {
		folder string
		want   bool
	}{
		{"Spam", true},
		{"spam", true},
		{"INBOX/Spam", true},
		{"INBOX.Trash", true},
		{"INBOX/Receipts", true},
		{"Receipts", false},
		{"INBOX", false},
		{"Work", false},
	}
	for _, tc := range cases {
		if got := s.excluded(tc.folder); got != tc.want {
			t.Errorf("excluded(%q) = %v, want %v", tc.folder, got, tc.want)
		}
	}
}

func TestHasAttr(t *testing.T) {
	attrs := []imap.MailboxAttr{imap.MailboxAttrNoSelect, imap.MailboxAttrJunk}
	if !hasAttr(attrs, imap.MailboxAttrNoSelect) {
		t.Error("hasAttr missed a present attribute")
	}
	if hasAttr(attrs, imap.MailboxAttrTrash) {
		t.Error("hasAttr reported an absent attribute")
	}
}

func TestAuthError(t *testing.T) {
	authErr := &AuthError{Host: "imap.example.com", Message: "authentication failed for alice: LOGIN denied"}

	if got := authErr.Error(); got != "auth error (imap.example.com): authentication failed for alice: LOGIN denied" {
		t.Errorf("Error() = %q", got)
	}

	if !IsAuthError(authErr) {
		t.Error("IsAuthError missed a direct AuthError")
	}
	wrapped := fmt.Errorf("dialing: %w", authErr)
	if !IsAuthError(wrapped) {
		t.Error("IsAuthError missed a wrapped AuthError")
	}
	if IsAuthError(errors.New("connection refused")) {
		t.Error("IsAuthError matched an ordinary error")
	}
	if IsAuthError(nil) {
		t.Error("IsAuthError matched nil")
	}
}
