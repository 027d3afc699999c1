package content

import (
	"strings"
	"testing"
)

func TestCleanStripsHTML(t *testing.T) {
	got := Clean(`<html><body><p>Hello&nbsp;world</p></body></html>`, 500)
	if got != "Hello world" {
		t.Errorf("Clean = %q, want %q", got, "Hello world")
	}
}

func TestCleanReplacesURLs(t *testing.T) {
	got := Clean("Check https://example.com/offer?id=1 now", 500)
	if got != "Check [URL] now" {
		t.Errorf("Clean = %q, want %q", got, "Check [URL] now")
	}
}

func TestCleanDropsQuotedReply(t *testing.T) {
	body := "Thanks, sounds good.\n" +
		"\n" +
		"On Mon, Aug 4, 2025 at 9:00 AM Alice <alice@example.com> wrote:\n" +
		"> Earlier message text\n" +
		"> more quoted lines\n"
	got := Clean(body, 500)
	if got != "Thanks, sounds good." {
		t.Errorf("Clean = %q, want only the reply text", got)
	}
}

func TestCleanDropsForwardedHeaders(t *testing.T) {
	body := "Please review below.\n" +
		"From: Bob <bob@example.com>\n" +
		"Sent: Tuesday\n" +
		"To: Alice\n" +
		"Subject: Budget\n" +
		"The forwarded content."
	got := Clean(body, 500)
	if strings.Contains(got, "Bob") || strings.Contains(got, "Sent:") {
		t.Errorf("Clean kept forwarded headers: %q", got)
	}
	if !strings.Contains(got, "Please review below.") || !strings.Contains(got, "The forwarded content.") {
		t.Errorf("Clean lost real content: %q", got)
	}
}

func TestCleanCutsSignatures(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			"dash separator",
			"Meeting at 3.\n-- \nAlice Smith\nVP Engineering",
			"Meeting at 3.",
		},
		{
			"sent from device",
			"See you soon.\nSent from my iPhone",
			"See you soon.",
		},
		{
			"confidentiality disclaimer",
			"Numbers attached.\nThis email and any attachments are confidential.",
			"Numbers attached.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Clean(tc.body, 500); got != tc.want {
				t.Errorf("Clean = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCleanTruncation(t *testing.T) {
	t.Run("sentence boundary", func(t *testing.T) {
		got := Clean("First sentence here. Second part goes on and on.", 30)
		if got != "First sentence here." {
			t.Errorf("Clean = %q, want cut at the sentence", got)
		}
	})

	t.Run("word boundary", func(t *testing.T) {
		got := Clean("wordone wordtwo wordthree wordfour wordfive", 30)
		if got != "wordone wordtwo wordthree..." {
			t.Errorf("Clean = %q, want cut at a word with ellipsis", got)
		}
	})

	t.Run("hard cut", func(t *testing.T) {
		got := Clean(strings.Repeat("a", 40), 30)
		if len(got) != 30 {
			t.Errorf("len = %d, want hard cut at 30", len(got))
		}
	})
}

func TestCleanCollapsesBlankRuns(t *testing.T) {
	got := Clean("First paragraph.\n\n\n\nSecond paragraph.", 500)
	if got != "First paragraph.\n\nSecond paragraph." {
		t.Errorf("Clean = %q, want a single blank line", got)
	}
}

func TestCleanEmptyBody(t *testing.T) {
	if got := Clean("", 500); got != "" {
		t.Errorf("Clean(\"\") = %q, want empty", got)
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize(
		"Re: Fwd: Quarterly results",
		`"Alice Smith" <alice@example.com>`,
		"Numbers look solid.",
	)
	if got.Subject != "Quarterly results" {
		t.Errorf("Subject = %q, want stacked prefixes removed", got.Subject)
	}
	if got.From != "Alice Smith" {
		t.Errorf("From = %q, want display name", got.From)
	}
	if got.Body != "Numbers look solid." {
		t.Errorf("Body = %q", got.Body)
	}
}

func TestSummarizePlainAddress(t *testing.T) {
	got := Summarize("Hello", "bob@example.com", "")
	if got.From != "bob@example.com" {
		t.Errorf("From = %q, want the bare address kept", got.From)
	}
}

func TestSummarizeCapsBody(t *testing.T) {
	long := strings.Repeat("word ", 200)
	got := Summarize("Subject", "a@b.c", long)
	if len(got.Body) > SummaryBodyLimit+3 {
		t.Errorf("body length = %d, want at most %d plus ellipsis", len(got.Body), SummaryBodyLimit)
	}
}
