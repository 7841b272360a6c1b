package telegram

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rewired-gh/scanalert/internal/models"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Price: $100.50", "Price: $100\\.50"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strikethrough~", "\\~strikethrough\\~"},
		{"`code`", "\\`code\\`"},
		{">blockquote", "\\>blockquote"},
		{"#header", "\\#header"},
		{"+plus-minus", "\\+plus\\-minus"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"end!", "end\\!"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	// NewClient with non-numeric chatID should return an error
	// Note: This test exercises the chat ID parsing error path
	// The bot token validation happens first (network call), so we use a clearly
	// invalid format to test the error handling flow
	_, err := NewClient("", "not-a-number", 3, time.Second)
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}

func TestFormatMessages(t *testing.T) {
	at := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	groups := []models.AlertGroup{
		{
			Source: "TTScannerSPDR5min",
			Messages: []models.AlertMessage{
				{Text: "AAPL: Direction changed to LONG | Target #1 hit at 105.50", Origin: models.OriginSystem, CreatedAt: at},
				{Text: "AAPL signal BUY", Origin: models.OriginCustom, Owner: "alice", CreatedAt: at},
			},
		},
	}

	msgs := formatMessages(groups)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	text := msgs[0]
	for _, want := range []string{
		"📅 Detected: 2024\\-01\\-02 15:04:05",
		"*TTScannerSPDR5min*",
		"AAPL: Direction changed to LONG \\| Target \\#1 hit at 105\\.50",
		"_\\(for alice\\)_",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}
}

func TestFormatMessages_Splits(t *testing.T) {
	long := strings.Repeat("x", 1000)
	var groups []models.AlertGroup
	for i := 0; i < 8; i++ {
		groups = append(groups, models.AlertGroup{
			Source:   "src",
			Messages: []models.AlertMessage{{Text: long}},
		})
	}
	msgs := formatMessages(groups)
	if len(msgs) < 2 {
		t.Fatalf("expected the batch to be split, got %d message(s)", len(msgs))
	}
	for i, m := range msgs {
		if len(m) > 4096 {
			t.Errorf("message %d is %d bytes", i, len(m))
		}
	}
}

func TestFormatMessages_SplitsLargeGroup(t *testing.T) {
	var msgs []models.AlertMessage
	for i := 0; i < 50; i++ {
		msgs = append(msgs, models.AlertMessage{
			Text: fmt.Sprintf("SYM%02d: Direction changed to LONG | Target #1 hit at 105.50 | crossed above Call Level 100.25", i),
		})
	}
	out := formatMessages([]models.AlertGroup{{Source: "TTScannerCore1H", Messages: msgs}})
	if len(out) < 2 {
		t.Fatalf("expected the group to be split, got %d message(s)", len(out))
	}
	seen := 0
	for i, m := range out {
		if len(m) > 4096 {
			t.Errorf("message %d is %d bytes", i, len(m))
		}
		if !strings.Contains(m, "*TTScannerCore1H*") {
			t.Errorf("message %d lacks the source title", i)
		}
		seen += strings.Count(m, "• ")
	}
	if seen != len(msgs) {
		t.Errorf("delivered %d alert lines, want %d", seen, len(msgs))
	}
}

func TestFormatMessages_TruncatesOversizedAlert(t *testing.T) {
	huge := strings.Repeat("a.", 5000)
	out := formatMessages([]models.AlertGroup{{Source: "src", Messages: []models.AlertMessage{{Text: huge}}}})
	if len(out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out))
	}
	if n := utf8.RuneCountInString(out[0]); n > 4096 {
		t.Errorf("message is %d characters", n)
	}
	if !strings.Contains(out[0], "…") {
		t.Error("expected the alert text to be marked as truncated")
	}
}

func TestFormatMessages_Empty(t *testing.T) {
	if msgs := formatMessages(nil); len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}
