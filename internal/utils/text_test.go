package utils

import "testing"

func TestNormalizeContent(t *testing.T) {
	if got := NormalizeContent("  Hello World \n"); got != "hello world" {
		t.Fatalf("unexpected normalized content: %q", got)
	}
	if got := NormalizeContent("   "); got != "" {
		t.Fatalf("expected empty key, got %q", got)
	}
	// decomposed and precomposed é collapse to the same key
	if NormalizeContent("cafe\u0301") != NormalizeContent("caf\u00e9") {
		t.Fatalf("expected NFC normalization")
	}
}

func TestFoldText(t *testing.T) {
	if got := FoldText("Frée Nítro"); got != "free nitro" {
		t.Fatalf("unexpected folded text: %q", got)
	}
}

func TestContainsAny(t *testing.T) {
	keyword, ok := ContainsAny("please click here now", []string{"free nitro", "Click Here"})
	if !ok || keyword != "click here" {
		t.Fatalf("expected click here, got %q %v", keyword, ok)
	}
	if _, ok := ContainsAny("hello", []string{"", "bye"}); ok {
		t.Fatalf("unexpected match")
	}
}

func TestUpperRatio(t *testing.T) {
	if ratio := UpperRatio("ABCD"); ratio != 1 {
		t.Fatalf("expected 1, got %f", ratio)
	}
	if ratio := UpperRatio("AbCd"); ratio != 0.5 {
		t.Fatalf("expected 0.5, got %f", ratio)
	}
	if ratio := UpperRatio(""); ratio != 0 {
		t.Fatalf("expected 0, got %f", ratio)
	}
}
