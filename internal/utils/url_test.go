package utils

import "testing"

func TestNormalizeURL(t *testing.T) {
	normalized, domain, err := NormalizeURL("https://Example.com/path?utm_source=test&x=1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if domain != "example.com" {
		t.Fatalf("unexpected domain: %s", domain)
	}
	if normalized != "https://example.com/path?x=1" {
		t.Fatalf("unexpected normalized url: %s", normalized)
	}
}

func TestExtractURLs(t *testing.T) {
	urls := ExtractURLs("see https://a.com/x and http://b.org:8080/y?z=1 or www.c.net")
	if len(urls) != 2 {
		t.Fatalf("expected 2 urls, got %d: %v", len(urls), urls)
	}
	if urls[0] != "https://a.com/x" || urls[1] != "http://b.org:8080/y?z=1" {
		t.Fatalf("unexpected urls: %v", urls)
	}
}

func TestDomainMatch(t *testing.T) {
	allow := []string{"good.com"}
	suspicious := []string{"bit.ly", "free-discord-nitro"}

	allowed, hit := DomainMatch("https://cdn.good.com/bit.ly", "cdn.good.com", allow, suspicious)
	if !allowed || hit != "" {
		t.Fatalf("expected allow only, got allowed=%v hit=%q", allowed, hit)
	}
	allowed, hit = DomainMatch("https://bit.ly/abc", "bit.ly", allow, suspicious)
	if allowed || hit != "bit.ly" {
		t.Fatalf("expected bit.ly hit, got allowed=%v hit=%q", allowed, hit)
	}
	allowed, hit = DomainMatch("https://free-discord-nitro.gift/claim", "free-discord-nitro.gift", allow, suspicious)
	if allowed || hit != "free-discord-nitro" {
		t.Fatalf("expected keyword hit, got allowed=%v hit=%q", allowed, hit)
	}
	allowed, hit = DomainMatch("https://example.org", "example.org", allow, suspicious)
	if allowed || hit != "" {
		t.Fatalf("expected no match, got allowed=%v hit=%q", allowed, hit)
	}
}
