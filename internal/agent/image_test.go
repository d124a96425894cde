package agent

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestParseImageDataURL(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("fake-png-bytes"))
	data, mime, err := ParseImageDataURL("data:image/png;base64," + payload)
	if err != nil {
		t.Fatalf("ParseImageDataURL: %v", err)
	}
	if mime != "image/png" {
		t.Fatalf("mime = %q, want image/png", mime)
	}
	if string(data) != "fake-png-bytes" {
		t.Fatalf("data = %q", data)
	}
}

func TestParseImageDataURLEmptyIsAllowed(t *testing.T) {
	data, mime, err := ParseImageDataURL("")
	if err != nil || data != nil || mime != "" {
		t.Fatalf("empty input: data=%v mime=%q err=%v", data, mime, err)
	}
}

func TestParseImageDataURLRejectsBadInput(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("x"))
	cases := []string{
		"http://example.com/image.png",
		"data:image/png;base64",
		"data:image/png," + payload,
		"data:text/html;base64," + payload,
		"data:image/png;base64,%%%",
		"data:image/png;base64,",
	}
	for _, in := range cases {
		if _, _, err := ParseImageDataURL(in); !errors.Is(err, ErrInvalidImage) {
			t.Errorf("ParseImageDataURL(%q) = %v, want ErrInvalidImage", in, err)
		}
	}
}

func TestParseImageDataURLRejectsOversized(t *testing.T) {
	big := base64.StdEncoding.EncodeToString(make([]byte, MaxImageBytes+1))
	if _, _, err := ParseImageDataURL("data:image/png;base64," + big); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("oversized image accepted: %v", err)
	}
}

func TestImageDataURLRoundTrip(t *testing.T) {
	url := ImageDataURL([]byte("bytes"), "image/webp")
	if !strings.HasPrefix(url, "data:image/webp;base64,") {
		t.Fatalf("unexpected url: %s", url)
	}
	data, mime, err := ParseImageDataURL(url)
	if err != nil {
		t.Fatalf("ParseImageDataURL: %v", err)
	}
	if mime != "image/webp" || string(data) != "bytes" {
		t.Fatalf("round trip lost data: %q %q", mime, data)
	}
	if ImageDataURL(nil, "image/png") != "" {
		t.Fatal("nil data should render empty url")
	}
}
