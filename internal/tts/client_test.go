package tts

import "testing"

func TestVoiceCatalog(t *testing.T) {
	if !IsSupportedVoice("coral") {
		t.Fatalf("default voice must be supported")
	}
	if !IsSupportedVoice("  Marin ") {
		t.Fatalf("matching should trim and lowercase")
	}
	if IsSupportedVoice("robotic") {
		t.Fatalf("unknown voice accepted")
	}

	// Callers must not be able to mutate the catalog.
	list := Voices()
	list[0] = "mutated"
	if Voices()[0] == "mutated" {
		t.Fatalf("Voices leaks internal slice")
	}
}

func TestHTTPErrorFormat(t *testing.T) {
	err := &HTTPError{Status: 429, Message: "rate limited"}
	if err.Error() != "speech API error: 429 - rate limited" {
		t.Fatalf("message = %q", err.Error())
	}
}
