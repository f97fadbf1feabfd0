package transcribe

import "testing"

// TestRepeatFilterCapsConsecutiveRuns checks the threshold-4 hallucination case.
func TestRepeatFilterCapsConsecutiveRuns(t *testing.T) {
	f := NewRepeatFilter(4)

	kept := 0
	for i := 0; i < 10; i++ {
		if f.Keep("yeah") {
			kept++
		}
	}
	if kept != 4 {
		t.Fatalf("kept = %d, want 4", kept)
	}
}

// TestRepeatFilterNormalizesVariants checks casing/punctuation variants
// count as the same run.
func TestRepeatFilterNormalizesVariants(t *testing.T) {
	f := NewRepeatFilter(4)

	variants := []string{"Yeah.", "yeah!", " YEAH ", "yeah…", "Yeah,", "yeah?", "yeah;", "yeah:", "YEAH.", "yeah"}
	kept := 0
	for _, v := range variants {
		if f.Keep(v) {
			kept++
		}
	}
	if kept != 4 {
		t.Fatalf("kept = %d, want 4", kept)
	}
}

// TestRepeatFilterResetsOnNewText checks a different phrase starts a new run.
func TestRepeatFilterResetsOnNewText(t *testing.T) {
	f := NewRepeatFilter(2)

	for i := 0; i < 3; i++ {
		f.Keep("yeah")
	}
	if !f.Keep("okay") {
		t.Fatal("new text should be kept")
	}
	if !f.Keep("yeah") {
		t.Fatal("repeat after a different phrase starts a fresh run")
	}
}

// TestRepeatFilterDefaultsThreshold checks invalid thresholds fall back.
func TestRepeatFilterDefaultsThreshold(t *testing.T) {
	f := NewRepeatFilter(0)

	kept := 0
	for i := 0; i < 6; i++ {
		if f.Keep("same") {
			kept++
		}
	}
	if kept != DefaultMaxRepeats {
		t.Fatalf("kept = %d, want %d", kept, DefaultMaxRepeats)
	}
}
