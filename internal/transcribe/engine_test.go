package transcribe

import (
	"context"
	"errors"
	"strings"
	"testing"

	"whisper-server/internal/domain"
)

const transcriptJSON = `{
	"result": {"language": "en"},
	"transcription": [
		{"offsets": {"from": 0, "to": 1500}, "text": " Hello."},
		{"offsets": {"from": 1500, "to": 3200}, "text": " World."}
	]
}`

// fakeRunner records invocations and returns a scripted result.
type fakeRunner struct {
	result commandResult
	err    error

	name string
	args []string
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	r.name = name
	r.args = append([]string(nil), args...)
	return r.result, r.err
}

// newEngineForTest wires a WhisperCLI whose process and filesystem access are
// both faked out.
func newEngineForTest(runner *fakeRunner, output string, readErr error) *WhisperCLI {
	return NewWhisperCLIForTests(
		"whisper-cli",
		runner,
		func(dir, pattern string) (string, error) { return "workdir", nil },
		func(path string) error { return nil },
		func(name string) ([]byte, error) {
			if readErr != nil {
				return nil, readErr
			}
			if name != "workdir/transcript.json" {
				return nil, errors.New("unexpected transcript path: " + name)
			}
			return []byte(output), nil
		},
	)
}

// TestTranscribeDeliversParsedSegments verifies JSON offsets convert from
// milliseconds and arrive in order with the detected language.
func TestTranscribeDeliversParsedSegments(t *testing.T) {
	runner := &fakeRunner{}
	engine := newEngineForTest(runner, transcriptJSON, nil)

	var got []domain.Segment
	info, err := engine.Transcribe(context.Background(), "audio.mp3", Options{
		ModelPath: "model.bin",
		OnSegment: func(seg domain.Segment) bool {
			got = append(got, seg)
			return true
		},
	})
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if info.Language != "en" {
		t.Fatalf("expected detected language en, got %q", info.Language)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(got))
	}
	if got[0].Start != 0 || got[0].End != 1.5 || got[0].Text != " Hello." {
		t.Fatalf("unexpected first segment: %+v", got[0])
	}
	if got[1].Start != 1.5 || got[1].End != 3.2 {
		t.Fatalf("unexpected second segment times: %+v", got[1])
	}
}

// TestTranscribeShiftsClipTimestamps verifies segments from a clipped pass
// are reported in absolute media time.
func TestTranscribeShiftsClipTimestamps(t *testing.T) {
	runner := &fakeRunner{}
	engine := newEngineForTest(runner, transcriptJSON, nil)

	var got []domain.Segment
	_, err := engine.Transcribe(context.Background(), "audio.mp3", Options{
		ModelPath: "model.bin",
		Clip:      &domain.ClipRange{StartSec: 885, EndSec: 1000, HasEnd: true},
		OnSegment: func(seg domain.Segment) bool {
			got = append(got, seg)
			return true
		},
	})
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if got[0].Start != 885 || got[0].End != 886.5 {
		t.Fatalf("expected clip-shifted times 885/886.5, got %v/%v", got[0].Start, got[0].End)
	}
}

// TestTranscribeStopsWhenCallbackRejects verifies a false return from the
// segment callback halts delivery without an error.
func TestTranscribeStopsWhenCallbackRejects(t *testing.T) {
	runner := &fakeRunner{}
	engine := newEngineForTest(runner, transcriptJSON, nil)

	delivered := 0
	_, err := engine.Transcribe(context.Background(), "audio.mp3", Options{
		ModelPath: "model.bin",
		OnSegment: func(domain.Segment) bool {
			delivered++
			return false
		},
	})
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("expected delivery to stop after 1 segment, got %d", delivered)
	}
}

// TestTranscribeErrorIncludesStderr verifies process failures surface the
// engine's stderr so callers can classify device errors.
func TestTranscribeErrorIncludesStderr(t *testing.T) {
	runner := &fakeRunner{
		result: commandResult{Stderr: "libcublas.so.12: cannot open shared object file", ExitCode: 1},
		err:    errors.New("exit status 1"),
	}
	engine := newEngineForTest(runner, "", nil)

	_, err := engine.Transcribe(context.Background(), "audio.mp3", Options{ModelPath: "model.bin"})
	if err == nil {
		t.Fatal("expected error from failed inference")
	}
	if !strings.Contains(err.Error(), "libcublas.so.12") {
		t.Fatalf("expected stderr detail in error, got: %v", err)
	}
}

// TestTranscribeMissingTranscriptFails verifies a successful process run with
// no output file is reported as an error.
func TestTranscribeMissingTranscriptFails(t *testing.T) {
	runner := &fakeRunner{}
	engine := newEngineForTest(runner, "", errors.New("no such file"))

	_, err := engine.Transcribe(context.Background(), "audio.mp3", Options{ModelPath: "model.bin"})
	if err == nil {
		t.Fatal("expected error for missing transcript output")
	}
}

// TestTranscribeValidatesInputs verifies missing paths are rejected before
// any process is spawned.
func TestTranscribeValidatesInputs(t *testing.T) {
	runner := &fakeRunner{}
	engine := newEngineForTest(runner, transcriptJSON, nil)

	if _, err := engine.Transcribe(context.Background(), "", Options{ModelPath: "model.bin"}); err == nil {
		t.Fatal("expected error for empty file path")
	}
	if _, err := engine.Transcribe(context.Background(), "audio.mp3", Options{}); err == nil {
		t.Fatal("expected error for empty model path")
	}
	if runner.name != "" {
		t.Fatal("expected no process execution for invalid inputs")
	}
}

// TestBuildWhisperArgs covers language, clip, and device flag construction.
func TestBuildWhisperArgs(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "defaults to auto language",
			opts: Options{},
			want: []string{"-m", "model.bin", "-f", "audio.mp3", "-of", "out", "-oj", "-l", "auto"},
		},
		{
			name: "explicit auto normalizes",
			opts: Options{Language: "Auto"},
			want: []string{"-m", "model.bin", "-f", "audio.mp3", "-of", "out", "-oj", "-l", "auto"},
		},
		{
			name: "forced language",
			opts: Options{Language: "de"},
			want: []string{"-m", "model.bin", "-f", "audio.mp3", "-of", "out", "-oj", "-l", "de"},
		},
		{
			name: "bounded clip adds offset and duration in ms",
			opts: Options{Clip: &domain.ClipRange{StartSec: 885, EndSec: 1000, HasEnd: true}},
			want: []string{"-m", "model.bin", "-f", "audio.mp3", "-of", "out", "-oj", "-l", "auto", "-ot", "885000", "-d", "115000"},
		},
		{
			name: "open clip omits duration",
			opts: Options{Clip: &domain.ClipRange{StartSec: 30}},
			want: []string{"-m", "model.bin", "-f", "audio.mp3", "-of", "out", "-oj", "-l", "auto", "-ot", "30000"},
		},
		{
			name: "forced cpu disables gpu",
			opts: Options{ForceCPU: true},
			want: []string{"-m", "model.bin", "-f", "audio.mp3", "-of", "out", "-oj", "-l", "auto", "-ng"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildWhisperArgs("model.bin", "audio.mp3", "out", tt.opts)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("arg %d: expected %q, got %q (full: %v)", i, tt.want[i], got[i], got)
				}
			}
		})
	}
}

// TestFFprobeProberParsesDuration verifies duration parsing and its
// degradation to 0 on failure.
func TestFFprobeProberParsesDuration(t *testing.T) {
	prober := NewFFprobeProberForTests("ffprobe", &fakeRunner{result: commandResult{Stdout: "4321.75\n"}})
	if got := prober.Duration(context.Background(), "audio.mp3"); got != 4321.75 {
		t.Fatalf("expected duration 4321.75, got %v", got)
	}

	failing := NewFFprobeProberForTests("ffprobe", &fakeRunner{err: errors.New("no such file")})
	if got := failing.Duration(context.Background(), "audio.mp3"); got != 0 {
		t.Fatalf("expected duration 0 on probe failure, got %v", got)
	}

	garbage := NewFFprobeProberForTests("ffprobe", &fakeRunner{result: commandResult{Stdout: "N/A"}})
	if got := garbage.Duration(context.Background(), "audio.mp3"); got != 0 {
		t.Fatalf("expected duration 0 for unparsable output, got %v", got)
	}
}
