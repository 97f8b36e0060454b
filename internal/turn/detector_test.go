package turn

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		SampleRate:      16000,
		FrameSize:       320,
		EnergyThreshold: 0.01,
		MaxSilentFrames: 3,
		PrerollFrames:   2,
	}
}

func loudFrame() []int16 {
	f := make([]int16, 320)
	for i := range f {
		f[i] = 8000
	}
	return f
}

func quietFrame() []int16 {
	return make([]int16, 320)
}

func TestDetectorEmitsAfterSilenceRun(t *testing.T) {
	d := NewDetector(testConfig())

	for i := 0; i < 10; i++ {
		utt, speaking, _ := d.Feed(loudFrame())
		if utt != nil {
			t.Fatalf("frame %d: unexpected utterance during speech", i)
		}
		if !speaking {
			t.Fatalf("frame %d: expected speaking state", i)
		}
	}
	for i := 0; i < 2; i++ {
		if utt, _, _ := d.Feed(quietFrame()); utt != nil {
			t.Fatalf("emitted before silence run completed")
		}
	}
	utt, speaking, _ := d.Feed(quietFrame())
	if utt == nil {
		t.Fatalf("expected utterance after %d quiet frames", 3)
	}
	if speaking {
		t.Fatalf("detector still speaking after cutoff")
	}
	if len(utt.Samples) == 0 {
		t.Fatalf("empty utterance emitted")
	}
	// 10 loud frames plus 3 trailing quiet frames.
	if want := 13 * 320; len(utt.Samples) != want {
		t.Fatalf("utterance samples = %d, want %d", len(utt.Samples), want)
	}
}

func TestDetectorDropsAllSilence(t *testing.T) {
	d := NewDetector(testConfig())
	for i := 0; i < 50; i++ {
		utt, speaking, _ := d.Feed(quietFrame())
		if utt != nil {
			t.Fatalf("silence-only stream produced an utterance")
		}
		if speaking {
			t.Fatalf("silence-only stream marked as speaking")
		}
	}
	if utt := d.Flush(); utt != nil {
		t.Fatalf("flush of silence-only stream produced an utterance")
	}
}

func TestDetectorKeepsPreroll(t *testing.T) {
	d := NewDetector(testConfig())
	for i := 0; i < 6; i++ {
		d.Feed(quietFrame())
	}
	d.Feed(loudFrame())
	utt := d.Flush()
	if utt == nil {
		t.Fatalf("expected utterance from flush")
	}
	// Two preroll frames plus the loud frame; earlier silence dropped.
	if want := 3 * 320; len(utt.Samples) != want {
		t.Fatalf("utterance samples = %d, want %d", len(utt.Samples), want)
	}
}

func TestDetectorFlushMidSpeech(t *testing.T) {
	d := NewDetector(testConfig())
	d.Feed(loudFrame())
	d.Feed(loudFrame())
	utt := d.Flush()
	if utt == nil {
		t.Fatalf("expected utterance from mid-speech flush")
	}
	if d.Speaking() {
		t.Fatalf("detector speaking after flush")
	}
	if utt := d.Flush(); utt != nil {
		t.Fatalf("second flush returned a stale utterance")
	}
}

func TestDetectorSilenceResetDuringSpeech(t *testing.T) {
	d := NewDetector(testConfig())
	d.Feed(loudFrame())
	d.Feed(quietFrame())
	d.Feed(quietFrame())
	// Speech resumes before the cutoff, so the silence counter resets.
	d.Feed(loudFrame())
	d.Feed(quietFrame())
	d.Feed(quietFrame())
	if utt, _, _ := d.Feed(loudFrame()); utt != nil {
		t.Fatalf("turn ended despite resumed speech")
	}
	if !d.Speaking() {
		t.Fatalf("expected ongoing speech")
	}
}

func TestDetectorMaxUtteranceCutoff(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUtterance = 100 * time.Millisecond
	d := NewDetector(cfg)

	var got *Utterance
	for i := 0; i < 20 && got == nil; i++ {
		got, _, _ = d.Feed(loudFrame())
	}
	if got == nil {
		t.Fatalf("no cutoff despite exceeding max utterance length")
	}
	if got.Duration < 100*time.Millisecond {
		t.Fatalf("cutoff at %v, before max utterance length", got.Duration)
	}
}

func TestDetectorEnergyReported(t *testing.T) {
	d := NewDetector(testConfig())
	_, _, quiet := d.Feed(quietFrame())
	_, _, loud := d.Feed(loudFrame())
	if loud <= quiet {
		t.Fatalf("loud energy %v not above quiet energy %v", loud, quiet)
	}
}
