// Package turn segments an incoming PCM stream into utterances using frame
// energy. A detector is fed fixed-size frames; once speech has been heard,
// a run of quiet frames ends the turn and the buffered speech is emitted.
package turn

import (
	"time"

	"github.com/vocim/vocim/internal/audio"
)

// Config tunes a Detector. Zero fields fall back to defaults sized for
// 16 kHz mono input with 20 ms frames.
type Config struct {
	SampleRate      int     // samples per second
	FrameSize       int     // samples per frame fed to Feed
	EnergyThreshold float64 // RMS above this counts as speech
	MaxSilentFrames int     // quiet frames after speech before cutoff
	PrerollFrames   int     // quiet frames kept ahead of first speech
	MaxUtterance    time.Duration
}

const (
	defaultSampleRate      = 16000
	defaultFrameSize       = 320 // 20 ms at 16 kHz
	defaultEnergyThreshold = 0.015
	defaultMaxSilentFrames = 40 // 800 ms of quiet ends the turn
	defaultPrerollFrames   = 5
	defaultMaxUtterance    = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.FrameSize <= 0 {
		c.FrameSize = defaultFrameSize
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = defaultEnergyThreshold
	}
	if c.MaxSilentFrames <= 0 {
		c.MaxSilentFrames = defaultMaxSilentFrames
	}
	if c.PrerollFrames <= 0 {
		c.PrerollFrames = defaultPrerollFrames
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = defaultMaxUtterance
	}
	return c
}

// Utterance is one completed speech segment.
type Utterance struct {
	Samples  []int16
	Duration time.Duration
}

// Detector accumulates frames for a single speaker turn. It is not safe
// for concurrent use; each session owns one detector.
type Detector struct {
	cfg Config

	speaking     bool
	silentFrames int
	preroll      [][]int16
	buf          []int16
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Feed consumes one frame of samples. When the frame completes an
// utterance it is returned, otherwise the utterance is nil. The second
// return reports whether the detector currently considers the speaker
// active, the third is the frame's RMS energy.
func (d *Detector) Feed(samples []int16) (*Utterance, bool, float64) {
	energy := audio.RMS(samples)
	loud := energy >= d.cfg.EnergyThreshold

	if !d.speaking {
		if !loud {
			// Keep a little context so soft onsets are not clipped.
			d.preroll = append(d.preroll, append([]int16(nil), samples...))
			if len(d.preroll) > d.cfg.PrerollFrames {
				d.preroll = d.preroll[1:]
			}
			return nil, false, energy
		}
		d.speaking = true
		d.silentFrames = 0
		for _, f := range d.preroll {
			d.buf = append(d.buf, f...)
		}
		d.preroll = d.preroll[:0]
	}

	d.buf = append(d.buf, samples...)

	if loud {
		d.silentFrames = 0
	} else {
		d.silentFrames++
		if d.silentFrames >= d.cfg.MaxSilentFrames {
			return d.cut(), false, energy
		}
	}

	if d.bufferedDuration() >= d.cfg.MaxUtterance {
		return d.cut(), false, energy
	}
	return nil, true, energy
}

// Flush ends the current turn regardless of trailing silence. It returns
// nil when no speech was heard since the last cut.
func (d *Detector) Flush() *Utterance {
	if !d.speaking {
		d.Reset()
		return nil
	}
	return d.cut()
}

// Reset discards all buffered audio and detector state.
func (d *Detector) Reset() {
	d.speaking = false
	d.silentFrames = 0
	d.preroll = d.preroll[:0]
	d.buf = nil
}

// Speaking reports whether speech is in progress.
func (d *Detector) Speaking() bool {
	return d.speaking
}

func (d *Detector) cut() *Utterance {
	utt := &Utterance{
		Samples:  d.buf,
		Duration: d.bufferedDuration(),
	}
	d.buf = nil
	d.speaking = false
	d.silentFrames = 0
	return utt
}

func (d *Detector) bufferedDuration() time.Duration {
	secs := float64(len(d.buf)) / float64(d.cfg.SampleRate)
	return time.Duration(secs * float64(time.Second))
}
