// Package review drives one voice review session per connection: it
// consumes control messages and audio frames, walks the card queue, and
// emits protocol responses. All transitions for a session happen on the
// connection's goroutine, so per-session state needs no locking.
package review

import (
	"context"
	"errors"
	"time"

	"github.com/vocim/vocim/internal/audio"
	"github.com/vocim/vocim/internal/cards"
	"github.com/vocim/vocim/internal/eval"
	"github.com/vocim/vocim/internal/observability"
	"github.com/vocim/vocim/internal/protocol"
	"github.com/vocim/vocim/internal/session"
	"github.com/vocim/vocim/internal/srs"
	"github.com/vocim/vocim/internal/turn"
)

// State is the session lifecycle position.
type State string

const (
	StateIdle               State = "idle"
	StateStarting           State = "starting"
	StatePresentingCard     State = "presenting_card"
	StateListening          State = "listening"
	StateProcessing         State = "processing"
	StateEvaluating         State = "evaluating"
	StatePresentingFeedback State = "presenting_feedback"
	StateEnding             State = "ending"
	StateEnded              State = "ended"
	StateError              State = "error"
)

// Config carries the per-session defaults the engine seeds each
// connection with. Turn detection settings become that session's own
// detector configuration; nothing here is read mid-session from shared
// state.
type Config struct {
	SampleRate       int
	EnergyThreshold  float64
	MaxSilentFrames  int
	MaxUtterance     time.Duration
	DefaultCardLimit int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.DefaultCardLimit <= 0 {
		c.DefaultCardLimit = 20
	}
	return c
}

// Engine owns the shared collaborators; one Engine serves all
// connections.
type Engine struct {
	store    cards.Store
	client   *eval.Client
	sessions *session.Manager
	metrics  *observability.Metrics
	cfg      Config
	now      func() time.Time
}

func NewEngine(store cards.Store, client *eval.Client, sessions *session.Manager, metrics *observability.Metrics, cfg Config) *Engine {
	return &Engine{
		store:    store,
		client:   client,
		sessions: sessions,
		metrics:  metrics,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunConnection processes one connection's messages until the session
// ends, the inbound channel closes (disconnect), or the context is
// cancelled. Audio frames arriving while an evaluation is in flight sit in
// the inbound channel; nothing is processed concurrently for a session.
func (e *Engine) RunConnection(ctx context.Context, inbound <-chan any, outbound chan<- any) error {
	run := e.newRun(outbound)
	defer run.release()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if err := run.handle(ctx, msg); err != nil {
				return err
			}
			if run.state == StateEnded || run.state == StateError {
				return nil
			}
		}
	}
}

// sessionRun is the per-connection state machine.
type sessionRun struct {
	engine   *Engine
	outbound chan<- any

	state    State
	strategy eval.ModeStrategy
	turnCfg  turn.Config
	detector *turn.Detector
	sess     *session.Session

	queue  []cards.Card
	cursor int

	reviewed int
	correct  int
	audioDur time.Duration

	speaking bool
}

func (e *Engine) newRun(outbound chan<- any) *sessionRun {
	return &sessionRun{
		engine:   e,
		outbound: outbound,
		state:    StateIdle,
	}
}

var errInternal = errors.New("internal session fault")

func (r *sessionRun) handle(ctx context.Context, msg any) error {
	switch m := msg.(type) {
	case protocol.StartSession:
		return r.handleStart(ctx, m)
	case protocol.AudioFrame:
		return r.handleAudio(ctx, m)
	case protocol.EndAudio:
		return r.handleEndAudio(ctx)
	case protocol.RateCard:
		return r.handleRateCard(m)
	case protocol.NextCard, protocol.SkipCard:
		return r.handleSkip(ctx)
	case protocol.ReplayCard:
		return r.handleReplay(ctx)
	case protocol.EndSession:
		return r.finish(ctx)
	case protocol.ErrorMessage:
		// The transport forwards unparseable client payloads as error
		// messages; reflect them back to the client.
		r.countEvent("invalid_client_message")
		r.send(m)
		return nil
	default:
		r.protocolError("unsupported message")
		return nil
	}
}

func (r *sessionRun) handleStart(ctx context.Context, m protocol.StartSession) error {
	if r.state != StateIdle {
		r.protocolError("session already started")
		return nil
	}
	r.setState(StateStarting)

	limit := m.CardLimit
	if limit <= 0 {
		limit = r.engine.cfg.DefaultCardLimit
	}
	r.strategy = eval.StrategyFor(m.ReviewMode)
	r.turnCfg = turn.Config{
		SampleRate:      r.engine.cfg.SampleRate,
		EnergyThreshold: r.engine.cfg.EnergyThreshold,
		MaxSilentFrames: r.engine.cfg.MaxSilentFrames,
		MaxUtterance:    r.engine.cfg.MaxUtterance,
	}
	r.detector = turn.NewDetector(r.turnCfg)

	due, err := r.engine.store.DueCards(ctx, r.engine.now(), limit)
	if err != nil {
		// A store failure here leaves nothing to review; the session
		// cannot start.
		r.sendError("could not load due cards")
		r.setState(StateError)
		r.countEvent("start_store_error")
		return errInternal
	}
	r.queue = due
	r.sess = r.engine.sessions.Create(r.strategy.Mode, len(due))
	r.countEvent("session_started")

	r.send(protocol.SessionStarted{
		Type:       protocol.TypeSessionStarted,
		SessionID:  r.sess.ID,
		TotalCards: len(due),
		ReviewMode: r.strategy.Mode,
	})

	if len(due) == 0 {
		return r.finish(ctx)
	}

	if r.strategy.Mode == protocol.ModeConversational {
		r.sendIntro(ctx)
	}
	return r.presentNext(ctx)
}

const fallbackIntro = "Let's get started with your review."

func (r *sessionRun) sendIntro(ctx context.Context) {
	text, err := r.engine.client.Compose(ctx, eval.BuildIntroPrompt(len(r.queue)))
	if err != nil || text == "" {
		text = fallbackIntro
	}
	pcm, _, _ := r.engine.client.Synthesize(ctx, text)
	r.send(protocol.SessionIntro{
		Type:  protocol.TypeSessionIntro,
		Text:  text,
		Audio: pcm,
	})
}

func (r *sessionRun) presentNext(ctx context.Context) error {
	if r.cursor >= len(r.queue) {
		return r.finish(ctx)
	}
	r.setState(StatePresentingCard)

	card := r.queue[r.cursor]
	spoken := r.spokenQuestion(ctx, card.Front)
	pcm, _, _ := r.engine.client.Synthesize(ctx, spoken)

	r.send(protocol.CardPresented{
		Type:       protocol.TypeCardPresented,
		CardID:     card.ID,
		Front:      card.Front,
		SpokenText: spoken,
		Audio:      pcm,
		CardNumber: r.cursor + 1,
		TotalCards: len(r.queue),
	})
	_ = r.engine.sessions.SetCurrentCard(r.sess.ID, card.ID)

	r.detector.Reset()
	r.speaking = false
	r.setState(StateListening)
	return nil
}

// spokenQuestion wraps the card front as natural speech in conversational
// mode; composition failure falls back to the literal front.
func (r *sessionRun) spokenQuestion(ctx context.Context, front string) string {
	if r.strategy.Mode != protocol.ModeConversational {
		return front
	}
	text, err := r.engine.client.Compose(ctx, eval.BuildQuestionPrompt(front))
	if err != nil || text == "" {
		return front
	}
	return text
}

func (r *sessionRun) handleAudio(ctx context.Context, m protocol.AudioFrame) error {
	switch r.state {
	case StatePresentingCard, StateListening:
		r.state = StateListening
	default:
		r.protocolError("audio not accepted in current state")
		return nil
	}

	utt, speaking, energy := r.detector.Feed(audio.DecodePCM16LE(m.PCM))
	if speaking != r.speaking {
		r.speaking = speaking
		r.send(protocol.VADStatus{
			Type:     protocol.TypeVADStatus,
			Speaking: speaking,
			Energy:   energy,
		})
	}
	if utt != nil {
		return r.processUtterance(ctx, utt)
	}
	return nil
}

func (r *sessionRun) handleEndAudio(ctx context.Context) error {
	if r.state != StateListening {
		r.protocolError("end_audio not accepted in current state")
		return nil
	}
	utt := r.detector.Flush()
	if utt == nil {
		r.sendError("no speech detected")
		return nil
	}
	return r.processUtterance(ctx, utt)
}

func (r *sessionRun) processUtterance(ctx context.Context, utt *turn.Utterance) error {
	turnStart := time.Now()
	r.setState(StateProcessing)
	r.speaking = false
	r.audioDur += utt.Duration

	pcm := audio.EncodePCM16LE(utt.Samples)
	text, confidence, err := r.engine.client.Transcribe(ctx, pcm, r.turnCfg.SampleRate)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		r.sendError("could not transcribe your answer, please try again")
		r.setState(StateListening)
		r.countEvent("transcription_failed")
		return nil
	}

	r.setState(StateEvaluating)
	r.send(protocol.Transcription{
		Type:       protocol.TypeTranscription,
		Text:       text,
		Confidence: confidence,
	})

	card := r.queue[r.cursor]
	var result eval.Result
	if text == "" {
		// Silence transcribes to nothing; there is no answer to judge.
		r.indicator("empty_transcription")
		result = eval.Result{
			Rating:         srs.Again,
			IsCorrect:      false,
			Feedback:       "I couldn't hear an answer. The answer was: " + card.Back,
			ExpectedAnswer: card.Back,
		}
	} else {
		result, err = r.engine.client.Judge(ctx, eval.JudgeRequest{
			Question:       card.Front,
			ExpectedAnswer: card.Back,
			UserAnswer:     text,
			Mode:           r.strategy,
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			r.sendError("could not evaluate your answer, please try again")
			r.setState(StateListening)
			r.countEvent("judgment_failed")
			return nil
		}
	}

	if err := r.presentFeedback(ctx, card, result); err != nil {
		return err
	}
	if r.engine.metrics != nil {
		r.engine.metrics.ObserveEvalStage("card_total", time.Since(turnStart))
	}
	r.cursor++
	return r.presentNext(ctx)
}

func (r *sessionRun) presentFeedback(ctx context.Context, card cards.Card, result eval.Result) error {
	r.setState(StatePresentingFeedback)

	var pcm []byte
	if result.Feedback != "" {
		// Best effort: feedback stays text-only when synthesis fails.
		pcm, _, _ = r.engine.client.Synthesize(ctx, result.Feedback)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	r.send(protocol.Evaluation{
		Type:           protocol.TypeEvaluation,
		Rating:         int(result.Rating),
		IsCorrect:      result.IsCorrect,
		Feedback:       result.Feedback,
		ExpectedAnswer: result.ExpectedAnswer,
		UserAnswer:     result.UserAnswer,
		Audio:          pcm,
		AutoAdvance:    true,
		ReviewMode:     r.strategy.Mode,
	})

	now := r.engine.now()
	state, next := srs.Advance(card.Memory(), result.Rating, now)
	card.ApplyMemory(state, next)

	persistStart := time.Now()
	if err := r.engine.store.SaveReview(ctx, card, cards.Review{
		CardID:        card.ID,
		Rating:        int(result.Rating),
		UserAnswer:    result.UserAnswer,
		LLMEvaluation: result.Feedback,
		ReviewedAt:    now,
	}); err != nil {
		// Surface the failure but keep the session moving; the write is
		// not retried.
		r.sendError("could not save this review")
		r.countEvent("persist_failed")
	}
	if r.engine.metrics != nil {
		r.engine.metrics.ObserveEvalStage("persist", time.Since(persistStart))
	}

	r.send(protocol.CardRated{
		Type:      protocol.TypeCardRated,
		CardID:    card.ID,
		Rating:    int(result.Rating),
		AutoRated: true,
	})

	r.reviewed++
	if result.IsCorrect {
		r.correct++
	}
	_ = r.engine.sessions.RecordResult(r.sess.ID, result.IsCorrect)
	if r.engine.metrics != nil {
		r.engine.metrics.CardsReviewed.WithLabelValues(result.Rating.String()).Inc()
	}
	return nil
}

func (r *sessionRun) handleRateCard(protocol.RateCard) error {
	// Auto-advance already rated the card; a trailing manual rating is a
	// no-op rather than a double write.
	if r.state == StatePresentingFeedback {
		return nil
	}
	r.protocolError("rate_card not accepted in current state")
	return nil
}

func (r *sessionRun) handleSkip(ctx context.Context) error {
	switch r.state {
	case StatePresentingCard, StateListening:
		r.countEvent("card_skipped")
		r.cursor++
		return r.presentNext(ctx)
	case StatePresentingFeedback:
		return nil
	default:
		r.protocolError("skip not accepted in current state")
		return nil
	}
}

func (r *sessionRun) handleReplay(ctx context.Context) error {
	if r.state != StatePresentingCard && r.state != StateListening {
		r.protocolError("replay_card not accepted in current state")
		return nil
	}
	card := r.queue[r.cursor]
	spoken := r.spokenQuestion(ctx, card.Front)
	pcm, _, _ := r.engine.client.Synthesize(ctx, spoken)
	r.send(protocol.CardReplay{
		Type:       protocol.TypeCardReplay,
		CardID:     card.ID,
		SpokenText: spoken,
		Audio:      pcm,
	})
	return nil
}

const fallbackOutro = "Session complete. Nice work."

func (r *sessionRun) finish(ctx context.Context) error {
	if r.state == StateEnded || r.state == StateError {
		return nil
	}
	r.setState(StateEnding)

	stats := protocol.SessionStats{
		CardsReviewed:  r.reviewed,
		CorrectCount:   r.correct,
		IncorrectCount: r.reviewed - r.correct,
		AudioSeconds:   r.audioDur.Seconds(),
	}
	if r.reviewed > 0 {
		stats.Accuracy = float64(r.correct) / float64(r.reviewed)
	}

	message := fallbackOutro
	var pcm []byte
	if r.strategy.Mode == protocol.ModeConversational && r.reviewed > 0 {
		if text, err := r.engine.client.Compose(ctx, eval.BuildOutroPrompt(r.reviewed, r.correct)); err == nil && text != "" {
			message = text
		}
		pcm, _, _ = r.engine.client.Synthesize(ctx, message)
	}

	r.send(protocol.SessionComplete{
		Type:    protocol.TypeSessionComplete,
		Message: message,
		Audio:   pcm,
		Stats:   stats,
	})
	r.countEvent("session_complete")
	r.setState(StateEnded)
	return nil
}

// release drops per-connection resources regardless of how the loop
// exited. A disconnect mid-card leaves that card unwritten.
func (r *sessionRun) release() {
	if r.detector != nil {
		r.detector.Reset()
	}
	r.queue = nil
	if r.sess != nil {
		_, _ = r.engine.sessions.End(r.sess.ID)
	}
}

func (r *sessionRun) setState(s State) {
	if r.state == s {
		return
	}
	r.state = s
	r.send(protocol.StateChange{
		Type:  protocol.TypeStateChange,
		State: string(s),
	})
}

func (r *sessionRun) protocolError(detail string) {
	r.countEvent("protocol_error")
	r.sendError(detail)
}

func (r *sessionRun) sendError(message string) {
	r.send(protocol.ErrorMessage{
		Type:    protocol.TypeError,
		Message: message,
	})
}

func (r *sessionRun) send(msg any) {
	r.outbound <- msg
	if r.engine.metrics != nil {
		if t := protocol.TypeOf(msg); t != "" {
			r.engine.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
		}
	}
}

func (r *sessionRun) countEvent(event string) {
	if r.engine.metrics != nil {
		r.engine.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func (r *sessionRun) indicator(name string) {
	if r.engine.metrics != nil {
		r.engine.metrics.ObserveIndicator(name)
	}
}
