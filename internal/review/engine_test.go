package review

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vocim/vocim/internal/audio"
	"github.com/vocim/vocim/internal/cards"
	"github.com/vocim/vocim/internal/eval"
	"github.com/vocim/vocim/internal/protocol"
	"github.com/vocim/vocim/internal/session"
)

type harness struct {
	engine *Engine
	run    *sessionRun
	mock   *eval.MockProvider
	store  *cards.InMemoryStore
	out    chan any
}

func newHarness(t *testing.T, store cards.Store, judge eval.Judge) *harness {
	return newHarnessWith(t, store, judge, nil, nil)
}

func newHarnessWith(t *testing.T, store cards.Store, judge eval.Judge, stt eval.Transcriber, tts eval.Synthesizer) *harness {
	t.Helper()
	mock := eval.NewMockProvider()
	if judge == nil {
		judge = mock
	}
	if stt == nil {
		stt = mock
	}
	if tts == nil {
		tts = mock
	}
	client := eval.NewClient(stt, judge, mock, tts, eval.Timeouts{}, nil)

	mem, _ := store.(*cards.InMemoryStore)
	engine := NewEngine(store, client, session.NewManager(time.Minute), nil, Config{
		SampleRate:      16000,
		EnergyThreshold: 0.015,
		MaxSilentFrames: 3,
	})
	out := make(chan any, 256)
	return &harness{
		engine: engine,
		run:    engine.newRun(out),
		mock:   mock,
		store:  mem,
		out:    out,
	}
}

func (h *harness) drain() []any {
	var msgs []any
	for {
		select {
		case m := <-h.out:
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func (h *harness) start(t *testing.T, mode string) {
	t.Helper()
	err := h.run.handle(context.Background(), protocol.StartSession{
		Type:       protocol.TypeStartSession,
		ReviewMode: mode,
	})
	if err != nil {
		t.Fatalf("start_session: %v", err)
	}
}

// speak feeds enough loud then quiet frames to complete one utterance.
func (h *harness) speak(ctx context.Context) error {
	loud := make([]int16, 320)
	for i := range loud {
		loud[i] = 3000
	}
	quiet := make([]int16, 320)

	for i := 0; i < 5; i++ {
		if err := h.run.handle(ctx, protocol.AudioFrame{PCM: audio.EncodePCM16LE(loud)}); err != nil {
			return err
		}
	}
	for i := 0; i < 3; i++ {
		if err := h.run.handle(ctx, protocol.AudioFrame{PCM: audio.EncodePCM16LE(quiet)}); err != nil {
			return err
		}
	}
	return nil
}

func seedDeck(store *cards.InMemoryStore, pairs ...[2]string) {
	for i, fb := range pairs {
		card := cards.NewCard("card-"+string(rune('a'+i)), fb[0], fb[1])
		card.NextReview = time.Now().UTC().Add(-time.Hour)
		store.Put(card)
	}
}

func presentedCards(msgs []any) []protocol.CardPresented {
	var out []protocol.CardPresented
	for _, m := range msgs {
		if cp, ok := m.(protocol.CardPresented); ok {
			out = append(out, cp)
		}
	}
	return out
}

func errorMessages(msgs []any) []protocol.ErrorMessage {
	var out []protocol.ErrorMessage
	for _, m := range msgs {
		if em, ok := m.(protocol.ErrorMessage); ok {
			out = append(out, em)
		}
	}
	return out
}

func evaluations(msgs []any) []protocol.Evaluation {
	var out []protocol.Evaluation
	for _, m := range msgs {
		if ev, ok := m.(protocol.Evaluation); ok {
			out = append(out, ev)
		}
	}
	return out
}

func TestStartPresentsFirstCard(t *testing.T) {
	store := cards.NewInMemoryStore()
	seedDeck(store, [2]string{"capital of France", "Paris"}, [2]string{"capital of Italy", "Rome"})
	h := newHarness(t, store, nil)

	h.start(t, protocol.ModeOral)
	msgs := h.drain()

	var started *protocol.SessionStarted
	for _, m := range msgs {
		if s, ok := m.(protocol.SessionStarted); ok {
			started = &s
		}
	}
	if started == nil {
		t.Fatalf("no session_started in %v", msgs)
	}
	if started.TotalCards != 2 || started.ReviewMode != protocol.ModeOral {
		t.Fatalf("unexpected session_started: %+v", started)
	}

	cps := presentedCards(msgs)
	if len(cps) != 1 {
		t.Fatalf("expected one card_presented, got %d", len(cps))
	}
	if cps[0].CardNumber != 1 || cps[0].TotalCards != 2 {
		t.Fatalf("unexpected card position: %+v", cps[0])
	}
	if cps[0].SpokenText != cps[0].Front {
		t.Fatalf("oral mode should speak the literal front, got %q", cps[0].SpokenText)
	}
	if h.run.state != StateListening {
		t.Fatalf("state = %s, want %s", h.run.state, StateListening)
	}
}

func TestSpokenAnswerRatedAndPersisted(t *testing.T) {
	store := cards.NewInMemoryStore()
	seedDeck(store, [2]string{"capital of France", "Paris"}, [2]string{"capital of Italy", "Rome"})
	h := newHarness(t, store, nil)

	h.start(t, protocol.ModeOral)
	first := presentedCards(h.drain())[0]
	answered, ok := h.store.Get(first.CardID)
	if !ok {
		t.Fatalf("presented card %s not in store", first.CardID)
	}

	h.mock.QueueTranscript(answered.Back)
	if err := h.speak(context.Background()); err != nil {
		t.Fatalf("speak: %v", err)
	}
	msgs := h.drain()

	var transcript *protocol.Transcription
	for _, m := range msgs {
		if tr, ok := m.(protocol.Transcription); ok {
			transcript = &tr
		}
	}
	if transcript == nil || transcript.Text != answered.Back {
		t.Fatalf("unexpected transcription: %+v", transcript)
	}

	evs := evaluations(msgs)
	if len(evs) != 1 {
		t.Fatalf("expected one evaluation, got %d", len(evs))
	}
	if evs[0].Rating != 3 || !evs[0].IsCorrect || !evs[0].AutoAdvance {
		t.Fatalf("exact answer should rate easy with auto-advance: %+v", evs[0])
	}

	// Rating persists before the next card appears.
	ratedAt, presentedAt := -1, -1
	for i, m := range msgs {
		switch mm := m.(type) {
		case protocol.CardRated:
			if !mm.AutoRated || mm.CardID != first.CardID {
				t.Fatalf("unexpected card_rated: %+v", mm)
			}
			ratedAt = i
		case protocol.CardPresented:
			presentedAt = i
		}
	}
	if ratedAt == -1 || presentedAt == -1 || ratedAt > presentedAt {
		t.Fatalf("card_rated (%d) must precede next card_presented (%d)", ratedAt, presentedAt)
	}

	reviews := h.store.Reviews()
	if len(reviews) != 1 {
		t.Fatalf("reviews persisted = %d, want 1", len(reviews))
	}
	if reviews[0].CardID != first.CardID || reviews[0].Rating != 3 || reviews[0].UserAnswer != answered.Back {
		t.Fatalf("unexpected review row: %+v", reviews[0])
	}

	updated, _ := h.store.Get(first.CardID)
	if updated.Repetitions != 1 || !updated.NextReview.After(time.Now().UTC()) {
		t.Fatalf("card scheduling not advanced: %+v", updated)
	}

	next := presentedCards(msgs)
	if len(next) != 1 || next[0].CardNumber != 2 {
		t.Fatalf("expected card 2 of 2 next, got %+v", next)
	}
}

// failingJudge fails the test if the evaluation path reaches the judge.
type failingJudge struct{ t *testing.T }

func (f failingJudge) Judge(context.Context, eval.JudgeRequest) (eval.Result, error) {
	f.t.Errorf("judge must not be called for an empty transcription")
	return eval.Result{}, errors.New("unexpected judge call")
}

func TestEmptyTranscriptionRatesAgainWithoutJudge(t *testing.T) {
	store := cards.NewInMemoryStore()
	seedDeck(store, [2]string{"capital of France", "Paris"})
	h := newHarness(t, store, failingJudge{t})

	h.start(t, protocol.ModeOral)
	h.drain()

	h.mock.QueueTranscript("")
	if err := h.speak(context.Background()); err != nil {
		t.Fatalf("speak: %v", err)
	}
	msgs := h.drain()

	evs := evaluations(msgs)
	if len(evs) != 1 {
		t.Fatalf("expected one evaluation, got %d", len(evs))
	}
	if evs[0].Rating != 0 || evs[0].IsCorrect {
		t.Fatalf("silence should rate again: %+v", evs[0])
	}
	if !strings.Contains(evs[0].Feedback, "Paris") {
		t.Fatalf("feedback should reveal the answer, got %q", evs[0].Feedback)
	}
	if got := len(h.store.Reviews()); got != 1 {
		t.Fatalf("reviews persisted = %d, want 1", got)
	}
}

func TestAudioRejectedWhileEvaluating(t *testing.T) {
	store := cards.NewInMemoryStore()
	seedDeck(store, [2]string{"capital of France", "Paris"})
	h := newHarness(t, store, nil)

	h.start(t, protocol.ModeOral)
	h.drain()

	h.run.state = StateEvaluating
	frame := make([]int16, 320)
	for i := range frame {
		frame[i] = 3000
	}
	if err := h.run.handle(context.Background(), protocol.AudioFrame{PCM: audio.EncodePCM16LE(frame)}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	msgs := h.drain()
	if len(errorMessages(msgs)) != 1 {
		t.Fatalf("expected a protocol error, got %v", msgs)
	}
	for _, m := range msgs {
		if _, ok := m.(protocol.Transcription); ok {
			t.Fatalf("dropped frame must not be transcribed")
		}
	}
	if h.run.state != StateEvaluating {
		t.Fatalf("state changed to %s, want %s", h.run.state, StateEvaluating)
	}
}

type erroringStore struct {
	*cards.InMemoryStore
}

func (s erroringStore) SaveReview(context.Context, cards.Card, cards.Review) error {
	return errors.New("disk full")
}

func TestPersistFailureStillAdvances(t *testing.T) {
	mem := cards.NewInMemoryStore()
	seedDeck(mem, [2]string{"capital of France", "Paris"}, [2]string{"capital of Italy", "Rome"})
	h := newHarness(t, erroringStore{mem}, nil)
	h.store = mem

	h.start(t, protocol.ModeOral)
	first := presentedCards(h.drain())[0]
	answered, _ := mem.Get(first.CardID)

	h.mock.QueueTranscript(answered.Back)
	if err := h.speak(context.Background()); err != nil {
		t.Fatalf("speak: %v", err)
	}
	msgs := h.drain()

	if len(errorMessages(msgs)) == 0 {
		t.Fatalf("persist failure must surface an error, got %v", msgs)
	}
	var rated bool
	for _, m := range msgs {
		if _, ok := m.(protocol.CardRated); ok {
			rated = true
		}
	}
	if !rated {
		t.Fatalf("card_rated missing after persist failure")
	}
	next := presentedCards(msgs)
	if len(next) != 1 || next[0].CardNumber != 2 {
		t.Fatalf("session must advance past persist failure, got %+v", next)
	}
}

func TestEndSessionEmitsStats(t *testing.T) {
	store := cards.NewInMemoryStore()
	seedDeck(store, [2]string{"capital of France", "Paris"}, [2]string{"capital of Italy", "Rome"})
	h := newHarness(t, store, nil)

	h.start(t, protocol.ModeOral)
	first := presentedCards(h.drain())[0]
	answered, _ := store.Get(first.CardID)

	h.mock.QueueTranscript(answered.Back)
	if err := h.speak(context.Background()); err != nil {
		t.Fatalf("speak: %v", err)
	}
	h.drain()

	if err := h.run.handle(context.Background(), protocol.EndSession{Type: protocol.TypeEndSession}); err != nil {
		t.Fatalf("end_session: %v", err)
	}
	msgs := h.drain()

	var done *protocol.SessionComplete
	for _, m := range msgs {
		if sc, ok := m.(protocol.SessionComplete); ok {
			done = &sc
		}
	}
	if done == nil {
		t.Fatalf("no session_complete in %v", msgs)
	}
	stats := done.Stats
	if stats.CardsReviewed != 1 || stats.CorrectCount != 1 || stats.IncorrectCount != 0 || stats.Accuracy != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.AudioSeconds <= 0 {
		t.Fatalf("audio seconds not accumulated: %+v", stats)
	}
	if h.run.state != StateEnded {
		t.Fatalf("state = %s, want %s", h.run.state, StateEnded)
	}
}

// cancellingTranscriber simulates a disconnect racing the pipeline: the
// context dies while transcription is in flight.
type cancellingTranscriber struct {
	cancel context.CancelFunc
}

func (c cancellingTranscriber) Transcribe(context.Context, []byte, int) (string, float64, error) {
	c.cancel()
	return "Paris", 1, nil
}

func TestDisconnectMidProcessingPersistsNothing(t *testing.T) {
	store := cards.NewInMemoryStore()
	seedDeck(store, [2]string{"capital of France", "Paris"})
	mock := eval.NewMockProvider()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := eval.NewClient(cancellingTranscriber{cancel}, mock, mock, mock, eval.Timeouts{}, nil)

	engine := NewEngine(store, client, session.NewManager(time.Minute), nil, Config{
		SampleRate:      16000,
		EnergyThreshold: 0.015,
		MaxSilentFrames: 3,
	})
	out := make(chan any, 256)
	run := engine.newRun(out)
	if err := run.handle(ctx, protocol.StartSession{Type: protocol.TypeStartSession, ReviewMode: protocol.ModeOral}); err != nil {
		t.Fatalf("start_session: %v", err)
	}
	h := &harness{engine: engine, run: run, mock: mock, store: store, out: out}
	h.drain()

	err := h.speak(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if got := len(store.Reviews()); got != 0 {
		t.Fatalf("cancelled evaluation must not persist, got %d reviews", got)
	}
	for _, m := range h.drain() {
		if _, ok := m.(protocol.Evaluation); ok {
			t.Fatalf("cancelled evaluation must not emit a result")
		}
	}
}

type failingSynth struct{}

func (failingSynth) Synthesize(context.Context, string) ([]byte, int, error) {
	return nil, 0, errors.New("tts down")
}

func TestSynthesisFailureDegradesToText(t *testing.T) {
	store := cards.NewInMemoryStore()
	seedDeck(store, [2]string{"capital of France", "Paris"}, [2]string{"capital of Italy", "Rome"})
	h := newHarnessWith(t, store, nil, nil, failingSynth{})

	h.start(t, protocol.ModeOral)
	first := presentedCards(h.drain())[0]
	answered, _ := store.Get(first.CardID)

	h.mock.QueueTranscript(answered.Back)
	if err := h.speak(context.Background()); err != nil {
		t.Fatalf("speak: %v", err)
	}
	msgs := h.drain()

	evs := evaluations(msgs)
	if len(evs) != 1 {
		t.Fatalf("expected one evaluation, got %d", len(evs))
	}
	if evs[0].Audio != nil {
		t.Fatalf("evaluation should carry no audio when synthesis fails")
	}
	if errs := errorMessages(msgs); len(errs) != 0 {
		t.Fatalf("synthesis failure must not surface an error, got %v", errs)
	}
	if got := len(store.Reviews()); got != 1 {
		t.Fatalf("reviews persisted = %d, want 1", got)
	}
	next := presentedCards(msgs)
	if len(next) != 1 || next[0].CardNumber != 2 {
		t.Fatalf("session must advance without audio, got %+v", next)
	}
}

type brokenTranscriber struct{ calls int }

func (b *brokenTranscriber) Transcribe(context.Context, []byte, int) (string, float64, error) {
	b.calls++
	return "", 0, errors.New("stt down")
}

func TestTranscriptionFailureReturnsToListening(t *testing.T) {
	store := cards.NewInMemoryStore()
	seedDeck(store, [2]string{"capital of France", "Paris"})
	stt := &brokenTranscriber{}
	h := newHarnessWith(t, store, nil, stt, nil)

	h.start(t, protocol.ModeOral)
	h.drain()

	if err := h.speak(context.Background()); err != nil {
		t.Fatalf("speak: %v", err)
	}
	msgs := h.drain()

	if stt.calls != 2 {
		t.Fatalf("transcribe attempts = %d, want 2 (one retry)", stt.calls)
	}
	if len(errorMessages(msgs)) != 1 {
		t.Fatalf("expected one error message, got %v", msgs)
	}
	if len(evaluations(msgs)) != 0 {
		t.Fatalf("failed transcription must not be evaluated")
	}
	if got := len(store.Reviews()); got != 0 {
		t.Fatalf("reviews persisted = %d, want 0", got)
	}
	if h.run.state != StateListening {
		t.Fatalf("state = %s, want %s", h.run.state, StateListening)
	}
}

type brokenJudge struct{ calls int }

func (b *brokenJudge) Judge(context.Context, eval.JudgeRequest) (eval.Result, error) {
	b.calls++
	return eval.Result{}, errors.New("judge down")
}

func TestJudgmentFailureReturnsToListening(t *testing.T) {
	store := cards.NewInMemoryStore()
	seedDeck(store, [2]string{"capital of France", "Paris"})
	judge := &brokenJudge{}
	h := newHarness(t, store, judge)

	h.start(t, protocol.ModeOral)
	h.drain()

	h.mock.QueueTranscript("Paris")
	if err := h.speak(context.Background()); err != nil {
		t.Fatalf("speak: %v", err)
	}
	msgs := h.drain()

	if judge.calls != 2 {
		t.Fatalf("judge attempts = %d, want 2 (one retry)", judge.calls)
	}
	var transcribed bool
	for _, m := range msgs {
		if _, ok := m.(protocol.Transcription); ok {
			transcribed = true
		}
	}
	if !transcribed {
		t.Fatalf("transcription should be sent before the judgment fails")
	}
	if len(errorMessages(msgs)) != 1 || len(evaluations(msgs)) != 0 {
		t.Fatalf("expected one error and no evaluation, got %v", msgs)
	}
	if got := len(store.Reviews()); got != 0 {
		t.Fatalf("reviews persisted = %d, want 0", got)
	}
	if h.run.state != StateListening {
		t.Fatalf("state = %s, want %s", h.run.state, StateListening)
	}
}

func TestReplayRepeatsCurrentCard(t *testing.T) {
	store := cards.NewInMemoryStore()
	seedDeck(store, [2]string{"capital of France", "Paris"})
	h := newHarness(t, store, nil)

	h.start(t, protocol.ModeOral)
	first := presentedCards(h.drain())[0]

	if err := h.run.handle(context.Background(), protocol.ReplayCard{Type: protocol.TypeReplayCard}); err != nil {
		t.Fatalf("replay_card: %v", err)
	}
	msgs := h.drain()

	var replay *protocol.CardReplay
	for _, m := range msgs {
		if cr, ok := m.(protocol.CardReplay); ok {
			replay = &cr
		}
	}
	if replay == nil || replay.CardID != first.CardID {
		t.Fatalf("unexpected replay: %+v", replay)
	}
	if h.run.cursor != 0 || h.run.state != StateListening {
		t.Fatalf("replay must not advance: cursor=%d state=%s", h.run.cursor, h.run.state)
	}
}

func TestSkipAdvancesWithoutWrite(t *testing.T) {
	store := cards.NewInMemoryStore()
	seedDeck(store, [2]string{"capital of France", "Paris"}, [2]string{"capital of Italy", "Rome"})
	h := newHarness(t, store, nil)

	h.start(t, protocol.ModeOral)
	h.drain()

	if err := h.run.handle(context.Background(), protocol.SkipCard{Type: protocol.TypeSkipCard}); err != nil {
		t.Fatalf("skip_card: %v", err)
	}
	msgs := h.drain()

	next := presentedCards(msgs)
	if len(next) != 1 || next[0].CardNumber != 2 {
		t.Fatalf("skip should present card 2, got %+v", next)
	}
	if got := len(store.Reviews()); got != 0 {
		t.Fatalf("skip must not write a review, got %d", got)
	}
}

func TestRateCardOnlyMeaningfulDuringFeedback(t *testing.T) {
	store := cards.NewInMemoryStore()
	seedDeck(store, [2]string{"capital of France", "Paris"})
	h := newHarness(t, store, nil)

	h.start(t, protocol.ModeOral)
	h.drain()

	if err := h.run.handle(context.Background(), protocol.RateCard{Type: protocol.TypeRateCard, Rating: 2}); err != nil {
		t.Fatalf("rate_card: %v", err)
	}
	if len(errorMessages(h.drain())) != 1 {
		t.Fatalf("rate_card while listening should be rejected")
	}

	h.run.state = StatePresentingFeedback
	if err := h.run.handle(context.Background(), protocol.RateCard{Type: protocol.TypeRateCard, Rating: 2}); err != nil {
		t.Fatalf("rate_card: %v", err)
	}
	if msgs := h.drain(); len(msgs) != 0 {
		t.Fatalf("rate_card during feedback should be a silent no-op, got %v", msgs)
	}
}

func TestConversationalSessionWrapsSpeech(t *testing.T) {
	store := cards.NewInMemoryStore()
	seedDeck(store, [2]string{"capital of France", "Paris"})
	h := newHarness(t, store, nil)

	h.start(t, protocol.ModeConversational)
	msgs := h.drain()

	var intro *protocol.SessionIntro
	for _, m := range msgs {
		if si, ok := m.(protocol.SessionIntro); ok {
			intro = &si
		}
	}
	if intro == nil || intro.Text == "" {
		t.Fatalf("conversational session should open with an intro, got %v", msgs)
	}

	h.mock.QueueTranscript("Paris")
	if err := h.speak(context.Background()); err != nil {
		t.Fatalf("speak: %v", err)
	}
	msgs = h.drain()

	evs := evaluations(msgs)
	if len(evs) != 1 || evs[0].ReviewMode != protocol.ModeConversational {
		t.Fatalf("unexpected evaluation: %+v", evs)
	}

	var done *protocol.SessionComplete
	for _, m := range msgs {
		if sc, ok := m.(protocol.SessionComplete); ok {
			done = &sc
		}
	}
	if done == nil || done.Message == "" || done.Stats.CardsReviewed != 1 {
		t.Fatalf("unexpected session_complete: %+v", done)
	}
}

func TestEmptyDeckCompletesImmediately(t *testing.T) {
	store := cards.NewInMemoryStore()
	h := newHarness(t, store, nil)

	h.start(t, protocol.ModeOral)
	msgs := h.drain()

	var done bool
	for _, m := range msgs {
		if _, ok := m.(protocol.SessionComplete); ok {
			done = true
		}
	}
	if !done {
		t.Fatalf("empty deck should complete immediately, got %v", msgs)
	}
	if h.run.state != StateEnded {
		t.Fatalf("state = %s, want %s", h.run.state, StateEnded)
	}
}

func TestRunConnectionLifecycle(t *testing.T) {
	store := cards.NewInMemoryStore()
	seedDeck(store, [2]string{"capital of France", "Paris"})
	mock := eval.NewMockProvider()
	client := eval.NewClient(mock, mock, mock, mock, eval.Timeouts{}, nil)
	engine := NewEngine(store, client, session.NewManager(time.Minute), nil, Config{})

	inbound := make(chan any, 8)
	outbound := make(chan any, 256)
	inbound <- protocol.StartSession{Type: protocol.TypeStartSession, ReviewMode: protocol.ModeOral}
	inbound <- protocol.EndSession{Type: protocol.TypeEndSession}

	done := make(chan error, 1)
	go func() { done <- engine.RunConnection(context.Background(), inbound, outbound) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunConnection: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunConnection did not exit after end_session")
	}

	var completed bool
	for {
		select {
		case m := <-outbound:
			if _, ok := m.(protocol.SessionComplete); ok {
				completed = true
			}
			continue
		default:
		}
		break
	}
	if !completed {
		t.Fatal("no session_complete on outbound")
	}
	if engine.sessions.ActiveCount() != 0 {
		t.Fatalf("session not released, active = %d", engine.sessions.ActiveCount())
	}
}
