package eval

import "fmt"

// ModeStrategy fixes the mode-dependent behavior of a session at start:
// which judgment prompt is used and whether the spoken feedback announces
// the rating. There are exactly two strategies; manual review never reaches
// this engine.
type ModeStrategy struct {
	Mode            string
	AnnouncesRating bool
	judgePrompt     func(question, expected, answer string) string
}

var (
	// OralStrategy asks for a terse structured verdict that states the
	// rating out loud.
	OralStrategy = ModeStrategy{
		Mode:            "oral",
		AnnouncesRating: true,
		judgePrompt:     buildOralJudgePrompt,
	}

	// ConversationalStrategy asks for warm tutoring feedback that never
	// mentions the rating, although the structured rating is still
	// returned for scheduling.
	ConversationalStrategy = ModeStrategy{
		Mode:            "conversational",
		AnnouncesRating: false,
		judgePrompt:     buildConversationalJudgePrompt,
	}
)

// StrategyFor maps a wire review_mode onto its strategy. Unknown modes fall
// back to oral.
func StrategyFor(mode string) ModeStrategy {
	if mode == ConversationalStrategy.Mode {
		return ConversationalStrategy
	}
	return OralStrategy
}

const judgeRubric = `Evaluate the answer and assign a rating:
- "again": incorrect or shows no understanding
- "hard": partially correct with significant gaps
- "good": correct with minor omissions or variations
- "easy": complete and shows clear understanding

The answer was transcribed from speech. Tolerate filler words, repeated
words, small transcription errors and different phrasing. Synonyms and
paraphrasing are acceptable; key concepts must be present for the higher
ratings. The order of information may vary.`

func buildOralJudgePrompt(question, expected, answer string) string {
	return fmt.Sprintf(`You are grading a spoken answer to a flashcard question.

Question: %s
Expected answer: %s
Spoken answer: %s

%s

Write one or two sentences of feedback that explicitly state the rating you
chose, e.g. "Rated good: ...". Be accurate first, encouraging second.

Respond with JSON only:
{
  "is_correct": boolean,
  "feedback": "string",
  "suggested_rating": "again" | "hard" | "good" | "easy"
}`, question, expected, answer, judgeRubric)
}

func buildConversationalJudgePrompt(question, expected, answer string) string {
	return fmt.Sprintf(`You are a friendly tutor reviewing flashcards with a student out loud.

Question: %s
Expected answer: %s
Student's spoken answer: %s

%s

Write two or three warm, conversational sentences of feedback, the way a
tutor would speak. Teach: if something was missing, mention what.
Never say the rating, a score, or a grade out loud; the rating goes only in
the JSON field.

Respond with JSON only:
{
  "is_correct": boolean,
  "feedback": "string",
  "suggested_rating": "again" | "hard" | "good" | "easy"
}`, question, expected, answer, judgeRubric)
}

// BuildQuestionPrompt asks the composer to wrap a card front as a natural
// spoken question for conversational mode.
func BuildQuestionPrompt(front string) string {
	return fmt.Sprintf(`You are a friendly tutor running a spoken flashcard session.
Rephrase the following card prompt as one natural spoken question. Keep the
meaning exactly; do not add hints or reveal any part of the answer. Reply
with the question only, no quotes.

Card prompt: %s`, front)
}

// BuildIntroPrompt asks the composer for a short session greeting.
func BuildIntroPrompt(totalCards int) string {
	return fmt.Sprintf(`You are a friendly tutor starting a spoken flashcard session
with %d cards. Write one short, warm sentence to greet the student and get
started. Reply with the sentence only.`, totalCards)
}

// BuildOutroPrompt asks the composer for an encouraging session close.
func BuildOutroPrompt(reviewed, correct int) string {
	return fmt.Sprintf(`A spoken flashcard session just finished: %d cards reviewed,
%d answered correctly. Write one or two encouraging sentences to close the
session. Mention the result naturally; do not list numbers mechanically.
Reply with the sentences only.`, reviewed, correct)
}
