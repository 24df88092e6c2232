package domain

// QuizQuestion is a single question handed in for grading. The quiz
// store itself lives outside this service; only grading is in scope.
type QuizQuestion struct {
	Question      string
	ModelAnswer   string
	StudentAnswer string
}

// Score is the three-level grading outcome.
type Score string

const (
	ScoreCorrect   Score = "correct"
	ScorePartial   Score = "partial"
	ScoreIncorrect Score = "incorrect"
)

// Grade is the evaluator verdict for one answer.
type Grade struct {
	Score    Score  `json:"score"`
	Feedback string `json:"feedback"`
}
