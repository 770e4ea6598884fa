package model

// DefaultPoints is awarded when a problem carries no explicit point value.
const DefaultPoints = 100

// Problem is the judge-facing view of a problem.
type Problem struct {
	Code       string     `db:"code" json:"code"`
	Title      string     `db:"title" json:"title"`
	Points     int        `db:"points" json:"points"`
	IsPractice bool       `db:"is_practice" json:"isPractice"`
	TestCases  []TestCase `db:"-" json:"testCases"`
}

// AwardPoints returns the leaderboard credit for accepting the problem.
func (p Problem) AwardPoints() int {
	if p.Points > 0 {
		return p.Points
	}
	return DefaultPoints
}

// TestCase is one input/expected-output pair. Inline text wins over object keys.
type TestCase struct {
	ID             int64  `db:"id" json:"id"`
	ProblemCode    string `db:"problem_code" json:"-"`
	Ordinal        int    `db:"ordinal" json:"ordinal"`
	Input          string `db:"input" json:"input"`
	ExpectedOutput string `db:"expected_output" json:"expectedOutput"`
	InputKey       string `db:"input_key" json:"inputKey,omitempty"`
	OutputKey      string `db:"output_key" json:"outputKey,omitempty"`
	Hidden         bool   `db:"hidden" json:"hidden"`
}
