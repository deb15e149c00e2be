package judge

import (
	"context"
)

// Executor runs one code submission against one test input inside an
// isolated sandbox with CPU, memory and wall-clock limits.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (*ExecResult, error)
}

// ExecRequest is a single sandbox run.
type ExecRequest struct {
	Language  string `json:"language"`
	Code      string `json:"code"`
	InputJSON string `json:"testInputJson"`
	TimeoutMs int    `json:"timeoutMs"`
}

// ExecResult is what the sandbox reports for one run.
type ExecResult struct {
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exitCode"`
	ExecutionTimeMs int    `json:"executionTime"`
	MemoryBytes     int64  `json:"memoryUsage"`
	TimedOut        bool   `json:"timedOut"`
}

// Grader scores submitted code on quality and creativity, both on a 0..10
// scale. Implementations call the external AI service and must enforce
// their own deadline.
type Grader interface {
	AnalyzeCodeQuality(ctx context.Context, req QualityRequest) (*QualityResult, error)
}

// QualityRequest carries the code plus enough challenge context for the
// grader to judge fit.
type QualityRequest struct {
	Code                 string
	Language             string
	ChallengeTitle       string
	ChallengeDescription string
}

// QualityResult is the grader's raw 0..10 verdict.
type QualityResult struct {
	Quality    float64
	Creativity float64
	Feedback   string
}

// RatingUpdater applies both players' post-match rating changes in one
// atomic transaction.
type RatingUpdater interface {
	ApplyMatchOutcome(ctx context.Context, o RatingOutcome) error
}

// RatingOutcome is the computed rating movement for a finished match.
// WinnerID is empty on a tie.
type RatingOutcome struct {
	Player1ID    string
	Player2ID    string
	Player1Delta int
	Player2Delta int
	WinnerID     string
}

// TestCase is one challenge test as fed to the pipeline.
type TestCase struct {
	Ordinal  int
	Input    string
	Expected string
	Hidden   bool
	Weight   float64
}

// CaseOutcome is the judged result of one test case. Hidden cases omit
// input and expected output on the wire.
type CaseOutcome struct {
	Ordinal     int     `json:"ordinal"`
	Passed      bool    `json:"passed"`
	Hidden      bool    `json:"hidden"`
	Input       string  `json:"input,omitempty"`
	Expected    string  `json:"expected,omitempty"`
	Actual      string  `json:"actual,omitempty"`
	Stderr      string  `json:"stderr,omitempty"`
	TimeMs      int     `json:"executionTimeMs"`
	MemoryBytes int64   `json:"memoryBytes,omitempty"`
	TimedOut    bool    `json:"timedOut"`
	Shielded    bool    `json:"shielded,omitempty"`
	Error       string  `json:"error,omitempty"`
	Weight      float64 `json:"-"`
}

// RunReport is the outcome of a visible-tests-only run (run_code).
type RunReport struct {
	Results []CaseOutcome `json:"results"`
	Passed  int           `json:"passed"`
	Total   int           `json:"total"`
}

// Submission is one player's final answer.
type Submission struct {
	PlayerID  string
	Code      string
	Language  string
	HintsUsed int
}

// MatchRequest is everything the pipeline needs to judge one match.
type MatchRequest struct {
	MatchID              string
	ChallengeTitle       string
	ChallengeDescription string
	Player1              Submission
	Player2              Submission
	Player1Rating        int
	Player2Rating        int
	Tests                []TestCase
}

// Scorecard is one player's full judged breakdown. Total is before the
// hint penalty, Final after.
type Scorecard struct {
	PlayerID    string        `json:"playerId"`
	Correctness float64       `json:"correctness"`
	Efficiency  float64       `json:"efficiency"`
	Quality     float64       `json:"quality"`
	Creativity  float64       `json:"creativity"`
	Total       float64       `json:"total"`
	HintsUsed   int           `json:"hintsUsed"`
	Final       float64       `json:"final"`
	Feedback    string        `json:"feedback,omitempty"`
	TestResults []CaseOutcome `json:"testResults"`
}

// Verdict is the pipeline's always-produced result. Fallback verdicts
// carry no winner, no scores and no rating movement; clients get a
// completion either way.
type Verdict struct {
	MatchID          string     `json:"matchId"`
	WinnerID         string     `json:"winnerId,omitempty"`
	Player1          *Scorecard `json:"player1"`
	Player2          *Scorecard `json:"player2"`
	Player1NewRating int        `json:"player1NewRating,omitempty"`
	Player2NewRating int        `json:"player2NewRating,omitempty"`
	Player1Delta     int        `json:"player1Delta,omitempty"`
	Player2Delta     int        `json:"player2Delta,omitempty"`
	Fallback         bool       `json:"fallback,omitempty"`
	FallbackReason   string     `json:"fallbackReason,omitempty"`
	DurationMs       int64      `json:"durationMs"`
}
