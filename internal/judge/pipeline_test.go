package judge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptedExec fakes the sandbox with a per-request function. Both
// players execute concurrently, so the function must be re-entrant.
type scriptedExec struct {
	fn func(req ExecRequest) (*ExecResult, error)
}

func (s *scriptedExec) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	return s.fn(req)
}

// blockingExec never answers; it models a hung sandbox.
type blockingExec struct{}

func (blockingExec) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fixedGrader struct {
	res *QualityResult
	err error
}

func (g *fixedGrader) AnalyzeCodeQuality(ctx context.Context, req QualityRequest) (*QualityResult, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.res, nil
}

type recordingRatings struct {
	mu   sync.Mutex
	got  []RatingOutcome
	fail error
}

func (r *recordingRatings) ApplyMatchOutcome(ctx context.Context, o RatingOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.got = append(r.got, o)
	return nil
}

func (r *recordingRatings) outcomes() []RatingOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RatingOutcome(nil), r.got...)
}

var (
	_ Executor      = (*scriptedExec)(nil)
	_ Executor      = blockingExec{}
	_ Grader        = (*fixedGrader)(nil)
	_ RatingUpdater = (*recordingRatings)(nil)
)

// echoExec models an identity challenge: correct code echoes the input,
// broken code prints null.
func echoExec() *scriptedExec {
	return &scriptedExec{fn: func(req ExecRequest) (*ExecResult, error) {
		if req.Code == "broken" {
			return &ExecResult{Stdout: "null", ExecutionTimeMs: 10}, nil
		}
		return &ExecResult{Stdout: req.InputJSON, ExecutionTimeMs: 10}, nil
	}}
}

func testLimits() Limits {
	return Limits{
		PerCase:   time.Second,
		PerPlayer: 5 * time.Second,
		Watchdog:  10 * time.Second,
	}
}

func identityTests() []TestCase {
	return []TestCase{
		{Ordinal: 1, Input: `[1,2]`, Expected: `[1,2]`, Weight: 1},
		{Ordinal: 2, Input: `[3]`, Expected: `[3]`, Weight: 1, Hidden: true},
	}
}

func identityRequest() MatchRequest {
	return MatchRequest{
		MatchID:              "m1",
		ChallengeTitle:       "Echo",
		ChallengeDescription: "Return the input unchanged.",
		Player1:              Submission{PlayerID: "p1", Code: "solid", Language: "javascript"},
		Player2:              Submission{PlayerID: "p2", Code: "broken", Language: "javascript"},
		Player1Rating:        1000,
		Player2Rating:        1000,
		Tests:                identityTests(),
	}
}

func TestJudgeMatchPicksWinner(t *testing.T) {
	ratings := &recordingRatings{}
	grader := &fixedGrader{res: &QualityResult{Quality: 8, Creativity: 6, Feedback: "tidy"}}
	p := NewPipeline(echoExec(), grader, ratings, testLimits())

	v := p.JudgeMatch(context.Background(), identityRequest())
	require.NotNil(t, v)
	require.False(t, v.Fallback)
	require.Equal(t, "p1", v.WinnerID)

	// p1 passes both cases, p2 passes none; equal run times split the
	// efficiency band evenly.
	require.Equal(t, 400.0, v.Player1.Correctness)
	require.Equal(t, 0.0, v.Player2.Correctness)
	require.Equal(t, 300.0, v.Player1.Efficiency)
	require.Equal(t, 300.0, v.Player2.Efficiency)
	require.Equal(t, 160.0, v.Player1.Quality)
	require.Equal(t, 60.0, v.Player1.Creativity)
	require.Equal(t, 920.0, v.Player1.Final)
	require.Equal(t, 520.0, v.Player2.Final)

	// Even match, decisive result: +16 / -16.
	require.Equal(t, 16, v.Player1Delta)
	require.Equal(t, -16, v.Player2Delta)
	require.Equal(t, 1016, v.Player1NewRating)
	require.Equal(t, 984, v.Player2NewRating)

	got := ratings.outcomes()
	require.Len(t, got, 1)
	require.Equal(t, "p1", got[0].WinnerID)
	require.Equal(t, 16, got[0].Player1Delta)
	require.Equal(t, -16, got[0].Player2Delta)
}

func TestJudgeMatchHidesSecretCaseData(t *testing.T) {
	ratings := &recordingRatings{}
	grader := &fixedGrader{res: &QualityResult{Quality: 5, Creativity: 5}}
	p := NewPipeline(echoExec(), grader, ratings, testLimits())

	v := p.JudgeMatch(context.Background(), identityRequest())
	require.Len(t, v.Player1.TestResults, 2)

	visible := v.Player1.TestResults[0]
	require.False(t, visible.Hidden)
	require.Equal(t, `[1,2]`, visible.Input)
	require.Equal(t, `[1,2]`, visible.Actual)

	hidden := v.Player1.TestResults[1]
	require.True(t, hidden.Hidden)
	require.True(t, hidden.Passed)
	require.Empty(t, hidden.Input)
	require.Empty(t, hidden.Expected)
	require.Empty(t, hidden.Actual)
}

func TestJudgeMatchTie(t *testing.T) {
	ratings := &recordingRatings{}
	grader := &fixedGrader{res: &QualityResult{Quality: 7, Creativity: 7}}
	p := NewPipeline(echoExec(), grader, ratings, testLimits())

	req := identityRequest()
	req.Player2.Code = "solid" // identical performance

	v := p.JudgeMatch(context.Background(), req)
	require.Empty(t, v.WinnerID)
	require.Equal(t, v.Player1.Final, v.Player2.Final)
	require.Equal(t, 0, v.Player1Delta)
	require.Equal(t, 0, v.Player2Delta)
	require.Equal(t, 1000, v.Player1NewRating)

	got := ratings.outcomes()
	require.Len(t, got, 1)
	require.Empty(t, got[0].WinnerID)
}

func TestJudgeMatchHintPenaltyDecides(t *testing.T) {
	ratings := &recordingRatings{}
	grader := &fixedGrader{res: &QualityResult{Quality: 8, Creativity: 6}}
	p := NewPipeline(echoExec(), grader, ratings, testLimits())

	req := identityRequest()
	req.Player2.Code = "solid"
	req.Player2.HintsUsed = 2 // same performance, but hints cost 10%

	v := p.JudgeMatch(context.Background(), req)
	require.Equal(t, "p1", v.WinnerID)
	require.Equal(t, v.Player1.Total, v.Player2.Total)
	require.Equal(t, 828.0, v.Player2.Final)
	require.Equal(t, 2, v.Player2.HintsUsed)
}

func TestJudgeMatchWatchdogFallback(t *testing.T) {
	ratings := &recordingRatings{}
	grader := &fixedGrader{res: &QualityResult{Quality: 5, Creativity: 5}}
	limits := testLimits()
	limits.Watchdog = 40 * time.Millisecond
	p := NewPipeline(blockingExec{}, grader, ratings, limits)

	v := p.JudgeMatch(context.Background(), identityRequest())
	require.NotNil(t, v)
	require.True(t, v.Fallback)
	require.Empty(t, v.WinnerID)
	require.Equal(t, "p1", v.Player1.PlayerID)
	require.Equal(t, "p2", v.Player2.PlayerID)
	require.Zero(t, v.Player1Delta)
	require.Empty(t, ratings.outcomes())
}

func TestJudgeMatchGraderFailureUsesDefaults(t *testing.T) {
	ratings := &recordingRatings{}
	grader := &fixedGrader{err: errors.New("ai service down")}
	p := NewPipeline(echoExec(), grader, ratings, testLimits())

	v := p.JudgeMatch(context.Background(), identityRequest())
	require.False(t, v.Fallback)
	// 5/10 on both axes: half of each band.
	require.Equal(t, 100.0, v.Player1.Quality)
	require.Equal(t, 50.0, v.Player1.Creativity)
}

func TestJudgeMatchRatingFailureKeepsVerdict(t *testing.T) {
	ratings := &recordingRatings{fail: errors.New("db down")}
	grader := &fixedGrader{res: &QualityResult{Quality: 5, Creativity: 5}}
	p := NewPipeline(echoExec(), grader, ratings, testLimits())

	v := p.JudgeMatch(context.Background(), identityRequest())
	require.Equal(t, "p1", v.WinnerID)
	require.Zero(t, v.Player1Delta)
	require.Zero(t, v.Player1NewRating)
}

func TestRunTestsVisibleOnly(t *testing.T) {
	p := NewPipeline(echoExec(), &fixedGrader{}, &recordingRatings{}, testLimits())

	report, err := p.RunTests(context.Background(), "solid", "javascript", identityTests())
	require.NoError(t, err)
	require.Equal(t, 1, report.Total)
	require.Equal(t, 1, report.Passed)
	require.Len(t, report.Results, 1)
	require.Equal(t, `[1,2]`, report.Results[0].Actual)
}

func TestExecuteCaseTimeout(t *testing.T) {
	limits := testLimits()
	exec := &scriptedExec{fn: func(req ExecRequest) (*ExecResult, error) {
		return nil, context.DeadlineExceeded
	}}
	p := NewPipeline(exec, &fixedGrader{}, &recordingRatings{}, limits)

	out := p.executeCase(context.Background(), Submission{Code: "x"}, TestCase{Ordinal: 1, Input: "[]", Expected: "[]"})
	require.True(t, out.TimedOut)
	require.False(t, out.Passed)
	require.Equal(t, int(limits.PerCase/time.Millisecond), out.TimeMs)
	require.Equal(t, "time limit exceeded", out.Error)
}

func TestExecuteCaseCrash(t *testing.T) {
	exec := &scriptedExec{fn: func(req ExecRequest) (*ExecResult, error) {
		return &ExecResult{Stdout: "", Stderr: "boom", ExitCode: 1, ExecutionTimeMs: 3}, nil
	}}
	p := NewPipeline(exec, &fixedGrader{}, &recordingRatings{}, testLimits())

	out := p.executeCase(context.Background(), Submission{Code: "x"}, TestCase{Ordinal: 1, Input: "[]", Expected: "[]"})
	require.False(t, out.Passed)
	require.Equal(t, "non-zero exit", out.Error)
	require.Equal(t, "boom", out.Stderr)
}
