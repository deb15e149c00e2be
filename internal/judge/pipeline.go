package judge

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/codeclash/backend/internal/metrics"
)

// Limits bounds the pipeline's external calls.
type Limits struct {
	PerCase   time.Duration // one sandbox run
	PerPlayer time.Duration // whole-submission sandbox budget
	Watchdog  time.Duration // the entire pipeline
}

// Pipeline judges finished matches: sandboxed execution of both
// submissions, score aggregation, hint penalties, Elo movement. It never
// strands a match; when something goes irrecoverably wrong it produces a
// fallback verdict instead of an error.
type Pipeline struct {
	exec    Executor
	grader  Grader
	ratings RatingUpdater
	limits  Limits
}

// NewPipeline wires the pipeline to its collaborators.
func NewPipeline(exec Executor, grader Grader, ratings RatingUpdater, limits Limits) *Pipeline {
	return &Pipeline{exec: exec, grader: grader, ratings: ratings, limits: limits}
}

// JudgeMatch runs the full pipeline under a global watchdog. The returned
// verdict is never nil: if the watchdog fires, it is a fallback with no
// winner, no scores and no rating movement.
func (p *Pipeline) JudgeMatch(ctx context.Context, req MatchRequest) *Verdict {
	start := time.Now()
	defer func() {
		metrics.JudgingDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, p.limits.Watchdog)
	defer cancel()

	done := make(chan *Verdict, 1)
	go func() {
		done <- p.judge(ctx, req)
	}()

	select {
	case v := <-done:
		v.DurationMs = time.Since(start).Milliseconds()
		return v
	case <-ctx.Done():
		log.Printf("[JUDGE] Watchdog fired for match %s after %s", req.MatchID, time.Since(start))
		v := p.fallbackVerdict(req, "judging timed out")
		v.DurationMs = time.Since(start).Milliseconds()
		return v
	}
}

func (p *Pipeline) judge(ctx context.Context, req MatchRequest) *Verdict {
	subs := [2]Submission{req.Player1, req.Player2}

	// Execute both submissions concurrently; each gets its own budget.
	var wg sync.WaitGroup
	var outcomes [2][]CaseOutcome
	for i := range subs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = p.executeAll(ctx, subs[i], req.Tests)
		}(i)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return p.fallbackVerdict(req, "judging timed out")
	}

	// Quality grading is also concurrent; a grader failure degrades to
	// the deterministic default verdict, not a fallback.
	var quality [2]*QualityResult
	for i := range subs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			quality[i] = p.grade(ctx, req, subs[i])
		}(i)
	}
	wg.Wait()

	mean1 := MeanCaseTimeMs(outcomes[0])
	mean2 := MeanCaseTimeMs(outcomes[1])
	baseline := (mean1 + mean2) / 2

	card1 := buildScorecard(subs[0], outcomes[0], mean1, baseline, quality[0])
	card2 := buildScorecard(subs[1], outcomes[1], mean2, baseline, quality[1])

	winnerID := ""
	switch {
	case card1.Final > card2.Final:
		winnerID = subs[0].PlayerID
	case card2.Final > card1.Final:
		winnerID = subs[1].PlayerID
	}

	v := &Verdict{
		MatchID:  req.MatchID,
		WinnerID: winnerID,
		Player1:  card1,
		Player2:  card2,
	}

	d1 := EloDelta(req.Player1Rating, req.Player2Rating, OutcomeFor(subs[0].PlayerID, winnerID))
	d2 := EloDelta(req.Player2Rating, req.Player1Rating, OutcomeFor(subs[1].PlayerID, winnerID))
	out := RatingOutcome{
		Player1ID:    subs[0].PlayerID,
		Player2ID:    subs[1].PlayerID,
		Player1Delta: d1,
		Player2Delta: d2,
		WinnerID:     winnerID,
	}
	if err := p.ratings.ApplyMatchOutcome(ctx, out); err != nil {
		// The verdict still stands; ratings just stay put.
		log.Printf("[JUDGE] Rating update failed for match %s: %v", req.MatchID, err)
	} else {
		v.Player1Delta = d1
		v.Player2Delta = d2
		v.Player1NewRating = req.Player1Rating + d1
		v.Player2NewRating = req.Player2Rating + d2
	}
	return v
}

// executeAll runs every test case in order under the per-player budget.
// A case that cannot run (sandbox error, budget exhausted) is recorded as
// failed rather than aborting the rest; partial results beat none.
func (p *Pipeline) executeAll(ctx context.Context, sub Submission, tests []TestCase) []CaseOutcome {
	ctx, cancel := context.WithTimeout(ctx, p.limits.PerPlayer)
	defer cancel()

	outcomes := make([]CaseOutcome, 0, len(tests))
	for _, tc := range tests {
		outcomes = append(outcomes, p.executeCase(ctx, sub, tc))
	}
	return outcomes
}

// executeCase runs one test in the sandbox and compares outputs. Hidden
// cases never expose input, expected or actual output in the outcome.
func (p *Pipeline) executeCase(ctx context.Context, sub Submission, tc TestCase) CaseOutcome {
	out := CaseOutcome{
		Ordinal: tc.Ordinal,
		Hidden:  tc.Hidden,
		Weight:  tc.Weight,
	}
	if !tc.Hidden {
		out.Input = tc.Input
		out.Expected = tc.Expected
	}

	if ctx.Err() != nil {
		out.Error = "submission budget exhausted"
		return out
	}

	caseCtx, cancel := context.WithTimeout(ctx, p.limits.PerCase)
	res, err := p.exec.Execute(caseCtx, ExecRequest{
		Language:  sub.Language,
		Code:      sub.Code,
		InputJSON: tc.Input,
		TimeoutMs: int(p.limits.PerCase / time.Millisecond),
	})
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.SandboxExecutions.WithLabelValues("timeout").Inc()
			out.TimedOut = true
			out.TimeMs = int(p.limits.PerCase / time.Millisecond)
			out.Error = "time limit exceeded"
		} else {
			metrics.SandboxExecutions.WithLabelValues("error").Inc()
			out.Error = err.Error()
		}
		return out
	}

	out.TimeMs = res.ExecutionTimeMs
	out.MemoryBytes = res.MemoryBytes
	out.Stderr = res.Stderr
	out.TimedOut = res.TimedOut
	if !tc.Hidden {
		out.Actual = res.Stdout
	}

	switch {
	case res.TimedOut:
		metrics.SandboxExecutions.WithLabelValues("timeout").Inc()
		out.Error = "time limit exceeded"
	case res.ExitCode != 0:
		metrics.SandboxExecutions.WithLabelValues("crash").Inc()
		out.Error = "non-zero exit"
	default:
		out.Passed = OutputsMatch(res.Stdout, tc.Expected)
		if out.Passed {
			metrics.SandboxExecutions.WithLabelValues("pass").Inc()
		} else {
			metrics.SandboxExecutions.WithLabelValues("fail").Inc()
		}
	}
	return out
}

// RunTests executes the visible test cases only, for mid-match runs.
func (p *Pipeline) RunTests(ctx context.Context, code, language string, tests []TestCase) (*RunReport, error) {
	ctx, cancel := context.WithTimeout(ctx, p.limits.PerPlayer)
	defer cancel()

	sub := Submission{Code: code, Language: language}
	report := &RunReport{Results: make([]CaseOutcome, 0, len(tests))}
	for _, tc := range tests {
		if tc.Hidden {
			continue
		}
		o := p.executeCase(ctx, sub, tc)
		report.Results = append(report.Results, o)
		report.Total++
		if o.Passed {
			report.Passed++
		}
	}
	return report, nil
}

// grade calls the AI grader, degrading to the deterministic default
// verdict on failure so the match still completes.
func (p *Pipeline) grade(ctx context.Context, req MatchRequest, sub Submission) *QualityResult {
	res, err := p.grader.AnalyzeCodeQuality(ctx, QualityRequest{
		Code:                 sub.Code,
		Language:             sub.Language,
		ChallengeTitle:       req.ChallengeTitle,
		ChallengeDescription: req.ChallengeDescription,
	})
	if err != nil {
		log.Printf("[JUDGE] Grader failed for player %s: %v (using defaults)", sub.PlayerID, err)
		return &QualityResult{Quality: DefaultQuality10, Creativity: DefaultCreativity10}
	}
	return res
}

func buildScorecard(sub Submission, outcomes []CaseOutcome, meanMs, baselineMs float64, q *QualityResult) *Scorecard {
	card := &Scorecard{
		PlayerID:    sub.PlayerID,
		Correctness: CorrectnessScore(outcomes),
		Efficiency:  EfficiencyScore(meanMs, baselineMs),
		Quality:     QualityPoints(q.Quality),
		Creativity:  CreativityPoints(q.Creativity),
		HintsUsed:   sub.HintsUsed,
		Feedback:    q.Feedback,
		TestResults: outcomes,
	}
	card.Total = round2(card.Correctness + card.Efficiency + card.Quality + card.Creativity)
	card.Final = ApplyHintPenalty(card.Total, sub.HintsUsed)
	return card
}

func (p *Pipeline) fallbackVerdict(req MatchRequest, reason string) *Verdict {
	return &Verdict{
		MatchID:        req.MatchID,
		Player1:        &Scorecard{PlayerID: req.Player1.PlayerID, HintsUsed: req.Player1.HintsUsed, TestResults: []CaseOutcome{}},
		Player2:        &Scorecard{PlayerID: req.Player2.PlayerID, HintsUsed: req.Player2.HintsUsed, TestResults: []CaseOutcome{}},
		Fallback:       true,
		FallbackReason: reason,
	}
}
