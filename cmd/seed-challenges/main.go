package main

import (
	"encoding/json"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/codeclash/backend/internal/config"
	"github.com/codeclash/backend/internal/database"
)

type seedCase struct {
	Input    string
	Expected string
	Hidden   bool
	Weight   int
}

type seedChallenge struct {
	Title            string
	Description      string
	Difficulty       string
	TimeLimitSeconds int
	StarterCode      map[string]string
	Cases            []seedCase
}

var challenges = []seedChallenge{
	{
		Title: "Two Sum",
		Description: "Given an array of integers nums and an integer target, return the " +
			"indices of the two numbers that add up to target. Each input has exactly one " +
			"solution, and you may not use the same element twice. Return the indices in " +
			"ascending order.",
		Difficulty:       "easy",
		TimeLimitSeconds: 600,
		StarterCode: map[string]string{
			"javascript": "function twoSum(nums, target) {\n  // ...\n}\n\nmodule.exports = twoSum;\n",
			"python":     "def two_sum(nums, target):\n    pass\n",
		},
		Cases: []seedCase{
			{Input: `{"nums": [2, 7, 11, 15], "target": 9}`, Expected: `[0, 1]`, Weight: 1},
			{Input: `{"nums": [3, 2, 4], "target": 6}`, Expected: `[1, 2]`, Weight: 1},
			{Input: `{"nums": [3, 3], "target": 6}`, Expected: `[0, 1]`, Hidden: true, Weight: 2},
			{Input: `{"nums": [-1, -2, -3, -4, -5], "target": -8}`, Expected: `[2, 4]`, Hidden: true, Weight: 2},
		},
	},
	{
		Title: "Valid Parentheses",
		Description: "Given a string containing only the characters '(', ')', '{', '}', '[' " +
			"and ']', determine if the input string is valid. A string is valid when every " +
			"opening bracket is closed by the same type of bracket in the correct order.",
		Difficulty:       "easy",
		TimeLimitSeconds: 600,
		StarterCode: map[string]string{
			"javascript": "function isValid(s) {\n  // ...\n}\n\nmodule.exports = isValid;\n",
			"python":     "def is_valid(s):\n    pass\n",
		},
		Cases: []seedCase{
			{Input: `{"s": "()[]{}"}`, Expected: `true`, Weight: 1},
			{Input: `{"s": "(]"}`, Expected: `false`, Weight: 1},
			{Input: `{"s": "([)]"}`, Expected: `false`, Hidden: true, Weight: 2},
			{Input: `{"s": ""}`, Expected: `true`, Hidden: true, Weight: 1},
		},
	},
	{
		Title: "Merge Intervals",
		Description: "Given an array of intervals where intervals[i] = [start, end], merge " +
			"all overlapping intervals and return an array of the non-overlapping intervals " +
			"that cover all the intervals in the input, sorted by start.",
		Difficulty:       "medium",
		TimeLimitSeconds: 900,
		StarterCode: map[string]string{
			"javascript": "function merge(intervals) {\n  // ...\n}\n\nmodule.exports = merge;\n",
			"python":     "def merge(intervals):\n    pass\n",
		},
		Cases: []seedCase{
			{Input: `{"intervals": [[1, 3], [2, 6], [8, 10], [15, 18]]}`, Expected: `[[1, 6], [8, 10], [15, 18]]`, Weight: 1},
			{Input: `{"intervals": [[1, 4], [4, 5]]}`, Expected: `[[1, 5]]`, Weight: 1},
			{Input: `{"intervals": [[1, 4], [0, 4]]}`, Expected: `[[0, 4]]`, Hidden: true, Weight: 2},
			{Input: `{"intervals": [[5, 5], [1, 3], [3, 4]]}`, Expected: `[[1, 4], [5, 5]]`, Hidden: true, Weight: 3},
		},
	},
	{
		Title: "Longest Increasing Subsequence",
		Description: "Given an integer array nums, return the length of the longest strictly " +
			"increasing subsequence. A subsequence keeps the relative order of elements but " +
			"need not be contiguous. Aim for better than quadratic time on large inputs.",
		Difficulty:       "hard",
		TimeLimitSeconds: 1200,
		StarterCode: map[string]string{
			"javascript": "function lengthOfLIS(nums) {\n  // ...\n}\n\nmodule.exports = lengthOfLIS;\n",
			"python":     "def length_of_lis(nums):\n    pass\n",
		},
		Cases: []seedCase{
			{Input: `{"nums": [10, 9, 2, 5, 3, 7, 101, 18]}`, Expected: `4`, Weight: 1},
			{Input: `{"nums": [0, 1, 0, 3, 2, 3]}`, Expected: `4`, Weight: 1},
			{Input: `{"nums": [7, 7, 7, 7]}`, Expected: `1`, Hidden: true, Weight: 2},
			{Input: `{"nums": []}`, Expected: `0`, Hidden: true, Weight: 1},
		},
	},
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	seeded := 0
	for _, ch := range challenges {
		inserted, err := seedOne(db, ch)
		if err != nil {
			log.Fatalf("Failed to seed challenge %q: %v", ch.Title, err)
		}
		if inserted {
			seeded++
			log.Printf("✓ Seeded %q (%s, %d test cases)", ch.Title, ch.Difficulty, len(ch.Cases))
		} else {
			log.Printf("- Skipped %q (already present)", ch.Title)
		}
	}

	log.Printf("Done: %d new challenge(s), %d total in catalog", seeded, len(challenges))
}

// seedOne inserts a challenge and its test cases unless a challenge with
// the same title already exists. Returns whether anything was inserted.
func seedOne(db *sqlx.DB, ch seedChallenge) (bool, error) {
	var existing int
	if err := db.Get(&existing, `SELECT COUNT(*) FROM challenges WHERE title = $1`, ch.Title); err != nil {
		return false, err
	}
	if existing > 0 {
		return false, nil
	}

	starter, err := json.Marshal(ch.StarterCode)
	if err != nil {
		return false, err
	}

	tx, err := db.Beginx()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var challengeID string
	err = tx.Get(&challengeID, `
		INSERT INTO challenges (title, description, difficulty, time_limit_seconds, starter_code, published)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING id`,
		ch.Title, ch.Description, ch.Difficulty, ch.TimeLimitSeconds, starter)
	if err != nil {
		return false, err
	}

	for i, tc := range ch.Cases {
		weight := tc.Weight
		if weight < 1 {
			weight = 1
		}
		_, err = tx.Exec(`
			INSERT INTO test_cases (challenge_id, ordinal, input, expected_output, hidden, weight)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			challengeID, i+1, tc.Input, tc.Expected, tc.Hidden, weight)
		if err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
