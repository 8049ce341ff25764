package database

import "time"

// Usage is the model spend attributed to a run
type Usage struct {
	Tokens int64
	Cost   float64
}

// CaseRun is one stored execution of a case
type CaseRun struct {
	ID          int64
	CaseID      string
	Name        string
	Request     string
	Source      string
	Status      string
	Error       string
	StartedAt   *time.Time
	EndedAt     *time.Time
	Duration    time.Duration
	TotalSteps  int
	PassedSteps int
	FailedSteps int
	Usage       Usage
	CreatedAt   time.Time
}

// StepRun is one stored step of a run
type StepRun struct {
	ID          int64
	RunID       int64
	Index       int
	StepID      string
	Description string
	Code        string
	Status      string
	Result      string
	Error       string
	StartedAt   *time.Time
	EndedAt     *time.Time
	Duration    time.Duration
}

// Statistics aggregates all stored runs
type Statistics struct {
	TotalRuns int
	Completed int
	Failed    int
	Tokens    int64
	Cost      float64
}
