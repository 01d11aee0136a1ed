package domain

import (
	"fmt"
	"strings"
	"time"
)

// TriggerKind enumerates supported schedule types.
type TriggerKind string

const (
	TriggerInterval TriggerKind = "interval"
	TriggerCron     TriggerKind = "cron"
	TriggerDate     TriggerKind = "date"
)

// Trigger describes when a job fires. Only the fields of its Kind are meaningful.
type Trigger struct {
	Kind TriggerKind `json:"kind" yaml:"kind"`

	// interval
	Seconds int `json:"seconds,omitempty" yaml:"seconds"`
	Minutes int `json:"minutes,omitempty" yaml:"minutes"`
	Hours   int `json:"hours,omitempty" yaml:"hours"`

	// cron; empty fields follow the significance rule of the scheduler
	Expression string `json:"expression,omitempty" yaml:"expression"`
	Month      string `json:"month,omitempty" yaml:"month"`
	Day        string `json:"day,omitempty" yaml:"day"`
	DayOfWeek  string `json:"day_of_week,omitempty" yaml:"dayOfWeek"`
	Hour       string `json:"hour,omitempty" yaml:"hour"`
	Minute     string `json:"minute,omitempty" yaml:"minute"`
	Second     string `json:"second,omitempty" yaml:"second"`

	// date
	RunAt time.Time `json:"run_at,omitempty" yaml:"runAt"`
}

// Interval returns the total interval duration.
func (t Trigger) Interval() time.Duration {
	return time.Duration(t.Hours)*time.Hour + time.Duration(t.Minutes)*time.Minute + time.Duration(t.Seconds)*time.Second
}

// String renders a compact human readable trigger description.
func (t Trigger) String() string {
	switch t.Kind {
	case TriggerInterval:
		return fmt.Sprintf("interval[%s]", t.Interval())
	case TriggerCron:
		if t.Expression != "" {
			return fmt.Sprintf("cron[%s]", t.Expression)
		}
		var parts []string
		for _, f := range []struct{ name, value string }{
			{"month", t.Month}, {"day", t.Day}, {"day_of_week", t.DayOfWeek},
			{"hour", t.Hour}, {"minute", t.Minute}, {"second", t.Second},
		} {
			if f.value != "" {
				parts = append(parts, fmt.Sprintf("%s='%s'", f.name, f.value))
			}
		}
		return fmt.Sprintf("cron[%s]", strings.Join(parts, ", "))
	case TriggerDate:
		return fmt.Sprintf("date[%s]", t.RunAt.Format(time.RFC3339))
	default:
		return string(t.Kind)
	}
}

// JobDefinition is the persisted scheduler state of one job id.
type JobDefinition struct {
	ID           string `badgerhold:"key"`
	Name         string
	Description  string
	FunctionName string
	Trigger      Trigger
	Args         map[string]string
	Enabled      bool
	MaxInstances int
	Coalesce     bool
	LastRun      *time.Time
	NextRun      *time.Time
	RunCount     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExecutionStatus enumerates job run states.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// JobExecution records one job invocation.
type JobExecution struct {
	ID          string `badgerhold:"key"`
	JobID       string
	JobName     string
	Status      ExecutionStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Duration    time.Duration
	Result      map[string]any
	Error       string
	Metadata    map[string]string
}

// JobResult is the structured outcome every job function returns.
type JobResult struct {
	Success         bool      `json:"success"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	Stats           any       `json:"stats,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// Finish stamps end time and duration.
func (r JobResult) Finish() JobResult {
	r.EndTime = time.Now()
	r.DurationSeconds = r.EndTime.Sub(r.StartTime).Seconds()
	return r
}

// Fail marks the result failed with the error message.
func (r JobResult) Fail(err error) JobResult {
	r.Success = false
	if err != nil {
		r.Error = err.Error()
	}
	return r.Finish()
}
