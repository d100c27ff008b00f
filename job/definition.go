// Package job holds the persisted job model and the contract job bodies
// implement.
package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/teranos/easyjob/errors"
)

// TimeFormat is the persisted timestamp layout. Local time; sorts
// lexicographically in chronological order.
const TimeFormat = "2006-01-02 15:04:05"

// Now returns the current local time in TimeFormat.
func Now() string {
	return FormatTime(time.Now())
}

// FormatTime renders t in local time using TimeFormat.
func FormatTime(t time.Time) string {
	return t.Local().Format(TimeFormat)
}

// ParseTime parses a persisted timestamp in the local time zone.
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeFormat, s, time.Local)
}

// Definition is a persisted job: identity, cron fields and enablement.
// Stored in the Job collection keyed by JobId.
type Definition struct {
	JobId       int              `json:"JobId"`
	JobName     string           `json:"JobName"`
	JobClass    string           `json:"JobClass"`
	Package     string           `json:"Package"`
	Description string           `json:"Description"`
	Disabled    int              `json:"Disabled"` // 0 enabled, 1 disabled
	Minute      string           `json:"Minute"`
	Hour        string           `json:"Hour"`
	DayOfMonth  string           `json:"DayOfMonth"`
	MonthOfYear string           `json:"MonthOfYear"`
	DayOfWeek   string           `json:"DayOfWeek"`
	Status      DefinitionStatus `json:"Status"`
}

// KeyJobID is the key field of the Job collection.
const KeyJobID = "JobId"

// DefaultDefinition is what registry reconciliation writes for a job id the
// store has never seen: disabled, daily at midnight.
func DefaultDefinition(jobID int, impl Implementation) Definition {
	description := impl.Description
	if description == "" {
		description = "This is " + impl.Name
	}
	return Definition{
		JobId:       jobID,
		JobName:     impl.Name,
		JobClass:    impl.Class,
		Package:     impl.Package,
		Description: description,
		Disabled:    1,
		Minute:      "0",
		Hour:        "0",
		DayOfMonth:  "*",
		MonthOfYear: "*",
		DayOfWeek:   "*",
		Status:      StatusReady,
	}
}

// Enabled reports whether the scheduler should install a trigger.
func (d Definition) Enabled() bool {
	return d.Disabled == 0
}

// CronSpec renders the five cron fields as a standard cron expression.
func (d Definition) CronSpec() string {
	fields := []string{d.Minute, d.Hour, d.DayOfMonth, d.MonthOfYear, d.DayOfWeek}
	for i, f := range fields {
		if strings.TrimSpace(f) == "" {
			fields[i] = "*"
		}
	}
	return strings.Join(fields, " ")
}

// Title is used for notifications and log lines: "<JobName>:<JobId>".
func (d Definition) Title() string {
	return fmt.Sprintf("%s:%d", d.JobName, d.JobId)
}

// Validate checks the fields a definition cannot do without.
func (d Definition) Validate() error {
	if d.JobId <= 0 {
		return errors.NewInvalidRequestError("JobId must be positive, got %d", d.JobId)
	}
	if d.Disabled != 0 && d.Disabled != 1 {
		return errors.NewInvalidRequestError("Disabled must be 0 or 1, got %d", d.Disabled)
	}
	return nil
}
