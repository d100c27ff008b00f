package job

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/easyjob/errors"
)

func TestDefaultDefinition(t *testing.T) {
	impl := Implementation{Class: "demo.Echo", Package: "demo", Name: "Echo"}

	def := DefaultDefinition(100001, impl)

	assert.Equal(t, 100001, def.JobId)
	assert.Equal(t, "This is Echo", def.Description)
	assert.Equal(t, 1, def.Disabled, "new definitions start disabled")
	assert.False(t, def.Enabled())
	assert.Equal(t, "0 0 * * *", def.CronSpec())
	assert.Equal(t, StatusReady, def.Status)
	assert.Equal(t, "Echo:100001", def.Title())

	impl.Description = "Echoes its run id"
	assert.Equal(t, "Echoes its run id", DefaultDefinition(100001, impl).Description)
}

func TestDefinition_PersistedFieldNames(t *testing.T) {
	raw, err := json.Marshal(Definition{JobId: 100001, DayOfWeek: "1-5"})
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"JobId", "JobName", "JobClass", "Package", "Description", "Disabled",
		"Minute", "Hour", "DayOfMonth", "MonthOfYear", "DayOfWeek", "Status"} {
		assert.Contains(t, fields, key)
	}
}

func TestDefinition_CronSpecFillsBlanks(t *testing.T) {
	def := Definition{Minute: "*/5", Hour: " ", DayOfWeek: "1-5"}
	assert.Equal(t, "*/5 * * * 1-5", def.CronSpec())
}

func TestDefinition_Validate(t *testing.T) {
	assert.NoError(t, Definition{JobId: 1}.Validate())
	assert.True(t, errors.IsInvalidRequestError(Definition{JobId: 0}.Validate()))
	assert.True(t, errors.IsInvalidRequestError(Definition{JobId: 1, Disabled: 2}.Validate()))
}

func TestStatuses(t *testing.T) {
	// Both types share one persisted scale
	assert.Equal(t, 0, int(StatusDisabled))
	assert.Equal(t, 1, int(StatusReady))
	assert.Equal(t, 2, int(RunRunning))
	assert.Equal(t, 3, int(RunCompleted))
	assert.Equal(t, 4, int(RunFailed))

	assert.False(t, RunRunning.Terminal())
	assert.True(t, RunFailed.Terminal())
	assert.Equal(t, "COMPLETED", RunCompleted.String())
	assert.Equal(t, "RunStatus(9)", RunStatus(9).String())

	s, ok := ParseRunStatus("failed")
	assert.True(t, ok)
	assert.Equal(t, RunFailed, s)
	_, ok = ParseRunStatus("READY")
	assert.False(t, ok)
}

func TestTimeFormat_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 9, 7, 5, 1, 0, time.Local)
	s := FormatTime(now)
	assert.Equal(t, "2026-03-09 07:05:01", s)

	parsed, err := ParseTime(s)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(now))

	assert.Less(t, "2026-03-09 07:05:01", "2026-03-10 00:00:00", "timestamps sort lexicographically")
}

func TestNewRunRecord(t *testing.T) {
	def := Definition{JobId: 100001, JobName: "Echo", JobClass: "demo.Echo", Package: "demo", Description: "d"}
	rec := NewRunRecord(def, 100042, "2026-03-09 07:05:01")

	assert.Equal(t, RunRunning, rec.Status)
	assert.Empty(t, rec.EndTime)
	assert.Equal(t, "Echo", rec.JobName)
	assert.Equal(t, 100042, rec.RunId)
}
