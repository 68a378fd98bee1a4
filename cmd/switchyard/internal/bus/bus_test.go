package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectIsPerProject(t *testing.T) {
	assert.Equal(t, "switchyard.changes.web", Subject("web"))
	assert.NotEqual(t, Subject("web"), Subject("mobile"))
}

func TestChangeEventWireShape(t *testing.T) {
	ev := ChangeEvent{
		Action:         "flag_toggled",
		FlagKey:        "checkout",
		EnvironmentKey: "prod",
		Enabled:        true,
		Timestamp:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "flag_toggled", frame["action"])
	assert.Equal(t, "checkout", frame["flag_key"])
	assert.Equal(t, "prod", frame["environment"])
	assert.Equal(t, true, frame["enabled"])
	assert.Contains(t, frame, "timestamp")
}
