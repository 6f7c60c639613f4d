package whoop

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRawCycleDetectsVersionAndExtras(t *testing.T) {
	var v1 RawCycle
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": 93845,
		"user_id": 10129,
		"start": "2025-03-01T07:00:00.000Z",
		"timezone_offset": "-05:00",
		"score_state": "SCORED",
		"score": {"strain": 12.5, "kilojoule": 8288.3, "average_heart_rate": 68, "max_heart_rate": 141},
		"beta_field": {"x": 1}
	}`), &v1))
	require.Equal(t, SchemaV1, v1.Version)
	require.Equal(t, FlexID("93845"), v1.ID)
	require.Nil(t, v1.End)
	require.Contains(t, v1.Extra, "beta_field")
	require.NotContains(t, v1.Extra, "score")
	require.InDelta(t, 12.5, *v1.Score.Strain, 1e-9)

	var v2 RawCycle
	require.NoError(t, json.Unmarshal([]byte(`{"id":"ecfc6a15-4661-442f-a9a4-f160dd7afae8","start":"2025-03-01T07:00:00Z","score_state":"SCORED"}`), &v2))
	require.Equal(t, SchemaV2, v2.Version)
	require.Equal(t, FlexID("ecfc6a15-4661-442f-a9a4-f160dd7afae8"), v2.ID)
	require.Empty(t, v2.Extra)
}

func TestRawRecoveryVersionFollowsSleepID(t *testing.T) {
	var rec RawRecovery
	require.NoError(t, json.Unmarshal([]byte(`{"cycle_id":93845,"sleep_id":"ecfc6a15-4661-442f-a9a4-f160dd7afae8","created_at":"2025-03-01T11:25:44Z","score_state":"SCORED"}`), &rec))
	require.Equal(t, SchemaV2, rec.Version)
	require.Equal(t, FlexID("93845"), rec.CycleID)
}

func TestFlexIDRejectsObjects(t *testing.T) {
	var id FlexID
	require.Error(t, json.Unmarshal([]byte(`{"nested":true}`), &id))
	require.NoError(t, json.Unmarshal([]byte(`null`), &id))
	require.Empty(t, id)
}
