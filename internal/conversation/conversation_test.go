package conversation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurn_JSONOmitsUnsetTimestamp(t *testing.T) {
	raw, err := json.Marshal(Turn{Role: RoleUser, Content: "my head hurts"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"my head hurts"}`, string(raw))

	raw, err = json.Marshal(UserTurn("my head hurts"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"at":`)
}

func TestTurn_ClientTurnWithoutTimestampDecodes(t *testing.T) {
	var got Log
	require.NoError(t, json.Unmarshal([]byte(`[{"role":"user","content":"tired"}]`), &got))
	require.Len(t, got, 1)
	assert.True(t, got[0].At.IsZero())
	assert.Equal(t, RoleUser, got[0].Role)
}
