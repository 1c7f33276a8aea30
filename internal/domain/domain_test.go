package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "5511987654321", NormalizePhone("(11) 98765-4321"))
	assert.Equal(t, "5511987654321", NormalizePhone("+55 11 98765-4321"))
	assert.Equal(t, "", NormalizePhone("abc"))
}

func TestSessionPatchPresence(t *testing.T) {
	var p SessionPatch
	require.NoError(t, json.Unmarshal([]byte(`{"auto_reply":false,"proxy_id":null}`), &p))

	assert.True(t, p.AutoReply.Set)
	assert.False(t, p.AutoReply.Value)
	assert.True(t, p.ProxyID.Set)
	assert.Nil(t, p.ProxyID.Value)
	assert.False(t, p.Name.Set)

	cols := p.Columns()
	assert.Len(t, cols, 2)
	assert.Contains(t, cols, "proxy_id")
	assert.NotContains(t, cols, "name")
}

func TestLeadPatchNeverTouchesStage(t *testing.T) {
	var p LeadPatch
	require.NoError(t, json.Unmarshal([]byte(`{"email":"a@b.co","stage":"completed"}`), &p))
	cols := p.Columns()
	assert.Equal(t, map[string]any{"email": "a@b.co"}, cols)
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, CampaignCompleted.Terminal())
	assert.False(t, CampaignPaused.Terminal())
	assert.True(t, StageCancelled.Terminal())
	assert.False(t, StageReviewingData.Terminal())
}
