package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Validate(t *testing.T) {
	msg := New("agent-a", "agent-b", KindStatusUpdate, nil)
	assert.NoError(t, msg.Validate())

	msg.ID = ""
	assert.ErrorIs(t, msg.Validate(), ErrInvalidMessage)

	msg = New("", "agent-b", KindStatusUpdate, nil)
	assert.ErrorIs(t, msg.Validate(), ErrInvalidMessage)
}

func TestMessage_RequestsRequireResponse(t *testing.T) {
	req := New("agent-a", "agent-b", KindTaskRequest, nil)
	assert.True(t, req.RequiresResponse)
	assert.NoError(t, req.Validate())

	req.RequiresResponse = false
	assert.ErrorIs(t, req.Validate(), ErrInvalidMessage)

	collab := New("agent-a", "agent-b", KindCollaborationRequest, nil)
	assert.True(t, collab.RequiresResponse)
}

func TestMessage_Expiry(t *testing.T) {
	msg := New("agent-a", "agent-b", KindStatusUpdate, nil)
	assert.False(t, msg.Expired(), "no expiry means never expired")

	msg.WithExpiry(-time.Second)
	assert.True(t, msg.Expired())
	assert.ErrorIs(t, msg.Validate(), ErrExpired)
}

func TestMessage_CreateResponse(t *testing.T) {
	req := New("agent-a", "agent-b", KindTaskRequest, map[string]any{"ask": "run"})
	req.Priority = PriorityHigh

	resp := req.CreateResponse("agent-b", map[string]any{"ok": true})
	require.NotEqual(t, req.ID, resp.ID)
	assert.Equal(t, req.ID, resp.CorrelationID)
	assert.Equal(t, "agent-a", resp.Receiver)
	assert.Equal(t, "agent-b", resp.Sender)
	assert.Equal(t, KindTaskResponse, resp.Kind)
	assert.Equal(t, PriorityHigh, resp.Priority)
	assert.False(t, resp.RequiresResponse)

	collab := New("agent-a", "agent-b", KindCollaborationRequest, nil)
	assert.Equal(t, KindCollaborationResponse, collab.CreateResponse("agent-b", nil).Kind)
}
