package api

import "github.com/parleyhq/parley/pkg/models"

// Request bodies. External ids identify agents and organizations;
// meeting ids are path parameters.

type createOrganizationRequest struct {
	ExternalID string `json:"external_id" binding:"required"`
	Name       string `json:"name"`
}

type createAgentRequest struct {
	ExternalID string `json:"external_id" binding:"required"`
	Name       string `json:"name"`
}

type sendOneWayRequest struct {
	SenderID   string          `json:"sender_id" binding:"required"`
	Recipients []string        `json:"recipients" binding:"required"`
	Content    models.Document `json:"content"`
	Metadata   models.Document `json:"metadata"`
}

type sendConversationRequest struct {
	SenderID       string          `json:"sender_id" binding:"required"`
	RecipientID    string          `json:"recipient_id" binding:"required"`
	Content        models.Document `json:"content"`
	Metadata       models.Document `json:"metadata"`
	TimeoutSeconds int             `json:"timeout_seconds"`
}

type receiveRequest struct {
	ReceiverID     string `json:"receiver_id" binding:"required"`
	SenderID       string `json:"sender_id" binding:"required"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type endConversationRequest struct {
	AgentA string `json:"agent_a" binding:"required"`
	AgentB string `json:"agent_b" binding:"required"`
}

type createMeetingRequest struct {
	HostID              string   `json:"host_id" binding:"required"`
	Participants        []string `json:"participants" binding:"required"`
	TurnDurationSeconds int      `json:"turn_duration_seconds"`
}

type agentActionRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

type hostActionRequest struct {
	HostID string `json:"host_id" binding:"required"`
}

type speakRequest struct {
	AgentID     string          `json:"agent_id" binding:"required"`
	Content     models.Document `json:"content"`
	Metadata    models.Document `json:"metadata"`
	WaitForTurn bool            `json:"wait_for_turn"`
}
