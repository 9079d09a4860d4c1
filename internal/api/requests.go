package api

import (
	"encoding/json"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// bindJSON decodes the request body, folding decode failures into the
// VALIDATION kind so they render as 400 envelopes.
func bindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return types.Validationf("invalid request body: %v", err)
	}
	return nil
}

// bindOptionalJSON tolerates an absent body for actions whose fields are all
// optional, such as starting a mission with no acting specialist.
func bindOptionalJSON(c *gin.Context, dst interface{}) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	return bindJSON(c, dst)
}

// intQuery parses an integer query parameter, returning def when absent.
func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, types.Validationf("%s must be an integer", name)
	}
	return n, nil
}

// int64Query is intQuery for sequence positions.
func int64Query(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, types.Validationf("%s must be an integer", name)
	}
	return n, nil
}

// boolQuery treats 1/true/yes as set; anything else, including absence, is
// false.
func boolQuery(c *gin.Context, name string) bool {
	switch c.Query(name) {
	case "1", "true", "yes":
		return true
	}
	return false
}

type createMissionRequest struct {
	Title       string                 `json:"title"`
	Description *string                `json:"description"`
	Priority    types.Priority         `json:"priority"`
	CreatedBy   *string                `json:"created_by"`
	Metadata    map[string]interface{} `json:"metadata"`
}

type startMissionRequest struct {
	SpecialistID *string `json:"specialist_id"`
}

type reviewMissionRequest struct {
	SpecialistID *string `json:"specialist_id"`
}

type completeMissionRequest struct {
	Result       *string `json:"result"`
	SpecialistID *string `json:"specialist_id"`
}

type cancelMissionRequest struct {
	Reason       *string `json:"reason"`
	SpecialistID *string `json:"specialist_id"`
}

type createSortieRequest struct {
	MissionID   *string                `json:"mission_id"`
	Title       string                 `json:"title"`
	Description *string                `json:"description"`
	Priority    types.Priority         `json:"priority"`
	Files       []string               `json:"files"`
	CreatedBy   *string                `json:"created_by"`
	Metadata    map[string]interface{} `json:"metadata"`
}

type assignSortieRequest struct {
	SpecialistID string  `json:"specialist_id"`
	AssignedBy   *string `json:"assigned_by"`
}

type startSortieRequest struct {
	SpecialistID string `json:"specialist_id"`
}

type progressSortieRequest struct {
	Progress int     `json:"progress"`
	Notes    *string `json:"notes"`
}

type blockSortieRequest struct {
	Reason       string  `json:"reason"`
	SpecialistID *string `json:"specialist_id"`
}

type completeSortieRequest struct {
	Result       *string `json:"result"`
	SpecialistID *string `json:"specialist_id"`
}

type failSortieRequest struct {
	Reason string `json:"reason"`
}

type cancelSortieRequest struct {
	Reason *string `json:"reason"`
}

type registerSpecialistRequest struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Capabilities []string               `json:"capabilities"`
	Status       types.SpecialistStatus `json:"status"`
	Metadata     map[string]interface{} `json:"metadata"`
}

type heartbeatRequest struct {
	Status        *types.SpecialistStatus `json:"status"`
	CurrentSortie *string                 `json:"current_sortie"`
}

type acquireLockRequest struct {
	File         string            `json:"file"`
	SpecialistID string            `json:"specialist_id"`
	TimeoutMS    int64             `json:"timeout_ms"`
	Purpose      types.LockPurpose `json:"purpose"`
	Checksum     *string           `json:"checksum"`
}

type releaseLockRequest struct {
	SpecialistID string `json:"specialist_id"`
}

type forceReleaseLockRequest struct {
	Reason string `json:"reason"`
}

type extendLockRequest struct {
	SpecialistID string `json:"specialist_id"`
	AdditionalMS int64  `json:"additional_ms"`
}

type sendMessageRequest struct {
	MailboxID   string                 `json:"mailbox_id"`
	SenderID    *string                `json:"sender_id"`
	ThreadID    *string                `json:"thread_id"`
	MessageType string                 `json:"message_type"`
	Content     map[string]interface{} `json:"content"`
	Priority    types.MessagePriority  `json:"priority"`
}

type advanceCursorRequest struct {
	CursorID   string           `json:"cursor_id"`
	StreamType types.StreamType `json:"stream_type"`
	StreamID   string           `json:"stream_id"`
	Position   int64            `json:"position"`
	ConsumerID *string          `json:"consumer_id"`
}

// appendEventInput is one event in a POST /events batch. Causation and
// correlation ride in the body here, not the header: a batch may chain onto
// several different causes.
type appendEventInput struct {
	EventType     string           `json:"event_type"`
	StreamType    types.StreamType `json:"stream_type"`
	StreamID      string           `json:"stream_id"`
	Data          json.RawMessage  `json:"data"`
	CausationID   *string          `json:"causation_id"`
	CorrelationID *string          `json:"correlation_id"`
}

type appendEventsRequest struct {
	Events []appendEventInput `json:"events"`
}

type createCheckpointRequest struct {
	Trigger         types.CheckpointTrigger `json:"trigger"`
	TriggerDetails  *string                 `json:"trigger_details"`
	CreatedBy       string                  `json:"created_by"`
	ProgressPercent *int                    `json:"progress_percent"`
	TTLHours        *int                    `json:"ttl_hours"`
}
