package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthLogin         EventType = "auth.login"
	EventTypeAuthLoginFailed   EventType = "auth.login_failed"
	EventTypeAuthLogout        EventType = "auth.logout"
	EventTypeAuthRegister      EventType = "auth.register"
	EventTypeAuthVerifyEmail   EventType = "auth.verify_email"
	EventTypeAuthPasswordReset EventType = "auth.password_reset"
	EventTypeAuthTokenRefresh  EventType = "auth.token_refresh"

	// Authorization events
	EventTypeAuthzAccessDenied EventType = "authz.access_denied"
	EventTypeAuthzRoleChange   EventType = "authz.role_change"

	// Data mutation events
	EventTypeDataPermissionCreate EventType = "data.permission_create"
	EventTypeDataPermissionUpdate EventType = "data.permission_update"
	EventTypeDataPermissionDelete EventType = "data.permission_delete"
	EventTypeDataRoleCreate       EventType = "data.role_create"
	EventTypeDataRoleUpdate       EventType = "data.role_update"
	EventTypeDataRoleDelete       EventType = "data.role_delete"
	EventTypeDataSessionCreate    EventType = "data.session_create"
	EventTypeDataSessionUpdate    EventType = "data.session_update"
	EventTypeDataSessionDelete    EventType = "data.session_delete"
	EventTypeDataTestCreate       EventType = "data.test_create"
	EventTypeDataTestUpdate       EventType = "data.test_update"
	EventTypeDataTestDelete       EventType = "data.test_delete"
	EventTypeDataAnswerSubmit     EventType = "data.answer_submit"
	EventTypeDataAnswerDelete     EventType = "data.answer_delete"
	EventTypeDataFileUpload       EventType = "data.file_upload"
	EventTypeDataProfileUpdate    EventType = "data.profile_update"

	// Admin events
	EventTypeAdminUserCreate   EventType = "admin.user_create"
	EventTypeAdminUserUpdate   EventType = "admin.user_update"
	EventTypeAdminUserDelete   EventType = "admin.user_delete"
	EventTypeAdminUserActivate EventType = "admin.user_activate"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceTypeUser       ResourceType = "user"
	ResourceTypeRole       ResourceType = "role"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeSession    ResourceType = "session"
	ResourceTypeTest       ResourceType = "test"
	ResourceTypeAnswer     ResourceType = "answer"
	ResourceTypeFile       ResourceType = "file"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}
