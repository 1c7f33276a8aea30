// Package domain holds the entities shared by the orchestrator's components.
package domain

import "time"

type SessionStatus string

const (
	SessionDisconnected SessionStatus = "disconnected"
	SessionConnecting   SessionStatus = "connecting"
	SessionConnected    SessionStatus = "connected"
	SessionError        SessionStatus = "error"
)

// DefaultBatchLimit is the number of sends after which a session rotates.
const DefaultBatchLimit = 50

// Session is one messaging account bound to the transport.
type Session struct {
	ID              string        `gorm:"primaryKey;size:36" json:"id"`
	Name            string        `gorm:"size:120;not null" json:"name"`
	Status          SessionStatus `gorm:"size:20;index;not null" json:"status"`
	Identity        string        `gorm:"size:64" json:"identity,omitempty"`
	PairingPayload  string        `gorm:"type:text" json:"pairing_payload,omitempty"`
	SendCount       int           `gorm:"not null;default:0" json:"send_count"`
	BatchLimit      int           `gorm:"not null;default:50" json:"batch_limit"`
	ProxyID         *string       `gorm:"size:36" json:"proxy_id,omitempty"`
	AutoReply       bool          `gorm:"not null;default:true" json:"auto_reply"`
	SystemPrompt    string        `gorm:"type:text" json:"system_prompt,omitempty"`
	LastError       string        `gorm:"type:text" json:"last_error,omitempty"`
	LastConnectedAt *time.Time    `json:"last_connected_at,omitempty"`
	LastRotationAt  *time.Time    `json:"last_rotation_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }

type ProxyProtocol string

const (
	ProtocolHTTP   ProxyProtocol = "http"
	ProtocolHTTPS  ProxyProtocol = "https"
	ProtocolSOCKS5 ProxyProtocol = "socks5"
)

type ProxyStatus string

const (
	ProxyActive   ProxyStatus = "active"
	ProxyInactive ProxyStatus = "inactive"
	ProxyTesting  ProxyStatus = "testing"
)

// ProxyEndpoint is one egress proxy with its health score.
type ProxyEndpoint struct {
	ID            string        `gorm:"primaryKey;size:36" json:"id"`
	Protocol      ProxyProtocol `gorm:"size:10;not null" json:"protocol"`
	Host          string        `gorm:"size:255;not null;uniqueIndex:idx_proxy_addr" json:"host"`
	Port          int           `gorm:"not null;uniqueIndex:idx_proxy_addr" json:"port"`
	Username      string        `gorm:"size:255;uniqueIndex:idx_proxy_addr" json:"username,omitempty"`
	Password      string        `gorm:"size:255" json:"-"`
	Label         string        `gorm:"size:120" json:"label,omitempty"`
	Status        ProxyStatus   `gorm:"size:20;not null" json:"status"`
	SuccessRate   float64       `gorm:"not null" json:"success_rate"`
	LatencyMs     int64         `gorm:"not null;default:0" json:"latency_ms"`
	UsageCount    int64         `gorm:"not null;default:0" json:"usage_count"`
	FailureCount  int64         `gorm:"not null;default:0" json:"failure_count"`
	Position      int64         `gorm:"not null;default:0" json:"-"`
	LastCheckedAt *time.Time    `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (ProxyEndpoint) TableName() string { return "proxies" }

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCancelled CampaignStatus = "cancelled"
	CampaignCompleted CampaignStatus = "completed"
)

// Terminal reports whether no further transition is possible.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCancelled || s == CampaignCompleted
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Campaign is a bulk send drained through one session.
type Campaign struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	Name        string         `gorm:"size:200;not null" json:"name"`
	SessionID   string         `gorm:"size:36;index;not null" json:"session_id"`
	TemplateID  *string        `gorm:"size:36" json:"template_id,omitempty"`
	Status      CampaignStatus `gorm:"size:20;index;not null" json:"status"`
	IntervalMin int            `gorm:"not null" json:"interval_min"`
	IntervalMax int            `gorm:"not null" json:"interval_max"`
	RiskLevel   RiskLevel      `gorm:"size:10;not null" json:"risk_level"`
	Total       int            `gorm:"not null;default:0" json:"total"`
	Sent        int            `gorm:"not null;default:0" json:"sent"`
	Failed      int            `gorm:"not null;default:0" json:"failed"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (Campaign) TableName() string { return "campaigns" }

type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

// CampaignMessage is one queued send of a campaign.
type CampaignMessage struct {
	ID         string        `gorm:"primaryKey;size:36" json:"id"`
	CampaignID string        `gorm:"size:36;not null;index:idx_campaign_queue,priority:1" json:"campaign_id"`
	Sequence   int           `gorm:"not null;index:idx_campaign_queue,priority:3" json:"sequence"`
	Contact    string        `gorm:"size:32;not null" json:"contact"`
	Name       string        `gorm:"size:200" json:"name,omitempty"`
	Body       string        `gorm:"type:text;not null" json:"body"`
	MediaURL   string        `gorm:"type:text" json:"media_url,omitempty"`
	Status     MessageStatus `gorm:"size:10;not null;index:idx_campaign_queue,priority:2" json:"status"`
	Error      string        `gorm:"type:text" json:"error,omitempty"`
	SentAt     *time.Time    `json:"sent_at,omitempty"`
	FailedAt   *time.Time    `json:"failed_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

func (CampaignMessage) TableName() string { return "campaign_messages" }

// Template is a reusable campaign body with {{var}} placeholders.
type Template struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	MediaURL  string    `gorm:"type:text" json:"media_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (Template) TableName() string { return "templates" }

// MessageLog is the durable record of every send and receipt.
type MessageLog struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID string    `gorm:"size:36;index;not null" json:"session_id"`
	Contact   string    `gorm:"size:32;index;not null" json:"contact"`
	FromMe    bool      `gorm:"not null" json:"from_me"`
	Body      string    `gorm:"type:text" json:"body"`
	MediaType string    `gorm:"size:40" json:"media_type,omitempty"`
	Status    string    `gorm:"size:20;not null" json:"status"`
	Error     string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (MessageLog) TableName() string { return "message_logs" }

// Media is a resolved attachment ready for upload.
type Media struct {
	Data     []byte
	MimeType string
}

// InboundMessage is a text event received on a session.
type InboundMessage struct {
	ID        string
	SessionID string
	Contact   string
	Text      string
	Timestamp time.Time
}
