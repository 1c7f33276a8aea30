package domain

import "time"

type LeadStage string

const (
	StageInitial                LeadStage = "initial"
	StageAwaitingCEP            LeadStage = "awaiting_cep"
	StageAwaitingNumber         LeadStage = "awaiting_number"
	StageCheckingViability      LeadStage = "checking_viability"
	StageSelectingPlan          LeadStage = "selecting_plan"
	StageCollectingAddress      LeadStage = "collecting_address"
	StageCollectingPersonalData LeadStage = "collecting_personal_data"
	StageRequestingGeolocation  LeadStage = "requesting_geolocation"
	StageReviewingData          LeadStage = "reviewing_data"
	StageAwaitingAuthorization  LeadStage = "awaiting_authorization"
	StageCompleted              LeadStage = "completed"
	StageCancelled              LeadStage = "cancelled"
)

func (s LeadStage) Terminal() bool {
	return s == StageCompleted || s == StageCancelled
}

type PlanType string

const (
	PlanInternet   PlanType = "INTERNET"
	PlanHealthPlan PlanType = "HEALTH_PLAN"
	PlanCombo      PlanType = "COMBO"
)

type Plan struct {
	Type        PlanType `json:"type"`
	Name        string   `json:"name"`
	Price       float64  `json:"price"`
	Description string   `json:"description"`
}

type Address struct {
	Street       string `json:"street"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
}

// Viability is the coverage answer for one (cep, number) pair.
type Viability struct {
	Viable  bool     `json:"viable"`
	Message string   `json:"message,omitempty"`
	Address *Address `json:"address,omitempty"`
	Plans   []Plan   `json:"plans,omitempty"`
}

// SalesLead is one contact's progress through the sales flow.
type SalesLead struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	SessionID     string     `gorm:"size:36;not null;index:idx_lead_contact" json:"session_id"`
	Contact       string     `gorm:"size:32;not null;index:idx_lead_contact" json:"contact"`
	Stage         LeadStage  `gorm:"size:40;not null" json:"stage"`
	CEP           string     `gorm:"size:8" json:"cep,omitempty"`
	Number        string     `gorm:"size:20" json:"number,omitempty"`
	Street        string     `gorm:"size:255" json:"street,omitempty"`
	Neighborhood  string     `gorm:"size:255" json:"neighborhood,omitempty"`
	City          string     `gorm:"size:255" json:"city,omitempty"`
	State         string     `gorm:"size:2" json:"state,omitempty"`
	Complement    *string    `gorm:"size:255" json:"complement,omitempty"`
	Viability     *Viability `gorm:"serializer:json" json:"viability,omitempty"`
	Plan          *Plan      `gorm:"serializer:json" json:"plan,omitempty"`
	FullName      string     `gorm:"size:255" json:"full_name,omitempty"`
	CPF           string     `gorm:"size:11" json:"cpf,omitempty"`
	BirthDate     *time.Time `json:"birth_date,omitempty"`
	Email         string     `gorm:"size:255" json:"email,omitempty"`
	Latitude      *float64   `json:"latitude,omitempty"`
	Longitude     *float64   `json:"longitude,omitempty"`
	Authorization string     `gorm:"type:text" json:"authorization,omitempty"`
	AuthorizedAt  *time.Time `json:"authorized_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (SalesLead) TableName() string { return "sales_leads" }

// Turn is one role-tagged entry of a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)
