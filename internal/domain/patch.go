package domain

import "encoding/json"

// Optional carries a value together with whether it was provided at all,
// so a patch can tell "leave alone" apart from "set to zero".
type Optional[T any] struct {
	Value T
	Set   bool
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// UnmarshalJSON marks the field as present whenever the key appears,
// including an explicit null.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		var zero T
		o.Value = zero
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// SessionPatch updates operator-editable session settings.
type SessionPatch struct {
	Name         Optional[string]  `json:"name"`
	BatchLimit   Optional[int]     `json:"batch_limit"`
	ProxyID      Optional[*string] `json:"proxy_id"`
	AutoReply    Optional[bool]    `json:"auto_reply"`
	SystemPrompt Optional[string]  `json:"system_prompt"`
}

func (p SessionPatch) Columns() map[string]any {
	cols := map[string]any{}
	if p.Name.Set {
		cols["name"] = p.Name.Value
	}
	if p.BatchLimit.Set {
		cols["batch_limit"] = p.BatchLimit.Value
	}
	if p.ProxyID.Set {
		cols["proxy_id"] = p.ProxyID.Value
	}
	if p.AutoReply.Set {
		cols["auto_reply"] = p.AutoReply.Value
	}
	if p.SystemPrompt.Set {
		cols["system_prompt"] = p.SystemPrompt.Value
	}
	return cols
}

// LeadPatch corrects collected lead fields. The stage is never patchable.
type LeadPatch struct {
	FullName   Optional[string]  `json:"full_name"`
	Email      Optional[string]  `json:"email"`
	CPF        Optional[string]  `json:"cpf"`
	Complement Optional[*string] `json:"complement"`
	Street     Optional[string]  `json:"street"`
	Number     Optional[string]  `json:"number"`
}

func (p LeadPatch) Columns() map[string]any {
	cols := map[string]any{}
	if p.FullName.Set {
		cols["full_name"] = p.FullName.Value
	}
	if p.Email.Set {
		cols["email"] = p.Email.Value
	}
	if p.CPF.Set {
		cols["cpf"] = p.CPF.Value
	}
	if p.Complement.Set {
		cols["complement"] = p.Complement.Value
	}
	if p.Street.Set {
		cols["street"] = p.Street.Value
	}
	if p.Number.Set {
		cols["number"] = p.Number.Value
	}
	return cols
}

// CampaignPatch edits a campaign before it starts.
type CampaignPatch struct {
	Name        Optional[string]    `json:"name"`
	IntervalMin Optional[int]       `json:"interval_min"`
	IntervalMax Optional[int]       `json:"interval_max"`
	RiskLevel   Optional[RiskLevel] `json:"risk_level"`
}

func (p CampaignPatch) Columns() map[string]any {
	cols := map[string]any{}
	if p.Name.Set {
		cols["name"] = p.Name.Value
	}
	if p.IntervalMin.Set {
		cols["interval_min"] = p.IntervalMin.Value
	}
	if p.IntervalMax.Set {
		cols["interval_max"] = p.IntervalMax.Value
	}
	if p.RiskLevel.Set {
		cols["risk_level"] = p.RiskLevel.Value
	}
	return cols
}
