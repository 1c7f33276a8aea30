package salesflow

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

const (
	birthLayout   = "02/01/2006"
	skipLocation  = "pular"
	noComplement  = "sem complemento"
	reviewConfirm = "1"
	reviewCorrect = "2"
)

var (
	birthPattern     = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
	affirmativeWords = []string{"sim", "autorizo", "aceito", "concordo", "confirmo"}
)

func trim(s string) string {
	return strings.TrimSpace(s)
}

func (e *Engine) greet(_ context.Context, lead *domain.SalesLead, _ string) (string, bool, error) {
	lead.Stage = domain.StageAwaitingCEP
	return msgWelcome, true, nil
}

func (e *Engine) takeCEP(_ context.Context, lead *domain.SalesLead, input string) (string, bool, error) {
	cep := domain.Digits(input)
	if len(cep) != 8 {
		return msgInvalidCEP, false, nil
	}
	lead.CEP = cep
	lead.Stage = domain.StageAwaitingNumber
	return cepAccepted(cep), true, nil
}

func (e *Engine) takeNumber(ctx context.Context, lead *domain.SalesLead, input string) (string, bool, error) {
	number := domain.Digits(input)
	if number == "" {
		return msgInvalidNumber, false, nil
	}
	lead.Number = number
	lead.Stage = domain.StageCheckingViability
	if err := e.repo.SaveLead(ctx, lead); err != nil {
		return "", false, err
	}
	return e.checkViability(ctx, lead)
}

// recheckViability resumes a lead left mid-check, using its stored address.
func (e *Engine) recheckViability(ctx context.Context, lead *domain.SalesLead, _ string) (string, bool, error) {
	if lead.Number == "" {
		lead.Stage = domain.StageAwaitingNumber
		return msgInvalidNumber, true, nil
	}
	return e.checkViability(ctx, lead)
}

func (e *Engine) checkViability(ctx context.Context, lead *domain.SalesLead) (string, bool, error) {
	v, err := e.checker.Check(ctx, lead.CEP, lead.Number)
	if err != nil {
		e.log.WithError(err).WithField("lead", lead.ID).Warn("[SalesFlow] Viability check failed")
		lead.Stage = domain.StageAwaitingNumber
		return msgViabilityDown, true, nil
	}
	lead.Viability = &v
	if !v.Viable {
		lead.Stage = domain.StageCancelled
		return notViable(v), true, nil
	}

	addr := e.lookupAddress(ctx, lead.CEP)
	if addr == nil {
		addr = v.Address
	}
	if addr != nil {
		lead.Street = addr.Street
		lead.Neighborhood = addr.Neighborhood
		lead.City = addr.City
		lead.State = addr.State
	}
	lead.Stage = domain.StageSelectingPlan
	return viableOffer(lead), true, nil
}

func (e *Engine) lookupAddress(ctx context.Context, cep string) *domain.Address {
	if e.addresses == nil {
		return nil
	}
	addr, err := e.addresses.Lookup(ctx, cep)
	if err != nil {
		e.log.WithError(err).Debugf("[SalesFlow] Address lookup for %s failed", cep)
		return nil
	}
	return addr
}

func (e *Engine) takePlan(_ context.Context, lead *domain.SalesLead, input string) (string, bool, error) {
	var plans []domain.Plan
	if lead.Viability != nil {
		plans = lead.Viability.Plans
	}
	n, err := strconv.Atoi(input)
	if err != nil || n < 1 || n > len(plans) {
		return msgInvalidPlan, false, nil
	}
	plan := plans[n-1]
	lead.Plan = &plan
	lead.Stage = domain.StageCollectingAddress
	return planChosen(plan), true, nil
}

func (e *Engine) takeComplement(_ context.Context, lead *domain.SalesLead, input string) (string, bool, error) {
	if input == "" || strings.EqualFold(input, noComplement) {
		lead.Complement = nil
	} else {
		c := input
		lead.Complement = &c
	}
	lead.Stage = domain.StageCollectingPersonalData
	return msgPersonalData, true, nil
}

// takePersonalData fills name, CPF, birth date and email in that order,
// one field per message.
func (e *Engine) takePersonalData(_ context.Context, lead *domain.SalesLead, input string) (string, bool, error) {
	switch {
	case lead.FullName == "":
		if input == "" {
			return msgInvalidName, false, nil
		}
		lead.FullName = input
		return nameAccepted(input), true, nil

	case lead.CPF == "":
		cpf := domain.Digits(input)
		if len(cpf) != 11 {
			return msgInvalidCPF, false, nil
		}
		lead.CPF = cpf
		return "✅ CPF registrado!\n\n" + msgAskBirth, true, nil

	case lead.BirthDate == nil:
		if !birthPattern.MatchString(input) {
			return msgInvalidBirth, false, nil
		}
		birth, err := time.Parse(birthLayout, input)
		if err != nil {
			return msgInvalidBirth, false, nil
		}
		lead.BirthDate = &birth
		return "✅ Data de nascimento registrada!\n\n" + msgAskEmail, true, nil

	default:
		if !emailPattern.MatchString(input) {
			return msgInvalidEmail, false, nil
		}
		lead.Email = input
		lead.Stage = domain.StageRequestingGeolocation
		return "✅ E-mail registrado!\n\n" + msgGeolocation, true, nil
	}
}

// takeLocation never blocks: coordinates are stored when the input parses
// as "lat,lng" and anything else moves on without them.
func (e *Engine) takeLocation(_ context.Context, lead *domain.SalesLead, input string) (string, bool, error) {
	if !strings.EqualFold(input, skipLocation) {
		if lat, lng, ok := parseCoordinates(input); ok {
			lead.Latitude, lead.Longitude = &lat, &lng
		}
	}
	lead.Stage = domain.StageReviewingData
	return review(lead), true, nil
}

func parseCoordinates(s string) (float64, float64, bool) {
	latText, lngText, found := strings.Cut(s, ",")
	if !found {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(trim(latText), 64)
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, false
	}
	lng, err := strconv.ParseFloat(trim(lngText), 64)
	if err != nil || lng < -180 || lng > 180 {
		return 0, 0, false
	}
	return lat, lng, true
}

func (e *Engine) takeReview(_ context.Context, lead *domain.SalesLead, input string) (string, bool, error) {
	switch input {
	case reviewConfirm:
		lead.Stage = domain.StageAwaitingAuthorization
		return authorizationTerm(lead), true, nil
	case reviewCorrect:
		lead.FullName = ""
		lead.CPF = ""
		lead.BirthDate = nil
		lead.Email = ""
		lead.Stage = domain.StageCollectingPersonalData
		return msgCorrection, true, nil
	default:
		return msgInvalidReview, false, nil
	}
}

func (e *Engine) takeAuthorization(_ context.Context, lead *domain.SalesLead, input string) (string, bool, error) {
	if !authorizes(input) {
		return msgAuthorizationNeeded, false, nil
	}
	now := e.now()
	lead.Authorization = input
	lead.AuthorizedAt = &now
	lead.CompletedAt = &now
	lead.Stage = domain.StageCompleted
	return thankYou(lead), true, nil
}

func authorizes(input string) bool {
	lower := strings.ToLower(input)
	for _, w := range affirmativeWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// prompt is the question a lead is waiting on, used when a flow is resumed.
func (e *Engine) prompt(lead *domain.SalesLead) string {
	switch lead.Stage {
	case domain.StageAwaitingCEP:
		return msgWelcome
	case domain.StageAwaitingNumber:
		return cepAccepted(lead.CEP)
	case domain.StageSelectingPlan:
		if lead.Viability != nil {
			return viableOffer(lead)
		}
	case domain.StageCollectingAddress:
		return msgComplement
	case domain.StageCollectingPersonalData:
		switch {
		case lead.FullName == "":
			return msgPersonalData
		case lead.CPF == "":
			return msgAskCPF
		case lead.BirthDate == nil:
			return msgAskBirth
		default:
			return msgAskEmail
		}
	case domain.StageRequestingGeolocation:
		return msgGeolocation
	case domain.StageReviewingData:
		return review(lead)
	case domain.StageAwaitingAuthorization:
		return authorizationTerm(lead)
	}
	return msgWelcome
}
