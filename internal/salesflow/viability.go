package salesflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/cache"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

const (
	ViabilityTTL         = 24 * time.Hour
	DefaultLookupTimeout = 10 * time.Second
	DefaultViaCEPURL     = "https://viacep.com.br/ws"
)

// Checker answers whether a (cep, number) address has coverage.
type Checker interface {
	Check(ctx context.Context, cep, number string) (domain.Viability, error)
}

// AddressLookup resolves a CEP to a street address. A nil address with a
// nil error means the CEP is unknown.
type AddressLookup interface {
	Lookup(ctx context.Context, cep string) (*domain.Address, error)
}

// SimulatedChecker grants coverage to CEPs whose first digit is 0 to 6.
// It stands in for the carrier API when none is configured.
type SimulatedChecker struct{}

func (SimulatedChecker) Check(_ context.Context, cep, _ string) (domain.Viability, error) {
	if cep == "" || cep[0] < '0' || cep[0] > '6' {
		return domain.Viability{
			Viable:  false,
			Message: "Infelizmente ainda não temos cobertura na sua região. Mas já estamos trabalhando para chegar até você! 🚧",
		}, nil
	}
	return domain.Viability{
		Viable:  true,
		Message: "Ótima notícia! Temos cobertura na sua região! 🎉",
		Address: &domain.Address{Street: "Rua Exemplo", Neighborhood: "Centro", City: "São Paulo", State: "SP"},
		Plans: []domain.Plan{
			{Type: domain.PlanInternet, Name: "TIM Ultrafibra 500MB", Price: 99.9, Description: "500MB de velocidade + Wi-Fi grátis"},
			{Type: domain.PlanInternet, Name: "TIM Ultrafibra 1GB", Price: 149.9, Description: "1GB de velocidade + Wi-Fi grátis"},
			{Type: domain.PlanCombo, Name: "TIM Ultrafibra 500MB + Saúde", Price: 139.9, Description: "500MB + Plano de Saúde Basic"},
			{Type: domain.PlanCombo, Name: "TIM Ultrafibra 1GB + Saúde Premium", Price: 199.9, Description: "1GB + Plano de Saúde Premium"},
		},
	}, nil
}

// APIChecker asks the carrier's viability endpoint.
type APIChecker struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewAPIChecker(baseURL, apiKey string, timeout time.Duration) *APIChecker {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &APIChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type viabilityRequest struct {
	CEP    string `json:"cep"`
	Number string `json:"number"`
}

type viabilityResponse struct {
	Viable         bool            `json:"viable"`
	Message        string          `json:"message"`
	Address        *domain.Address `json:"address"`
	AvailablePlans []domain.Plan   `json:"availablePlans"`
}

func (c *APIChecker) Check(ctx context.Context, cep, number string) (domain.Viability, error) {
	body, err := json.Marshal(viabilityRequest{CEP: cep, Number: number})
	if err != nil {
		return domain.Viability{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/viability", bytes.NewReader(body))
	if err != nil {
		return domain.Viability{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Viability{}, apperr.Transport(err, "viability request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Viability{}, apperr.Transport(nil, "viability api returned %d", resp.StatusCode)
	}

	var out viabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Viability{}, apperr.Transport(err, "decode viability response")
	}
	return domain.Viability{
		Viable:  out.Viable,
		Message: out.Message,
		Address: out.Address,
		Plans:   out.AvailablePlans,
	}, nil
}

// CachedChecker memoizes answers in the cache store for ViabilityTTL.
// Errors are never cached and cache failures fall through to next.
type CachedChecker struct {
	next  Checker
	store cache.Store
	log   *logrus.Entry
}

func NewCachedChecker(next Checker, store cache.Store, log *logrus.Entry) *CachedChecker {
	return &CachedChecker{next: next, store: store, log: log}
}

func viabilityKey(cep, number string) string {
	return cache.Key("viability", cep, number)
}

func (c *CachedChecker) Check(ctx context.Context, cep, number string) (domain.Viability, error) {
	key := viabilityKey(cep, number)
	var cached domain.Viability
	ok, err := cache.GetJSON(ctx, c.store, key, &cached)
	if err != nil {
		c.log.WithError(err).Warn("[SalesFlow] Viability cache read failed")
	}
	if ok {
		return cached, nil
	}

	v, err := c.next.Check(ctx, cep, number)
	if err != nil {
		return domain.Viability{}, err
	}
	if err := cache.SetJSON(ctx, c.store, key, v, ViabilityTTL); err != nil {
		c.log.WithError(err).Warn("[SalesFlow] Viability cache write failed")
	}
	return v, nil
}

// ViaCEP looks addresses up in the public ViaCEP service.
type ViaCEP struct {
	baseURL string
	client  *http.Client
}

func NewViaCEP(timeout time.Duration) *ViaCEP {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &ViaCEP{baseURL: DefaultViaCEPURL, client: &http.Client{Timeout: timeout}}
}

// WithBaseURL points the lookup at another host.
func (v *ViaCEP) WithBaseURL(u string) *ViaCEP {
	v.baseURL = strings.TrimRight(u, "/")
	return v
}

type viaCEPResponse struct {
	Logradouro string          `json:"logradouro"`
	Bairro     string          `json:"bairro"`
	Localidade string          `json:"localidade"`
	UF         string          `json:"uf"`
	Erro       json.RawMessage `json:"erro"`
}

func (v *ViaCEP) Lookup(ctx context.Context, cep string) (*domain.Address, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/json/", v.baseURL, cep), nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, apperr.Transport(err, "viacep request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusBadRequest {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Transport(nil, "viacep returned %d", resp.StatusCode)
	}

	var out viaCEPResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Transport(err, "decode viacep response")
	}
	// "erro" is true (or "true") for unknown CEPs.
	if e := strings.Trim(string(out.Erro), `"`); e == "true" {
		return nil, nil
	}
	return &domain.Address{
		Street:       out.Logradouro,
		Neighborhood: out.Bairro,
		City:         out.Localidade,
		State:        out.UF,
	}, nil
}
