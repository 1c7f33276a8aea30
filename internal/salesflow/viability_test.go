package salesflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/cache"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
	"github.com/whatsapp-automation/orchestrator/internal/logging"
)

func TestSimulatedChecker(t *testing.T) {
	ctx := context.Background()
	v, err := SimulatedChecker{}.Check(ctx, "01310100", "1")
	require.NoError(t, err)
	assert.True(t, v.Viable)
	assert.Len(t, v.Plans, 4)

	v, err = SimulatedChecker{}.Check(ctx, "70040010", "1")
	require.NoError(t, err)
	assert.False(t, v.Viable)
	assert.Empty(t, v.Plans)
}

func TestCachedCheckerMemoizesAnswers(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemoryStore()
	next := &stubChecker{v: twoPlans}
	c := NewCachedChecker(next, mem, logging.Discard())

	for i := 0; i < 3; i++ {
		v, err := c.Check(ctx, "01310100", "123")
		require.NoError(t, err)
		assert.Equal(t, twoPlans, v)
	}
	assert.Equal(t, 1, next.count())

	_, err := c.Check(ctx, "01310100", "124")
	require.NoError(t, err)
	assert.Equal(t, 2, next.count())

	_, found, err := mem.Get(ctx, "viability:01310100:123")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCachedCheckerSkipsErrors(t *testing.T) {
	ctx := context.Background()
	next := &stubChecker{err: errors.New("boom")}
	c := NewCachedChecker(next, cache.NewMemoryStore(), logging.Discard())

	_, err := c.Check(ctx, "01310100", "123")
	require.Error(t, err)
	_, err = c.Check(ctx, "01310100", "123")
	require.Error(t, err)
	assert.Equal(t, 2, next.count())
}

func TestCachedCheckerExpiresAfterADay(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := cache.NewMemoryStore().WithClock(func() time.Time { return now })
	next := &stubChecker{v: twoPlans}
	c := NewCachedChecker(next, mem, logging.Discard())

	_, err := c.Check(ctx, "01310100", "123")
	require.NoError(t, err)
	now = now.Add(ViabilityTTL + time.Second)
	_, err = c.Check(ctx, "01310100", "123")
	require.NoError(t, err)
	assert.Equal(t, 2, next.count())
}

func TestAPIChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/viability", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req viabilityRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.CEP == "99999999" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		assert.Equal(t, "123", req.Number)
		_, _ = w.Write([]byte(`{"viable":true,"message":"ok","availablePlans":[{"type":"INTERNET","name":"Fibra","price":99.9,"description":"d"}]}`))
	}))
	defer srv.Close()

	c := NewAPIChecker(srv.URL+"/v1/", "secret", time.Second)
	v, err := c.Check(context.Background(), "01310100", "123")
	require.NoError(t, err)
	assert.True(t, v.Viable)
	require.Len(t, v.Plans, 1)
	assert.Equal(t, domain.Plan{Type: domain.PlanInternet, Name: "Fibra", Price: 99.9, Description: "d"}, v.Plans[0])

	_, err = c.Check(context.Background(), "99999999", "123")
	assert.True(t, apperr.Is(err, apperr.KindTransport))
}

func TestViaCEPLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/01310100/json/":
			_, _ = w.Write([]byte(`{"cep":"01310-100","logradouro":"Avenida Paulista","bairro":"Bela Vista","localidade":"São Paulo","uf":"SP"}`))
		case "/00000000/json/":
			_, _ = w.Write([]byte(`{"erro":"true"}`))
		case "/11111111/json/":
			_, _ = w.Write([]byte(`{"erro":true}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	lookup := NewViaCEP(time.Second).WithBaseURL(srv.URL + "/")
	ctx := context.Background()

	addr, err := lookup.Lookup(ctx, "01310100")
	require.NoError(t, err)
	assert.Equal(t, &domain.Address{Street: "Avenida Paulista", Neighborhood: "Bela Vista", City: "São Paulo", State: "SP"}, addr)

	for _, unknown := range []string{"00000000", "11111111"} {
		addr, err = lookup.Lookup(ctx, unknown)
		require.NoError(t, err)
		assert.Nil(t, addr)
	}

	_, err = lookup.Lookup(ctx, "22222222")
	assert.True(t, apperr.Is(err, apperr.KindTransport))
}
