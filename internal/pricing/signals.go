// Package pricing consumes the external pricing/risk scoring service as an
// opaque numeric input. The billing core never depends on how the scores
// were produced.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/broadbandx/billing/pkg/errdefs"
	"go.uber.org/zap"
)

// Signals are the optional numeric inputs to the dynamic price step.
// DemandFactor and ChurnRisk are in [0,1]; Elasticity in [-1,1]. The zero
// value disables the adjustment.
type Signals struct {
	DemandFactor float64 `json:"demand_factor"`
	Elasticity   float64 `json:"elasticity"`
	ChurnRisk    float64 `json:"churn_risk"`
}

type SignalSource interface {
	Signals(ctx context.Context, customerID string) (Signals, error)
}

// NoopSource returns zero signals; used when no pricing service is
// configured.
type NoopSource struct{}

func (NoopSource) Signals(ctx context.Context, customerID string) (Signals, error) {
	return Signals{}, nil
}

// HTTPSource fetches signals from the scoring service with a bounded
// timeout. Failures degrade to zero signals upstream; they never block a
// billing operation.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewHTTPSource(baseURL string, log *zap.Logger) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Second},
		log:     log.Named("pricing.source"),
	}
}

func (s *HTTPSource) Signals(ctx context.Context, customerID string) (Signals, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/signals/"+customerID, nil)
	if err != nil {
		return Signals{}, fmt.Errorf("%w: build pricing request: %v", errdefs.ErrExternalService, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Signals{}, fmt.Errorf("%w: pricing service: %v", errdefs.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Signals{}, fmt.Errorf("%w: pricing service status %d", errdefs.ErrExternalService, resp.StatusCode)
	}

	var signals Signals
	if err := json.NewDecoder(resp.Body).Decode(&signals); err != nil {
		return Signals{}, fmt.Errorf("%w: decode pricing response: %v", errdefs.ErrExternalService, err)
	}
	return clamp(signals), nil
}

func clamp(s Signals) Signals {
	s.DemandFactor = clampRange(s.DemandFactor, 0, 1)
	s.ChurnRisk = clampRange(s.ChurnRisk, 0, 1)
	s.Elasticity = clampRange(s.Elasticity, -1, 1)
	return s
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
