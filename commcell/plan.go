package commcell

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// Plans represents the server plans configured on the Commcell.
type Plans struct {
	cc *Commcell

	mu      sync.Mutex
	byName  map[string]string // lowercase plan name -> plan ID
	fetched bool
}

type plansListResponse struct {
	Plans []struct {
		Plan struct {
			PlanID   int    `json:"planId"`
			PlanName string `json:"planName"`
		} `json:"plan"`
	} `json:"plans"`
}

func (ps *Plans) fetch(ctx context.Context) error {
	var reply plansListResponse
	if err := ps.cc.t.do(ctx, "Plans.List", http.MethodGet, svcPlans, nil, &reply); err != nil {
		return err
	}

	byName := make(map[string]string, len(reply.Plans))
	for _, entry := range reply.Plans {
		byName[strings.ToLower(entry.Plan.PlanName)] = strconv.Itoa(entry.Plan.PlanID)
	}

	ps.mu.Lock()
	ps.byName = byName
	ps.fetched = true
	ps.mu.Unlock()
	return nil
}

func (ps *Plans) ensure(ctx context.Context) error {
	ps.mu.Lock()
	fetched := ps.fetched
	ps.mu.Unlock()
	if fetched {
		return nil
	}
	return ps.fetch(ctx)
}

// All returns the plan names mapped to their IDs.
func (ps *Plans) All(ctx context.Context) (map[string]string, error) {
	if err := ps.ensure(ctx); err != nil {
		return nil, err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make(map[string]string, len(ps.byName))
	for name, id := range ps.byName {
		out[name] = id
	}
	return out, nil
}

// Has reports whether a plan with the given name exists.
func (ps *Plans) Has(ctx context.Context, name string) (bool, error) {
	if err := ps.ensure(ctx); err != nil {
		return false, err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	_, ok := ps.byName[strings.ToLower(name)]
	return ok, nil
}

// Get returns the Plan with the given name and loads its properties.
func (ps *Plans) Get(ctx context.Context, name string) (*Plan, error) {
	if err := ps.ensure(ctx); err != nil {
		return nil, err
	}

	ps.mu.Lock()
	id, ok := ps.byName[strings.ToLower(name)]
	ps.mu.Unlock()
	if !ok {
		return nil, &SDKError{
			Op:         "Plans.Get",
			HTTPStatus: http.StatusNotFound,
			Message:    fmt.Sprintf("no plan exists with name %q", name),
		}
	}

	plan := &Plan{cc: ps.cc, name: strings.ToLower(name), id: id}
	if err := plan.Refresh(ctx); err != nil {
		return nil, err
	}
	return plan, nil
}

// Delete removes the plan with the given name. Plans still associated with
// entities are rejected by the server.
func (ps *Plans) Delete(ctx context.Context, name string) error {
	if err := ps.ensure(ctx); err != nil {
		return err
	}

	ps.mu.Lock()
	id, ok := ps.byName[strings.ToLower(name)]
	ps.mu.Unlock()
	if !ok {
		return &SDKError{
			Op:         "Plans.Delete",
			HTTPStatus: http.StatusNotFound,
			Message:    fmt.Sprintf("no plan exists with name %q", name),
		}
	}

	endpoint := fmt.Sprintf(svcPlan, id)
	if err := ps.cc.t.do(ctx, "Plans.Delete", http.MethodDelete, endpoint, nil, nil); err != nil {
		return err
	}
	return ps.fetch(ctx)
}

// Refresh re-fetches the plan list.
func (ps *Plans) Refresh(ctx context.Context) error {
	return ps.fetch(ctx)
}

// Plan is a single server plan and its last-fetched properties.
type Plan struct {
	cc   *Commcell
	name string
	id   string

	planType   string
	subtype    string
	rpoMinutes int
	props      map[string]interface{}
}

type planPropertiesResponse struct {
	Plan struct {
		Summary struct {
			Type         string `json:"type"`
			Subtype      string `json:"subtype"`
			RPOInMinutes int    `json:"rpoInMinutes"`
			Plan         struct {
				PlanName string `json:"planName"`
			} `json:"plan"`
		} `json:"summary"`
	} `json:"plan"`
}

// Name returns the plan name.
func (p *Plan) Name() string { return p.name }

// ID returns the plan ID assigned by the server.
func (p *Plan) ID() string { return p.id }

// Type returns the plan type, e.g. "Server".
func (p *Plan) Type() string { return p.planType }

// Subtype returns the plan subtype.
func (p *Plan) Subtype() string { return p.subtype }

// RPOMinutes returns the recovery point objective in minutes.
func (p *Plan) RPOMinutes() int { return p.rpoMinutes }

// Properties returns the raw last-fetched plan document.
func (p *Plan) Properties() map[string]interface{} { return p.props }

// Refresh re-fetches the plan properties from the server.
func (p *Plan) Refresh(ctx context.Context) error {
	endpoint := fmt.Sprintf(svcPlan, p.id)

	var raw map[string]interface{}
	if err := p.cc.t.do(ctx, "Plan.Refresh", http.MethodGet, endpoint, nil, &raw); err != nil {
		return err
	}

	var reply planPropertiesResponse
	if err := remarshal(raw, &reply); err != nil || reply.Plan.Summary.Plan.PlanName == "" {
		return &SDKError{Op: "Plan.Refresh", Endpoint: endpoint,
			Message: "failed to get plan properties"}
	}

	summary := reply.Plan.Summary
	p.planType = summary.Type
	p.subtype = summary.Subtype
	p.rpoMinutes = summary.RPOInMinutes
	if plan, ok := raw["plan"].(map[string]interface{}); ok {
		p.props = plan
	}
	return nil
}

// SetRPOMinutes changes the recovery point objective of the plan.
func (p *Plan) SetRPOMinutes(ctx context.Context, minutes int) error {
	request := map[string]interface{}{
		"summary": map[string]interface{}{
			"rpoInMinutes": minutes,
		},
	}

	endpoint := fmt.Sprintf(svcPlan, p.id)
	if err := p.cc.t.do(ctx, "Plan.Update", http.MethodPut, endpoint, request, nil); err != nil {
		return err
	}
	return p.Refresh(ctx)
}

// Rename changes the plan name.
func (p *Plan) Rename(ctx context.Context, name string) error {
	request := map[string]interface{}{
		"summary": map[string]interface{}{
			"plan": map[string]string{"planName": name},
		},
	}

	endpoint := fmt.Sprintf(svcPlan, p.id)
	if err := p.cc.t.do(ctx, "Plan.Update", http.MethodPut, endpoint, request, nil); err != nil {
		return err
	}
	p.name = strings.ToLower(name)
	return p.Refresh(ctx)
}
