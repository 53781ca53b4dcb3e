package finance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"purchase-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFinanceStore struct {
	mu       sync.Mutex
	requests map[string]*models.FinanceRequest
}

func newFakeFinanceStore() *fakeFinanceStore {
	return &fakeFinanceStore{requests: make(map[string]*models.FinanceRequest)}
}

func (fs *fakeFinanceStore) CreateFinanceRequest(_ context.Context, fr *models.FinanceRequest) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	cp := *fr
	fs.requests[fr.RequestID] = &cp
	return nil
}

func (fs *fakeFinanceStore) GetFinanceRequest(_ context.Context, requestID string) (*models.FinanceRequest, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fr, ok := fs.requests[requestID]
	if !ok {
		return nil, &models.NotFoundError{Kind: "finance request", ID: requestID}
	}
	cp := *fr
	return &cp, nil
}

func (fs *fakeFinanceStore) TransitionFinanceRequest(_ context.Context, fr *models.FinanceRequest) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	stored, ok := fs.requests[fr.RequestID]
	if !ok {
		return &models.NotFoundError{Kind: "finance request", ID: fr.RequestID}
	}
	if stored.Status != models.FinanceStatusPending {
		return &models.StateConflictError{
			Kind:          "finance request",
			ID:            fr.RequestID,
			CurrentStatus: stored.Status,
		}
	}
	cp := *fr
	fs.requests[fr.RequestID] = &cp
	return nil
}

func (fs *fakeFinanceStore) ListFinanceRequestsByStatus(_ context.Context, status string) ([]models.FinanceRequest, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []models.FinanceRequest
	for _, fr := range fs.requests {
		if fr.Status == status {
			out = append(out, *fr)
		}
	}
	return out, nil
}

func (fs *fakeFinanceStore) ListFinanceRequestsByCustomer(_ context.Context, customerID string) ([]models.FinanceRequest, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []models.FinanceRequest
	for _, fr := range fs.requests {
		if fr.CustomerID == customerID {
			out = append(out, *fr)
		}
	}
	return out, nil
}

type fakeFinancePublisher struct {
	mu       sync.Mutex
	pending  []*models.PendingApprovalEvent
	outcomes []*models.FinanceApprovedEvent
}

func (fp *fakeFinancePublisher) PublishPendingApproval(_ context.Context, event *models.PendingApprovalEvent) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.pending = append(fp.pending, event)
	return nil
}

func (fp *fakeFinancePublisher) PublishFinanceApproved(_ context.Context, event *models.FinanceApprovedEvent) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.outcomes = append(fp.outcomes, event)
	return nil
}

type fakeGateway struct {
	calls   int
	verdict *GatewayDecision
	err     error
}

func (fg *fakeGateway) Evaluate(_ context.Context, requestID, _ string, amount float64) (*GatewayDecision, error) {
	fg.calls++
	if fg.err != nil {
		return nil, fg.err
	}
	if fg.verdict != nil {
		return fg.verdict, nil
	}
	return &GatewayDecision{RequestID: requestID, Approved: true, ApprovedAmt: amount, Reason: "ok"}, nil
}

const testTrustedSource = "APPROVAL_AUTOMATION"

func newTestCorrelator(store Store, publisher Publisher, gateway ApprovalGateway) *Correlator {
	breaker := NewCircuitBreaker(3, 30*time.Second)
	return NewCorrelator(store, publisher, gateway, breaker, testTrustedSource, 3)
}

func TestRequestApprovalReturnsPending(t *testing.T) {
	store := newFakeFinanceStore()
	publisher := &fakeFinancePublisher{}
	c := newTestCorrelator(store, publisher, &fakeGateway{})

	request, err := c.RequestApproval(context.Background(), "CUST-1", 1200, "Purchase")
	require.NoError(t, err)

	assert.Equal(t, models.FinanceStatusPending, request.Status)
	assert.NotEmpty(t, request.RequestID)
	assert.Equal(t, 1200.0, request.Amount)

	require.Len(t, publisher.pending, 1)
	assert.Equal(t, request.RequestID, publisher.pending[0].RequestID)
	assert.Equal(t, "Purchase", publisher.pending[0].Purpose)
}

func TestApplyDecisionFromTrustedSource(t *testing.T) {
	store := newFakeFinanceStore()
	publisher := &fakeFinancePublisher{}
	gateway := &fakeGateway{}
	c := newTestCorrelator(store, publisher, gateway)

	request, err := c.RequestApproval(context.Background(), "CUST-1", 1200, "Purchase")
	require.NoError(t, err)

	err = c.ApplyDecision(context.Background(), request.RequestID, models.DecisionApproved, testTrustedSource, "under threshold")
	require.NoError(t, err)

	updated, err := c.GetRequest(context.Background(), request.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.FinanceStatusApproved, updated.Status)
	assert.Equal(t, request.RequestID, updated.ExternalReferenceID)
	assert.Equal(t, 0, gateway.calls, "trusted decisions bypass the gateway")

	require.Len(t, publisher.outcomes, 1)
	assert.Equal(t, request.RequestID, publisher.outcomes[0].RequestID)
}

func TestApplyDecisionDeclined(t *testing.T) {
	store := newFakeFinanceStore()
	publisher := &fakeFinancePublisher{}
	c := newTestCorrelator(store, publisher, &fakeGateway{})

	request, err := c.RequestApproval(context.Background(), "CUST-1", 9000, "Purchase")
	require.NoError(t, err)

	err = c.ApplyDecision(context.Background(), request.RequestID, models.DecisionDeclined, "MANAGER-1", "over budget")
	require.NoError(t, err)

	updated, _ := c.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.FinanceStatusRejected, updated.Status)
	assert.Contains(t, updated.Notes, "MANAGER-1")
	assert.Contains(t, updated.Notes, "over budget")
}

func TestRedeliveredDecisionIsDropped(t *testing.T) {
	store := newFakeFinanceStore()
	publisher := &fakeFinancePublisher{}
	c := newTestCorrelator(store, publisher, &fakeGateway{})

	request, err := c.RequestApproval(context.Background(), "CUST-1", 1200, "Purchase")
	require.NoError(t, err)

	err = c.ApplyDecision(context.Background(), request.RequestID, models.DecisionApproved, testTrustedSource, "")
	require.NoError(t, err)

	// At-least-once delivery: the same decision arrives again and an
	// opposite one too. Both must be no-ops.
	err = c.ApplyDecision(context.Background(), request.RequestID, models.DecisionApproved, testTrustedSource, "")
	require.NoError(t, err)
	err = c.ApplyDecision(context.Background(), request.RequestID, models.DecisionDeclined, "MANAGER-1", "")
	require.NoError(t, err)

	updated, _ := c.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.FinanceStatusApproved, updated.Status, "first decision wins")
	assert.Len(t, publisher.outcomes, 1, "outcome published exactly once")
}

func TestConcurrentDecisionsApplyOnce(t *testing.T) {
	store := newFakeFinanceStore()
	publisher := &fakeFinancePublisher{}
	c := newTestCorrelator(store, publisher, &fakeGateway{})

	request, err := c.RequestApproval(context.Background(), "CUST-1", 1200, "Purchase")
	require.NoError(t, err)

	// Two decision deliveries race for the same request. The status
	// transition is a compare-and-swap out of PENDING, so exactly one
	// wins; the loser is dropped as a duplicate without an error.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = c.ApplyDecision(context.Background(), request.RequestID, models.DecisionApproved, testTrustedSource, "")
	}()
	go func() {
		defer wg.Done()
		errs[1] = c.ApplyDecision(context.Background(), request.RequestID, models.DecisionDeclined, "MANAGER-1", "over budget")
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	updated, err := c.GetRequest(context.Background(), request.RequestID)
	require.NoError(t, err)
	assert.Contains(t, []string{models.FinanceStatusApproved, models.FinanceStatusRejected}, updated.Status)
	assert.Len(t, publisher.outcomes, 1, "exactly one decision produces an outcome")
}

func TestApplyDecisionUnknownVerb(t *testing.T) {
	store := newFakeFinanceStore()
	c := newTestCorrelator(store, &fakeFinancePublisher{}, &fakeGateway{})

	request, err := c.RequestApproval(context.Background(), "CUST-1", 1200, "Purchase")
	require.NoError(t, err)

	err = c.ApplyDecision(context.Background(), request.RequestID, "MAYBE", "MANAGER-1", "")
	assert.Error(t, err)

	updated, _ := c.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.FinanceStatusPending, updated.Status)
}

func TestManualApprovalRoutesThroughGateway(t *testing.T) {
	store := newFakeFinanceStore()
	publisher := &fakeFinancePublisher{}
	gateway := &fakeGateway{}
	c := newTestCorrelator(store, publisher, gateway)

	request, err := c.RequestApproval(context.Background(), "CUST-1", 9000, "Purchase")
	require.NoError(t, err)

	err = c.ApplyDecision(context.Background(), request.RequestID, models.DecisionApproved, "MANAGER-1", "reviewed")
	require.NoError(t, err)

	assert.Equal(t, 1, gateway.calls)
	updated, _ := c.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.FinanceStatusApproved, updated.Status)
}

func TestGatewayRejectionRejectsRequest(t *testing.T) {
	store := newFakeFinanceStore()
	gateway := &fakeGateway{verdict: &GatewayDecision{Approved: false, Reason: "credit limit"}}
	c := newTestCorrelator(store, &fakeFinancePublisher{}, gateway)

	request, err := c.RequestApproval(context.Background(), "CUST-1", 9000, "Purchase")
	require.NoError(t, err)

	err = c.ApplyDecision(context.Background(), request.RequestID, models.DecisionApproved, "MANAGER-1", "")
	require.NoError(t, err)

	updated, _ := c.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.FinanceStatusRejected, updated.Status)
	assert.Contains(t, updated.Notes, "credit limit")
}

func TestGatewayFailureExhaustsRetries(t *testing.T) {
	store := newFakeFinanceStore()
	publisher := &fakeFinancePublisher{}
	gateway := &fakeGateway{err: errors.New("connection refused")}
	breaker := NewCircuitBreaker(10, 30*time.Second)
	c := NewCorrelator(store, publisher, gateway, breaker, testTrustedSource, 3)

	request, err := c.RequestApproval(context.Background(), "CUST-1", 9000, "Purchase")
	require.NoError(t, err)

	err = c.ApplyDecision(context.Background(), request.RequestID, models.DecisionApproved, "MANAGER-1", "")
	require.NoError(t, err)

	assert.Equal(t, 3, gateway.calls)
	updated, _ := c.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.FinanceStatusError, updated.Status)
	assert.Empty(t, publisher.outcomes, "no outcome event for ERROR status")
}

func TestOpenBreakerFailsFast(t *testing.T) {
	store := newFakeFinanceStore()
	gateway := &fakeGateway{err: errors.New("connection refused")}
	breaker := NewCircuitBreaker(1, 30*time.Second)
	breaker.RecordFailure() // breaker already open from earlier traffic
	c := NewCorrelator(store, &fakeFinancePublisher{}, gateway, breaker, testTrustedSource, 3)

	request, err := c.RequestApproval(context.Background(), "CUST-1", 9000, "Purchase")
	require.NoError(t, err)

	err = c.ApplyDecision(context.Background(), request.RequestID, models.DecisionApproved, "MANAGER-1", "")
	require.NoError(t, err)

	assert.Equal(t, 0, gateway.calls, "open breaker blocks the gateway call")
	updated, _ := c.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.FinanceStatusError, updated.Status)
	assert.Contains(t, updated.Notes, "circuit open")
}

func TestReprocessPendingRepublishesOnlyPending(t *testing.T) {
	store := newFakeFinanceStore()
	publisher := &fakeFinancePublisher{}
	c := newTestCorrelator(store, publisher, &fakeGateway{})

	first, err := c.RequestApproval(context.Background(), "CUST-1", 1000, "Purchase")
	require.NoError(t, err)
	_, err = c.RequestApproval(context.Background(), "CUST-2", 2000, "Purchase")
	require.NoError(t, err)

	err = c.ApplyDecision(context.Background(), first.RequestID, models.DecisionApproved, testTrustedSource, "")
	require.NoError(t, err)

	publisher.pending = nil

	count, err := c.ReprocessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Len(t, publisher.pending, 1)
	assert.NotEqual(t, first.RequestID, publisher.pending[0].RequestID)
}
