package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galpt/go-cfer/internal/cf"
)

type fakeAPI struct {
	pages    [][]cf.RoutingRule
	listFail bool
	listErr  error

	delay    time.Duration
	failures map[string]int // subject -> HTTP status to fail with
	netErrs  map[string]bool

	listCalls atomic.Int32
	inFlight  atomic.Int32
	maxSeen   atomic.Int32

	mu      sync.Mutex
	created []cf.RoutingRule
	deleted []string
}

func (f *fakeAPI) ListRules(_ context.Context, page, perPage int) (*cf.ListResponse, error) {
	f.listCalls.Add(1)
	if perPage != PageSize {
		return nil, fmt.Errorf("unexpected per_page %d", perPage)
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.listFail {
		return &cf.ListResponse{Success: false, Errors: []cf.ResponseInfo{{Code: 10000, Message: "Authentication error"}}}, nil
	}
	resp := &cf.ListResponse{Success: true}
	if page-1 < len(f.pages) {
		resp.Result = f.pages[page-1]
	}
	return resp, nil
}

func (f *fakeAPI) enter() func() {
	n := f.inFlight.Add(1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeAPI) result(subject string) (*cf.Response, error) {
	if f.netErrs[subject] {
		return nil, errors.New("connection reset by peer")
	}
	if code, ok := f.failures[subject]; ok {
		return nil, &cf.APIError{StatusCode: code, Status: fmt.Sprintf("%d %s", code, http.StatusText(code))}
	}
	return &cf.Response{StatusCode: http.StatusOK, Status: "200 OK"}, nil
}

func (f *fakeAPI) CreateRule(_ context.Context, rule cf.RoutingRule) (*cf.Response, error) {
	defer f.enter()()
	time.Sleep(f.delay)
	subject := rule.Matchers[0].Value
	resp, err := f.result(subject)
	if err == nil {
		f.mu.Lock()
		f.created = append(f.created, rule)
		f.mu.Unlock()
	}
	return resp, err
}

func (f *fakeAPI) DeleteRule(_ context.Context, id string) (*cf.Response, error) {
	defer f.enter()()
	time.Sleep(f.delay)
	resp, err := f.result(id)
	if err == nil {
		f.mu.Lock()
		f.deleted = append(f.deleted, id)
		f.mu.Unlock()
	}
	return resp, err
}

type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) Status(subject, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, subject+": "+outcome)
}

func (r *recorder) sorted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.lines...)
	sort.Strings(out)
	return out
}

func literal(id, addr string) cf.RoutingRule {
	return cf.RoutingRule{
		ID:       id,
		Actions:  []cf.RouteAction{{Type: cf.ActionForward, Value: []string{"dest@example.com"}}},
		Matchers: []cf.RouteMatcher{{Type: cf.MatcherLiteral, Field: cf.FieldTo, Value: addr}},
		Enabled:  true,
	}
}

func catchAll(id string) cf.RoutingRule {
	return cf.RoutingRule{
		ID:       id,
		Actions:  []cf.RouteAction{{Type: cf.ActionDrop}},
		Matchers: []cf.RouteMatcher{{Type: cf.MatcherAll}},
		Enabled:  true,
	}
}

func page(prefix string, n int) []cf.RoutingRule {
	out := make([]cf.RoutingRule, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-%d", prefix, i)
		out = append(out, literal(id, id+"@example.net"))
	}
	return out
}

func TestListIDs_Pagination(t *testing.T) {
	pages := [][]cf.RoutingRule{page("a", 50), page("b", 50), page("c", 3), {}}
	pages[1][7] = catchAll("catch-all")
	api := &fakeAPI{pages: pages}

	ids, err := ListIDs(context.Background(), api)
	require.NoError(t, err)
	assert.Equal(t, int32(4), api.listCalls.Load())
	assert.Len(t, ids, 102)
	assert.NotContains(t, ids, "catch-all")
}

func TestListIDs_CatchAllNeverListed(t *testing.T) {
	for pos := 0; pos < 3; pos++ {
		pages := [][]cf.RoutingRule{page("p0", 2), page("p1", 2), page("p2", 2)}
		pages[pos][0] = catchAll("ca")
		ids, err := ListIDs(context.Background(), &fakeAPI{pages: pages})
		require.NoError(t, err)
		assert.NotContains(t, ids, "ca", "catch-all on page %d", pos+1)
		assert.Len(t, ids, 5)
	}
}

func TestListIDs_DedupAndMissingIDs(t *testing.T) {
	pages := [][]cf.RoutingRule{
		{literal("x", "x@example.net"), literal("", "noid@example.net")},
		{literal("x", "x@example.net"), literal("y", "y@example.net")},
	}
	ids, err := ListIDs(context.Background(), &fakeAPI{pages: pages})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, SortedIDs(ids))
}

func TestListIDs_EmptyFirstPage(t *testing.T) {
	api := &fakeAPI{}
	ids, err := ListIDs(context.Background(), api)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, int32(1), api.listCalls.Load())
}

func TestListIDs_ServiceFailure(t *testing.T) {
	_, err := ListIDs(context.Background(), &fakeAPI{listFail: true})
	require.ErrorIs(t, err, ErrListFailed)
	assert.Contains(t, err.Error(), "Authentication error")

	_, err = ListIDs(context.Background(), &fakeAPI{listErr: &cf.APIError{StatusCode: 403, Status: "403 Forbidden"}})
	assert.ErrorIs(t, err, ErrListFailed)

	netErr := errors.New("dial tcp: connection refused")
	_, err = ListIDs(context.Background(), &fakeAPI{listErr: netErr})
	assert.ErrorIs(t, err, netErr)
	assert.NotErrorIs(t, err, ErrListFailed)
}

func TestDelete(t *testing.T) {
	api := &fakeAPI{}
	rep := &recorder{}

	sum, err := Delete(context.Background(), api, IDSet([]string{"b", "a", "b", ""}), rep)
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Succeeded: 2}, sum)
	assert.ElementsMatch(t, []string{"a", "b"}, api.deleted)
	assert.Equal(t, []string{"a: 200 OK", "b: 200 OK"}, rep.sorted())
}

func TestDelete_EmptyIsNoop(t *testing.T) {
	api := &fakeAPI{}
	rep := &recorder{}

	sum, err := Delete(context.Background(), api, IDSet(nil), rep)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
	assert.Empty(t, api.deleted)
	assert.Empty(t, rep.lines)
}

func TestDelete_FailureAborts(t *testing.T) {
	ids := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		ids = append(ids, fmt.Sprintf("id-%03d", i))
	}
	api := &fakeAPI{delay: time.Millisecond, failures: map[string]int{"id-000": http.StatusNotFound}}
	rep := &recorder{}

	sum, err := Delete(context.Background(), api, IDSet(ids), rep)
	var apiErr *cf.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, rep.sorted(), "id-000: 404 Not Found")
	// admission stops after the failure, so the tail of the list is never sent
	assert.Less(t, sum.Succeeded, 200-DeleteConcurrency)
}

func TestDelete_ConcurrencyCeiling(t *testing.T) {
	ids := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		ids = append(ids, fmt.Sprintf("id-%d", i))
	}
	api := &fakeAPI{delay: 5 * time.Millisecond}

	_, err := Delete(context.Background(), api, IDSet(ids), &recorder{})
	require.NoError(t, err)
	assert.LessOrEqual(t, api.maxSeen.Load(), int32(DeleteConcurrency))
	assert.Greater(t, api.maxSeen.Load(), int32(1))
}

func TestBuildRule_RoundTrip(t *testing.T) {
	f := Forwarder{Destination: "dest@example.com", Domain: "example.net", Label: "Imported from Bitwarden"}
	rule := f.BuildRule("jdoe", "Used for jdoe")

	require.Len(t, rule.Matchers, 1)
	assert.Equal(t, cf.RouteMatcher{Type: "literal", Field: "to", Value: "jdoe@example.net"}, rule.Matchers[0])
	require.Len(t, rule.Actions, 1)
	assert.Equal(t, cf.RouteAction{Type: "forward", Value: []string{"dest@example.com"}}, rule.Actions[0])
	assert.Equal(t, "Used for jdoe\n\nImported from Bitwarden", rule.Name)
	assert.True(t, rule.Enabled)
	assert.Equal(t, 0, rule.Priority)
	assert.Empty(t, rule.ID)
}

func TestForwarder_StripsLeadingAt(t *testing.T) {
	f := Forwarder{Domain: "@example.net"}
	assert.Equal(t, "shop@example.net", f.Address("shop"))

	rules := f.BuildRules(map[string]string{"b": "", "a": ""})
	require.Len(t, rules, 2)
	assert.Equal(t, "a@example.net", rules[0].Matchers[0].Value)
	assert.Equal(t, "b@example.net", rules[1].Matchers[0].Value)
}

func TestImport(t *testing.T) {
	f := Forwarder{Destination: "dest@example.com", Domain: "example.net", Label: "Imported from SimpleLogin"}
	api := &fakeAPI{}
	rep := &recorder{}

	sum, err := Import(context.Background(), api, f.BuildRules(map[string]string{"a": "x", "b": "y"}), rep)
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Succeeded: 2}, sum)
	assert.Len(t, api.created, 2)
	assert.Equal(t, []string{"a@example.net: 200 OK", "b@example.net: 200 OK"}, rep.sorted())
}

func TestImport_ConflictIsTolerated(t *testing.T) {
	f := Forwarder{Destination: "dest@example.com", Domain: "example.net"}
	aliases := map[string]string{}
	for i := 0; i < 40; i++ {
		aliases[fmt.Sprintf("a%02d", i)] = ""
	}
	api := &fakeAPI{failures: map[string]int{
		"a00@example.net": http.StatusConflict,
		"a20@example.net": http.StatusConflict,
	}}
	rep := &recorder{}

	sum, err := Import(context.Background(), api, f.BuildRules(aliases), rep)
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 40, Succeeded: 38, Conflicts: 2}, sum)
	assert.Contains(t, rep.sorted(), "a00@example.net: 409 Conflict")
	assert.Len(t, rep.lines, 40)
}

func TestImport_OtherFailuresAbort(t *testing.T) {
	f := Forwarder{Destination: "dest@example.com", Domain: "example.net"}
	aliases := map[string]string{}
	for i := 0; i < 300; i++ {
		aliases[fmt.Sprintf("a%03d", i)] = ""
	}

	api := &fakeAPI{delay: time.Millisecond, netErrs: map[string]bool{"a000@example.net": true}}
	rep := &recorder{}
	sum, err := Import(context.Background(), api, f.BuildRules(aliases), rep)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Less(t, sum.Succeeded, 300-CreateConcurrency)

	found := false
	for _, line := range rep.sorted() {
		if strings.HasPrefix(line, "a000@example.net: ") {
			found = true
			assert.Contains(t, line, "connection reset")
		}
	}
	assert.True(t, found)

	api = &fakeAPI{failures: map[string]int{"a005@example.net": http.StatusBadRequest}}
	_, err = Import(context.Background(), api, f.BuildRules(aliases), &recorder{})
	assert.False(t, cf.IsConflict(err))
	var apiErr *cf.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestImport_ConcurrencyCeiling(t *testing.T) {
	f := Forwarder{Destination: "dest@example.com", Domain: "example.net"}
	aliases := map[string]string{}
	for i := 0; i < 100; i++ {
		aliases[fmt.Sprintf("a%03d", i)] = ""
	}
	api := &fakeAPI{delay: 5 * time.Millisecond}

	sum, err := Import(context.Background(), api, f.BuildRules(aliases), &recorder{})
	require.NoError(t, err)
	assert.Equal(t, 100, sum.Succeeded)
	assert.LessOrEqual(t, api.maxSeen.Load(), int32(CreateConcurrency))
	assert.Greater(t, api.maxSeen.Load(), int32(DeleteConcurrency))
}

func TestImport_Empty(t *testing.T) {
	sum, err := Import(context.Background(), &fakeAPI{}, nil, &recorder{})
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}

func TestFanOut_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	err := fanOut(ctx, 5, []int{1, 2, 3}, func(context.Context, int) error {
		calls.Add(1)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}
