package cf

// Models for the Email Routing rules endpoints:
// https://developers.cloudflare.com/api/operations/email-routing-routing-rules-list-routing-rules

const (
	ActionForward = "forward"
	ActionDrop    = "drop"
	ActionWorker  = "worker"

	MatcherLiteral = "literal"
	MatcherAll     = "all"

	FieldTo = "to"
)

// RoutingRule is a single email routing rule. ID and Tag are assigned by the
// service and are empty on rules that have not been created yet.
type RoutingRule struct {
	ID       string         `json:"id,omitempty"`
	Tag      string         `json:"tag,omitempty"`
	Actions  []RouteAction  `json:"actions"`
	Matchers []RouteMatcher `json:"matchers"`
	Name     string         `json:"name,omitempty"`
	Priority int            `json:"priority"`
	Enabled  bool           `json:"enabled"`
}

// IsCatchAll reports whether the first matcher matches every address.
func (r RoutingRule) IsCatchAll() bool {
	return len(r.Matchers) > 0 && r.Matchers[0].Type == MatcherAll
}

type RouteAction struct {
	Type  string   `json:"type"`
	Value []string `json:"value"`
}

// RouteMatcher has no field or value for the catch-all matcher.
type RouteMatcher struct {
	Type  string `json:"type"`
	Field string `json:"field,omitempty"`
	Value string `json:"value,omitempty"`
}

// ListResponse is the envelope returned by the list endpoint.
type ListResponse struct {
	Result     []RoutingRule  `json:"result"`
	ResultInfo *ResultInfo    `json:"result_info,omitempty"`
	Errors     []ResponseInfo `json:"errors"`
	Messages   []ResponseInfo `json:"messages"`
	Success    bool           `json:"success"`
}

type ResultInfo struct {
	Count      int `json:"count,omitempty"`
	Page       int `json:"page,omitempty"`
	PerPage    int `json:"per_page,omitempty"`
	TotalCount int `json:"total_count,omitempty"`
}

type ResponseInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
