package routes

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/galpt/go-cfer/internal/cf"
)

// Forwarder describes where imported aliases forward to.
type Forwarder struct {
	Destination string // address every alias forwards to
	Domain      string // alias domain, with or without a leading '@'
	Label       string // appended to the rule name, e.g. "Imported from Bitwarden"
}

// Address is the full alias address for a local-part.
func (f Forwarder) Address(local string) string {
	return local + "@" + strings.TrimPrefix(f.Domain, "@")
}

// BuildRule returns the create payload for one alias.
func (f Forwarder) BuildRule(local, note string) cf.RoutingRule {
	return cf.RoutingRule{
		Actions: []cf.RouteAction{{
			Type:  cf.ActionForward,
			Value: []string{f.Destination},
		}},
		Matchers: []cf.RouteMatcher{{
			Type:  cf.MatcherLiteral,
			Field: cf.FieldTo,
			Value: f.Address(local),
		}},
		Name:     note + "\n\n" + f.Label,
		Priority: 0,
		Enabled:  true,
	}
}

// BuildRules returns one payload per alias, ordered by address.
func (f Forwarder) BuildRules(aliases map[string]string) []cf.RoutingRule {
	locals := make([]string, 0, len(aliases))
	for local := range aliases {
		locals = append(locals, local)
	}
	sort.Strings(locals)

	rules := make([]cf.RoutingRule, 0, len(locals))
	for _, local := range locals {
		rules = append(rules, f.BuildRule(local, aliases[local]))
	}
	return rules
}

// Import creates every rule with at most CreateConcurrency requests in flight.
// A 409 means the rule already exists and is counted as a conflict; any other
// failure stops admission and is returned.
func Import(ctx context.Context, api API, rules []cf.RoutingRule, rep Reporter) (Summary, error) {
	sum := Summary{Total: len(rules)}
	if len(rules) == 0 {
		return sum, nil
	}

	var ok, conflicts atomic.Int64
	err := fanOut(ctx, CreateConcurrency, rules, func(ctx context.Context, rule cf.RoutingRule) error {
		subject := ruleAddress(rule)
		resp, err := api.CreateRule(ctx, rule)
		if err != nil {
			rep.Status(subject, outcome(err))
			if cf.IsConflict(err) {
				conflicts.Add(1)
				return nil
			}
			return err
		}
		rep.Status(subject, resp.Status)
		ok.Add(1)
		return nil
	})
	sum.Succeeded = int(ok.Load())
	sum.Conflicts = int(conflicts.Load())
	return sum, err
}

func ruleAddress(rule cf.RoutingRule) string {
	if len(rule.Matchers) > 0 && rule.Matchers[0].Value != "" {
		return rule.Matchers[0].Value
	}
	return rule.Name
}

func outcome(err error) string {
	var apiErr *cf.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return err.Error()
}
