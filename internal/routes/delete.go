package routes

import (
	"context"
	"sort"
	"sync/atomic"
)

// Delete removes every rule in ids with at most DeleteConcurrency requests in
// flight. The first failed request stops admission and is returned.
func Delete(ctx context.Context, api API, ids map[string]struct{}, rep Reporter) (Summary, error) {
	items := SortedIDs(ids)
	sum := Summary{Total: len(items)}
	if len(items) == 0 {
		return sum, nil
	}

	var ok atomic.Int64
	err := fanOut(ctx, DeleteConcurrency, items, func(ctx context.Context, id string) error {
		resp, err := api.DeleteRule(ctx, id)
		if err != nil {
			rep.Status(id, outcome(err))
			return err
		}
		rep.Status(id, resp.Status)
		ok.Add(1)
		return nil
	})
	sum.Succeeded = int(ok.Load())
	return sum, err
}

// IDSet turns a list of identifiers into a set, dropping blanks.
func IDSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}

// SortedIDs returns the members of ids in a stable order.
func SortedIDs(ids map[string]struct{}) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
