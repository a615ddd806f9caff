package routes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/galpt/go-cfer/internal/cf"
)

// ListIDs walks every page of routing rules and returns the identifiers of
// all rules except the catch-all. Pages are fetched one after another until
// the service returns an empty page.
func ListIDs(ctx context.Context, api API) (map[string]struct{}, error) {
	ids := map[string]struct{}{}
	for page := 1; ; page++ {
		resp, err := api.ListRules(ctx, page, PageSize)
		if err != nil {
			var apiErr *cf.APIError
			if errors.As(err, &apiErr) {
				return nil, fmt.Errorf("%w: %v", ErrListFailed, apiErr)
			}
			return nil, err
		}
		if !resp.Success {
			return nil, listFailure(resp.Errors)
		}
		if len(resp.Result) == 0 {
			break
		}
		for _, rule := range resp.Result {
			if rule.IsCatchAll() || rule.ID == "" {
				continue
			}
			ids[rule.ID] = struct{}{}
		}
	}
	return ids, nil
}

func listFailure(errs []cf.ResponseInfo) error {
	if len(errs) == 0 {
		return ErrListFailed
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, fmt.Sprintf("%d %s", e.Code, e.Message))
	}
	return fmt.Errorf("%w: %s", ErrListFailed, strings.Join(msgs, "; "))
}
