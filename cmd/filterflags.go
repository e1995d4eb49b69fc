package main

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/reconcile-cli/internal/filter"
)

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("category", nil, "categories to include (duplicate, email, phone, company, domain, job_title, missing_field)")
	cmd.Flags().String("status", "", "status to include (needs_review, auto_accepted, accepted, rejected, overridden, all)")
	cmd.Flags().String("query", "", "case-insensitive text match on values and column")
	cmd.Flags().Float64("min-confidence", 0, "minimum confidence in [0,1]")
	cmd.Flags().StringSlice("dup-columns", nil, "columns the duplicate category is restricted to")
}

// filterFromFlags builds a filter set through the same parser the API uses.
// Unparseable values are dropped, which suits read-only views.
func filterFromFlags(cmd *cobra.Command) filter.Set {
	return filter.ParseQuery(filterValues(cmd))
}

// bulkFilterFromFlags is filterFromFlags for bulk decisions: an unknown
// category or status, or an out-of-range --min-confidence, is an error.
func bulkFilterFromFlags(cmd *cobra.Command) (filter.Set, error) {
	set, err := filter.ParseQueryStrict(filterValues(cmd))
	if err != nil {
		return filter.Set{}, eris.Wrap(err, "invalid filter flags")
	}
	return set, nil
}

func filterValues(cmd *cobra.Command) url.Values {
	v := url.Values{}
	if cats, _ := cmd.Flags().GetStringSlice("category"); len(cats) > 0 {
		v.Set(filter.ParamCategory, strings.Join(cats, ","))
	}
	if status, _ := cmd.Flags().GetString("status"); status != "" {
		v.Set(filter.ParamStatus, status)
	}
	if q, _ := cmd.Flags().GetString("query"); q != "" {
		v.Set(filter.ParamQuery, q)
	}
	if cmd.Flags().Changed("min-confidence") {
		minConf, _ := cmd.Flags().GetFloat64("min-confidence")
		v.Set(filter.ParamMinConfidence, strconv.FormatFloat(minConf, 'f', -1, 64))
	}
	if cols, _ := cmd.Flags().GetStringSlice("dup-columns"); len(cols) > 0 {
		v.Set(filter.ParamDupColumns, strings.Join(cols, ","))
	}
	return v
}

// categoryFilter builds a category-only set from --category.
func categoryFilter(cmd *cobra.Command) filter.Set {
	cats, _ := cmd.Flags().GetStringSlice("category")
	return filter.ParseQuery(url.Values{filter.ParamCategory: cats})
}
