package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/cgrep/internal/graph"
	"github.com/Aman-CERP/cgrep/internal/search"
)

// FormatSearch formats a search response as markdown.
func FormatSearch(resp *search.Response) string {
	if resp == nil || len(resp.Results) == 0 {
		q := ""
		if resp != nil {
			q = resp.Query
		}
		return fmt.Sprintf("No results found for \"%s\"", q)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", resp.Query)
	fmt.Fprintf(&sb, "Found %d result%s (mode: %s", len(resp.Results), plural(len(resp.Results)), resp.Mode)
	if resp.Degraded {
		fmt.Fprintf(&sb, ", degraded: %s", resp.DegradedReason)
	}
	if resp.Fallback != "" {
		sb.WriteString(", no index")
	}
	sb.WriteString(")\n\n")

	for i, r := range resp.Results {
		fmt.Fprintf(&sb, "### %d. %s:%d-%d (score: %.2f, id: `%s`)\n", i+1, r.Path, r.StartLine, r.EndLine, r.Score, r.ID)
		if r.Symbol != "" {
			fmt.Fprintf(&sb, "**%s** `%s`\n", r.Kind, r.Symbol)
		}
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "```%s\n%s\n```\n", r.Language, r.Snippet)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatExpanded formats expanded result locations as markdown.
func FormatExpanded(items []search.Expanded) string {
	if len(items) == 0 {
		return "No result IDs to expand"
	}
	var sb strings.Builder
	for _, x := range items {
		if !x.Found {
			fmt.Fprintf(&sb, "### `%s`: not found\n\n", x.ID)
			continue
		}
		fmt.Fprintf(&sb, "### %s:%d-%d (`%s`)\n", x.Path, x.StartLine, x.EndLine, x.ID)
		body := x.Context
		if body == "" {
			body = x.Snippet
		}
		if body != "" {
			fmt.Fprintf(&sb, "```\n%s\n```\n", body)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatLocations formats a graph answer as markdown.
func FormatLocations(tool, target string, ans *graph.Answer) string {
	if ans == nil || len(ans.Locations) == 0 {
		return fmt.Sprintf("No %s found for \"%s\"", tool, target)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s of \"%s\"\n\n", strings.ToUpper(tool[:1])+tool[1:], target)
	for _, l := range ans.Locations {
		fmt.Fprintf(&sb, "- %s:%d:%d %s `%s`", l.Path, l.Line, l.Column, l.Kind, l.Name)
		if l.Caller != "" {
			fmt.Fprintf(&sb, " in `%s`", l.Caller)
		}
		if l.Code != "" {
			fmt.Fprintf(&sb, ": `%s`", l.Code)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
