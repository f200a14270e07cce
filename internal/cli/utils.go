// Package cli formats temuan results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/temuan/internal/models"
	"github.com/hyperjump/temuan/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const (
	separator      = "─────────────────────────────────────────────────────────"
	descriptionMax = 160
)

// ParseFormat maps a flag value onto an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteMatchResult writes a match result in the given format.
func WriteMatchResult(w io.Writer, result *models.MatchResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, result)
	}
	fallback := ""
	if result.FallbackUsed {
		fallback = ", fallback thresholds"
	}
	fmt.Fprintf(w, "\nFound %d matches in %s in %dms%s\n", result.Total, result.Collection, result.QueryTime, fallback)
	fmt.Fprintf(w, "Thresholds: image %.2f, text %.2f | Weights: image %.2f, text %.2f\n\n",
		result.ImageThreshold, result.TextThreshold, result.ImageWeight, result.TextWeight)
	for _, m := range result.Matches {
		writeMatch(w, m)
	}
	return nil
}

func writeMatch(w io.Writer, m *models.Match) {
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "#%d [%s] Score: %.4f", m.Rank, m.MatchType, m.Score)
	if b := m.Breakdown; b != nil {
		fmt.Fprintf(w, " (image %.4f, text %.4f", b.ImageScore, b.TextScore)
		if b.BonusMultiplier > 1 {
			fmt.Fprintf(w, ", bonus x%.2f", b.BonusMultiplier)
		}
		fmt.Fprint(w, ")")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "ID: %s\n", m.ID)
	if m.Name != "" {
		fmt.Fprintf(w, "Item: %s\n", m.Name)
	}
	if m.Category != "" {
		fmt.Fprintf(w, "Category: %s\n", m.Category)
	}
	if m.Text != nil && len(m.Text.CommonWords) > 0 {
		fmt.Fprintf(w, "Common words: %s\n", strings.Join(m.Text.CommonWords, ", "))
	}
	if m.Description != "" {
		fmt.Fprintf(w, "\n%s\n", utils.Truncate(m.Description, descriptionMax))
	}
	fmt.Fprintln(w)
}

// WriteItems writes an item listing in the given format.
func WriteItems(w io.Writer, items []*models.Item, format OutputFormat) error {
	if format == OutputJSON {
		if items == nil {
			items = []*models.Item{}
		}
		return WriteJSON(w, items)
	}
	fmt.Fprintf(w, "%d items\n", len(items))
	for _, it := range items {
		WriteItem(w, it)
	}
	return nil
}

// WriteItem writes one item as text.
func WriteItem(w io.Writer, it *models.Item) {
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "%s  %s [%s/%s]\n", it.ID, it.Name, it.Collection, it.Status)
	if it.Category != "" || it.Location != "" {
		fmt.Fprintf(w, "Category: %s  Location: %s\n", it.Category, it.Location)
	}
	if it.ClaimedBy != "" {
		fmt.Fprintf(w, "Claimed by: %s\n", it.ClaimedBy)
	}
	if len(it.ImageRefs) > 0 {
		fmt.Fprintf(w, "Images: %s\n", strings.Join(it.ImageRefs, ", "))
	}
	if it.Description != "" {
		fmt.Fprintf(w, "%s\n", utils.Truncate(it.Description, descriptionMax))
	}
}

// WriteThresholds writes the active threshold configuration.
func WriteThresholds(w io.Writer, cfg *models.ThresholdConfig, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, cfg)
	}
	fmt.Fprintf(w, "Image threshold:  %.4f\n", cfg.ImageThreshold)
	fmt.Fprintf(w, "Text threshold:   %.4f\n", cfg.TextThreshold)
	fmt.Fprintf(w, "Weights:          image %.2f, text %.2f\n", cfg.ImageWeight, cfg.TextWeight)
	fmt.Fprintf(w, "Optimal:          %.2f (accuracy %.2f over %d feedback)\n",
		cfg.OptimalThreshold, cfg.OverallAccuracy, cfg.BasedOnFeedbackCount)
	fmt.Fprintf(w, "Updated:          %s\n", cfg.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}
