// Package history extracts structured field-change records from an
// issue's raw changelog JSON.
package history

import (
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ysksm/jiramirror/internal/models"
)

// Jira emits "2024-01-15T10:30:00.000+0000"; cloud instances sometimes
// return plain RFC3339.
var timeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339,
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Extract parses rawJSON's changelog.histories into change records.
//
// Extraction never fails: a missing changelog or histories array is a
// normal empty result, malformed JSON is logged and treated as "no
// history", and an unparsable created timestamp falls back to now (a
// documented loss of fidelity, not a crash). Given the same input the
// same ordered records come back every time.
func Extract(issueID, issueKey, rawJSON string) []models.ChangeHistoryItem {
	if rawJSON == "" {
		return nil
	}
	if !gjson.Valid(rawJSON) {
		slog.Warn("malformed issue JSON, skipping history extraction", "issue", issueKey)
		return nil
	}

	histories := gjson.Get(rawJSON, "changelog.histories")
	if !histories.Exists() || !histories.IsArray() {
		return nil
	}

	var items []models.ChangeHistoryItem
	histories.ForEach(func(_, h gjson.Result) bool {
		historyID := h.Get("id").String()
		author := h.Get("author")

		changedAt, ok := parseTime(h.Get("created").String())
		if !ok {
			changedAt = time.Now().UTC()
		}

		h.Get("items").ForEach(func(_, item gjson.Result) bool {
			field := item.Get("field")
			if !field.Exists() {
				return true // entries without a field key carry nothing useful
			}
			items = append(items, models.ChangeHistoryItem{
				IssueID:           issueID,
				IssueKey:          issueKey,
				HistoryID:         historyID,
				AuthorAccountID:   author.Get("accountId").String(),
				AuthorDisplayName: author.Get("displayName").String(),
				Field:             field.String(),
				FieldType:         item.Get("fieldtype").String(),
				FromValue:         item.Get("from").String(),
				FromString:        item.Get("fromString").String(),
				ToValue:           item.Get("to").String(),
				ToString:          item.Get("toString").String(),
				ChangedAt:         changedAt,
			})
			return true
		})
		return true
	})

	return items
}
