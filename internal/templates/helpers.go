package templates

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/webis-de/GenIRSim/internal/domain"
)

var lineBreak = regexp.MustCompile(`\r\n|\n`)

// ErrEmptyTable indicates a tabular replacement blob without a header row.
var ErrEmptyTable = errors.New("tabular replacements are empty")

// JoinMessages renders a conversation as "role: content" lines.
func JoinMessages(messages []domain.Message) string {
	lines := make([]string, len(messages))
	for i, m := range messages {
		lines[i] = m.Role + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}

// JoinProperties renders an object as "key: value" lines. Only the given
// keys are included when any are passed; otherwise all keys in sorted order.
func JoinProperties(properties map[string]any, keys ...string) string {
	if len(keys) == 0 {
		keys = make([]string, 0, len(properties))
		for key := range properties {
			keys = append(keys, key)
		}
		sort.Strings(keys)
	}

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		value, ok := properties[key]
		if !ok {
			continue
		}
		lines = append(lines, key+": "+stringify(value))
	}
	return strings.Join(lines, "\n")
}

// TSVToContexts converts tab-separated text into one context per data row.
// Row 0 holds the variable names. A single trailing newline is ignored and
// missing trailing cells become empty strings.
func TSVToContexts(tsv string) ([]map[string]any, error) {
	tsv = strings.TrimSuffix(tsv, "\n")
	tsv = strings.TrimSuffix(tsv, "\r")
	if tsv == "" {
		return nil, ErrEmptyTable
	}

	rows := lineBreak.Split(tsv, -1)
	header := strings.Split(rows[0], "\t")
	contexts := make([]map[string]any, 0, len(rows)-1)
	for r, row := range rows[1:] {
		cells := strings.Split(row, "\t")
		if len(cells) > len(header) {
			return nil, fmt.Errorf("row %d has %d cells but the header has %d", r+1, len(cells), len(header))
		}
		context := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(cells) {
				context[name] = cells[i]
			} else {
				context[name] = ""
			}
		}
		contexts = append(contexts, context)
	}
	return contexts, nil
}
