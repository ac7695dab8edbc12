package templates

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_TSVToContextsKeepsCells(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	header := []string{"topic", "expected", "id"}

	properties.Property("every cell lands under its header name in row order", prop.ForAll(
		func(rows [][]string, trailingNewline bool) bool {
			lines := []string{strings.Join(header, "\t")}
			for _, row := range rows {
				lines = append(lines, strings.Join(row, "\t"))
			}
			tsv := strings.Join(lines, "\n")
			if trailingNewline {
				tsv += "\n"
			}

			contexts, err := TSVToContexts(tsv)
			if err != nil || len(contexts) != len(rows) {
				return false
			}
			for r, row := range rows {
				for c, name := range header {
					if contexts[r][name] != row[c] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.SliceOfN(len(header), gen.AlphaString())),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
