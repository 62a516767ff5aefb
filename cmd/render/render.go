package render

import (
	"fmt"
	"slices"
	"strings"
	"text/template"

	"github.com/agnosticeng/agnostic-blockchain-sync/internal/cassandra"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/ch"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/utils"
	"github.com/urfave/cli/v2"
)

var Flags = []cli.Flag{
	&cli.StringSliceFlag{Name: "var", Usage: "k=v template variable, list values are space separated"},
}

func Command() *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "print the embedded CQL and SQL templates rendered with the given variables",
		ArgsUsage: "[template name...]",
		Flags:     Flags,
		Action: func(ctx *cli.Context) error {
			var vars = parseVars(utils.ParseKeyValues(ctx.StringSlice("var"), "="))

			cql, err := cassandra.Templates()

			if err != nil {
				return err
			}

			sql, err := ch.Templates()

			if err != nil {
				return err
			}

			for _, tmpl := range []*template.Template{cql, sql} {
				var templates = tmpl.Templates()

				slices.SortFunc(templates, func(a, b *template.Template) int {
					return strings.Compare(a.Name(), b.Name())
				})

				for _, t := range templates {
					if ctx.NArg() > 0 && !slices.Contains(ctx.Args().Slice(), t.Name()) {
						continue
					}

					fmt.Println("--------------------------------------------------------------------------------")
					fmt.Println(t.Name())
					fmt.Println("--------------------------------------------------------------------------------")

					str, err := utils.RenderTemplate(tmpl, t.Name(), vars)

					if err != nil {
						fmt.Printf("cannot render %s: %v\n", t.Name(), err)
						continue
					}

					fmt.Println(str)
				}
			}

			return nil
		},
	}
}

// parseVars turns space separated values into lists so that templates
// joining buckets or keys can be rendered from the command line.
func parseVars(kvs map[string]interface{}) map[string]interface{} {
	for k, v := range kvs {
		if s, ok := v.(string); ok && strings.Contains(s, " ") {
			kvs[k] = strings.Fields(s)
		}
	}

	return kvs
}
