package syncer

import (
	"fmt"
	"os"
	"slices"

	"github.com/agnosticeng/agnostic-blockchain-sync/internal/errs"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// loadConfigFile applies the values of a YAML file to every flag not already
// set on the command line or through the environment.
func loadConfigFile(ctx *cli.Context, path string) error {
	content, err := os.ReadFile(path)

	if err != nil {
		return errs.Usagef("failed to read config file %s: %s", path, err)
	}

	var values map[string]any

	if err := yaml.Unmarshal(content, &values); err != nil {
		return errs.Usagef("failed to parse config file %s: %s", path, err)
	}

	var names = lo.Keys(values)
	slices.Sort(names)

	for _, name := range names {
		if ctx.IsSet(name) {
			continue
		}

		if err := setFlag(ctx, name, values[name]); err != nil {
			return errs.Usagef("invalid value for %s in %s: %s", name, path, err)
		}
	}

	return nil
}

func setFlag(ctx *cli.Context, name string, v any) error {
	switch v := v.(type) {
	case nil:
		return nil
	case []any:
		for _, item := range v {
			if err := ctx.Set(name, fmt.Sprint(item)); err != nil {
				return err
			}
		}

		return nil
	case map[string]any:
		var keys = lo.Keys(v)
		slices.Sort(keys)

		for _, k := range keys {
			if err := ctx.Set(name, fmt.Sprintf("%s=%v", k, v[k])); err != nil {
				return err
			}
		}

		return nil
	default:
		return ctx.Set(name, fmt.Sprint(v))
	}
}
