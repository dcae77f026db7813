package migrator

import (
	"strconv"
	"strings"
)

// Plan lists, in execution order, what Migrate would do with opts. It makes
// no calls and is what a dry run prints.
func Plan(opts Options) []string {
	var steps []string
	if opts.ApplyGlobalConfig {
		steps = append(steps,
			"Update data lake settings to use IAM controls",
			"De-register all data lake locations",
			"Grant CREATE_DATABASE to IAM_ALLOWED_PRINCIPALS",
		)
	}
	steps = append(steps,
		"Grant ALL permissions to IAM_ALLOWED_PRINCIPALS for databases/tables",
		"Revoke all other Lake Formation permissions",
	)

	var notes []string
	if len(opts.TargetDatabases) > 0 {
		notes = append(notes, "Limited to databases: "+strings.Join(opts.TargetDatabases, ", "))
	}
	if !opts.ApplyGlobalConfig {
		notes = append(notes, "Skipping global configuration updates")
	}
	if opts.SkipErrors {
		notes = append(notes, "Revoke errors are skipped")
	}

	out := make([]string, 0, len(steps)+len(notes))
	for i, s := range steps {
		out = append(out, strconv.Itoa(i+1)+". "+s)
	}
	for _, n := range notes {
		out = append(out, "   - "+n)
	}
	return out
}

