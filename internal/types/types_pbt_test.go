package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestParseEnvironment_RoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("parsing a known environment returns it unchanged", prop.ForAll(
		func(env Environment) bool {
			got, err := ParseEnvironment(string(env))
			return err == nil && got == env
		},
		gen.OneConstOf(EnvConstrainedHosting, EnvInteractiveDevelopment, EnvUnconstrainedLocal),
	))

	properties.Property("only terminal statuses are finished and error", prop.ForAll(
		func(s string) bool {
			status := JobStatus(s)
			return status.IsTerminal() == (status == JobFinished || status == JobError)
		},
		gen.OneConstOf("queued", "running", "finished", "error", "completed", ""),
	))

	properties.TestingRun(t)
}
