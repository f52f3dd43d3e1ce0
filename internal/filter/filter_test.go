package filter

import (
	"testing"

	"github.com/kptv/streamsync/internal/models"
	"github.com/stretchr/testify/require"
)

func rules(rs ...models.FilterRule) []models.FilterRule { return rs }

func include(pattern string) models.FilterRule {
	return models.FilterRule{Type: models.FilterTypeInclude, Pattern: pattern}
}

func exclude(pattern string) models.FilterRule {
	return models.FilterRule{Type: models.FilterTypeExclude, Pattern: pattern}
}

func TestCompile_RejectsMalformedRegex(t *testing.T) {
	_, err := Compile(rules(models.FilterRule{ID: 42, Type: models.FilterTypeInclude, Pattern: "(["}))
	require.Error(t, err)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, int64(42), ce.RuleID)
}

func TestCompile_RejectsUnknownType(t *testing.T) {
	_, err := Compile(rules(models.FilterRule{Type: 9, Pattern: ".*"}))
	require.Error(t, err)
}

func TestMatch_IncludePrecedence(t *testing.T) {
	tests := []struct {
		name     string
		rules    []models.FilterRule
		stream   string
		survives bool
	}{
		{"no rules keeps everything", nil, "Anything", true},
		{"include match survives", rules(include(`(?i)^US`)), "US ESPN", true},
		{"include miss removed", rules(include(`(?i)^US`)), "UK BBC One", false},
		{"any of several includes", rules(include(`^UK`), include(`^US`)), "UK BBC One", true},
		{"exclude removes match", rules(exclude(`(?i)XXX`)), "XXX Adult", false},
		{"exclude leaves non-match", rules(exclude(`(?i)XXX`)), "US ESPN", true},
		{"exclude wins over include", rules(include(`^US`), exclude(`ESPN`)), "US ESPN", false},
		{"include survives other excludes", rules(include(`^US`), exclude(`Shopping`)), "US ESPN", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := Compile(tt.rules)
			require.NoError(t, err)
			require.Equal(t, tt.survives, set.Match(tt.stream))
		})
	}
}

func TestApply_FiltersByOrigName(t *testing.T) {
	set, err := Compile(rules(include(`^US`), exclude(`ESPN 2`)))
	require.NoError(t, err)

	in := []models.StagingRecord{
		{OrigName: "US ESPN", StreamURI: "u1"},
		{OrigName: "US ESPN 2", StreamURI: "u2"},
		{OrigName: "UK BBC One", StreamURI: "u3"},
	}
	out := set.Apply(in)
	require.Len(t, out, 1)
	require.Equal(t, "u1", out[0].StreamURI)
	// input untouched
	require.Len(t, in, 3)
}

func TestApply_EmptySetPassesThrough(t *testing.T) {
	set, err := Compile(nil)
	require.NoError(t, err)
	require.True(t, set.Empty())

	in := []models.StagingRecord{{OrigName: "A"}, {OrigName: "B"}}
	require.Equal(t, in, set.Apply(in))
}
