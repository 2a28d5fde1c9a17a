package cache

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
)

func TestKeyNormalizesQuery(t *testing.T) {
	require.Equal(t, Key("Go Generics", "tavily"), Key("  go generics\t", "tavily"))
	require.NotEqual(t, Key("go generics", "tavily"), Key("go generics", "wikipedia"))
	require.Len(t, Key("anything", "p"), 32)
}

func TestNormalizeQueryFoldsUnicode(t *testing.T) {
	require.Equal(t, "strasse", NormalizeQuery(" STRAẞE "))
	require.Equal(t, NormalizeQuery("Straße"), NormalizeQuery("STRASSE"))
	require.Equal(t, "kelvin", NormalizeQuery("\u212Aelvin"))
	require.Equal(t, Key("\u01C4", "p"), Key("\u01C6", "p"))
}

func TestKeySeparatorPreventsAmbiguity(t *testing.T) {
	require.NotEqual(t, Key("b:c", "a"), Key("c", "a:b"))
}

func TestKeyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("key ignores case and surrounding space", prop.ForAll(
		func(q string) bool {
			return Key(q, "p") == Key("  "+q+" ", "p")
		},
		gen.AlphaString(),
	))

	properties.Property("different normalized queries give different keys", prop.ForAll(
		func(a, b string) bool {
			if NormalizeQuery(a) == NormalizeQuery(b) {
				return true
			}
			return Key(a, "p") != Key(b, "p")
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestEntryExpiry(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := NewEntry("Q", "p", []run.Source{{URL: "u"}}, 0, now)
	require.True(t, e.Expired(now))
	require.Equal(t, "q", e.Query)

	e = NewEntry("q", "p", nil, time.Minute, now)
	require.False(t, e.Expired(now.Add(59*time.Second)))
	require.True(t, e.Expired(now.Add(time.Minute)))

	e = NewEntry("q", "p", nil, -time.Minute, now)
	require.True(t, e.Expired(now))
}
