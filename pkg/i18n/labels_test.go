package i18n

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForKnownLanguages(t *testing.T) {
	require.Equal(t, "Säsong", For("se").Get(LabelSeason))
	require.Equal(t, "Afsnit", For("dk").Get(LabelEpisode))
	require.Equal(t, "Episood", For("ee").Get(LabelEpisode))
	require.Equal(t, "sog", For("dk").SearchSlug())
	require.Equal(t, "paieska", For("lt").SearchSlug())
}

func TestForFallsBackToSwedish(t *testing.T) {
	table := For("fi")
	require.Equal(t, "Sök", table.Get(LabelSearch))
	require.Equal(t, "sok", table.SearchSlug())
}

func TestGetUnknownLabel(t *testing.T) {
	require.Empty(t, For("se").Get(LabelID(99)))
}
