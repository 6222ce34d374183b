// Package i18n supplies the localized display labels used when
// composing item titles, keyed by a fixed label enumeration.
package i18n

// LabelID identifies one translatable display label.
type LabelID int

const (
	LabelSeason LabelID = iota
	LabelEpisode
	LabelClips
	LabelSearch
)

// Table holds the labels for one language.
type Table struct {
	labels     map[LabelID]string
	searchSlug string
}

// Get returns the label for the given ID. Unknown IDs yield "".
func (t Table) Get(id LabelID) string {
	return t.labels[id]
}

// SearchSlug returns the language's URL slug for the search page.
func (t Table) SearchSlug() string {
	return t.searchSlug
}

var tables = map[string]Table{
	"se": {
		labels: map[LabelID]string{
			LabelSeason:  "Säsong",
			LabelEpisode: "Avsnitt",
			LabelClips:   "Klipp",
			LabelSearch:  "Sök",
		},
		searchSlug: "sok",
	},
	"no": {
		labels: map[LabelID]string{
			LabelSeason:  "Sesong",
			LabelEpisode: "Episode",
			LabelClips:   "Klipp",
			LabelSearch:  "Søk",
		},
		searchSlug: "sok",
	},
	"dk": {
		labels: map[LabelID]string{
			LabelSeason:  "Sæson",
			LabelEpisode: "Afsnit",
			LabelClips:   "Klip",
			LabelSearch:  "Søg",
		},
		searchSlug: "sog",
	},
	"ee": {
		labels: map[LabelID]string{
			LabelSeason:  "Hooaeg",
			LabelEpisode: "Episood",
			LabelClips:   "Klipid",
			LabelSearch:  "Otsi",
		},
		searchSlug: "otsing",
	},
	"lt": {
		labels: map[LabelID]string{
			LabelSeason:  "Sezonas",
			LabelEpisode: "Epizodas",
			LabelClips:   "Klipai",
			LabelSearch:  "Paieška",
		},
		searchSlug: "paieska",
	},
	"lv": {
		labels: map[LabelID]string{
			LabelSeason:  "Sezona",
			LabelEpisode: "Epizode",
			LabelClips:   "Klipi",
			LabelSearch:  "Meklēt",
		},
		searchSlug: "meklet",
	},
}

// For returns the label table for the given language, falling back to
// Swedish for languages the site doesn't localize.
func For(language string) Table {
	if t, ok := tables[language]; ok {
		return t
	}
	return tables["se"]
}
