package catalog

import (
	"sort"
	"time"
)

// Kind tells the caller how to treat an Item: folders are fetched again,
// videos go through the stream resolver, pages continue a listing.
type Kind string

const (
	KindCategory Kind = "category"
	KindFolder   Kind = "folder"
	KindVideo    Kind = "video"
	KindPage     Kind = "page"
	KindSearch   Kind = "search"
)

// Item is one node of the discovered content hierarchy.
// Items of kind "video" start out unresolved; the resolver fills Streams
// and sets Resolved once at least one playable stream was found.
type Item struct {
	Kind        Kind       `json:"kind"`
	Title       string     `json:"title"`
	Locator     string     `json:"locator"`
	Thumb       string     `json:"thumb,omitempty"`
	Fanart      string     `json:"fanart,omitempty"`
	Icon        string     `json:"icon,omitempty"`
	Description string     `json:"description,omitempty"`
	AiredAt     *time.Time `json:"airedAt,omitempty"`

	GeoRestricted    bool `json:"geoRestricted"`
	RightsRestricted bool `json:"rightsRestricted"`

	Resolved bool     `json:"resolved"`
	Streams  []Stream `json:"streams,omitempty"`
	Subtitle string   `json:"subtitle,omitempty"`

	// Headers that must accompany requests for Streams (session binding).
	HTTPHeaders map[string]string `json:"httpHeaders,omitempty"`
}

// Stream is one concrete playable locator with a quality rank used for
// default-selection ordering. Higher rank is preferred.
type Stream struct {
	URL         string `json:"url"`
	QualityRank int64  `json:"qualityRank"`
	// PlayPath is only set for RTMP streams that need an explicit play path.
	PlayPath string `json:"playPath,omitempty"`
}

// AppendStream adds a stream to the item, dropping duplicate URLs.
func (i *Item) AppendStream(s Stream) {
	for _, existing := range i.Streams {
		if existing.URL == s.URL {
			return
		}
	}
	i.Streams = append(i.Streams, s)
}

// SortStreams orders the item's streams by descending quality rank.
// The sort is stable, so streams of equal rank keep their append order
// (tier order, and within one tier the manifest's variant order).
func (i *Item) SortStreams() {
	sort.SliceStable(i.Streams, func(a, b int) bool {
		return i.Streams[a].QualityRank > i.Streams[b].QualityRank
	})
}
