package catalog

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	gocache "github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/mtgx-tools/viacat/pkg/i18n"
)

const (
	playAPIBase         = "http://playapi.mtgx.tv"
	searchAPIPattern    = "playapi.mtgx.tv/v3/search?term="
	playClientAPIPrefix = "/api/playClient;isColumn=true;query="

	// SearchLocator marks the synthetic search item. It's not a fetchable
	// URL; callers substitute it with the result of SearchURL.
	SearchLocator = "searchSite"
)

// Settings exposes the two user toggles this package consumes.
type Settings interface {
	HidePremium() bool
	PreferNativeHLS() bool
}

// Category is the upstream category metadata cached during main-list traversal.
type Category struct {
	ID    int64
	Slug  string
	Title string
}

type ChannelOptions struct {
	// Code selects the region/site and the upstream channel-ID allow-list.
	Code string
}

// Channel is one ViaFree site variant with its immutable rule table and
// the lazily populated category cache.
type Channel struct {
	code        string
	language    string
	mainListURL string
	baseURL     string
	noImage     string
	channelIDs  []int64 // nil means unrestricted
	labels      i18n.Table
	settings    Settings
	rules       Rules
	categories  *gocache.Cache
	logger      *zap.Logger
	now         func() time.Time
}

// NewChannel creates a channel for the given code. Unknown or
// unsupported codes are construction errors.
func NewChannel(opts ChannelOptions, settings Settings, logger *zap.Logger) (*Channel, error) {
	ch := &Channel{
		code:       opts.Code,
		settings:   settings,
		categories: gocache.New(gocache.NoExpiration, 0),
		logger:     logger,
		now:        time.Now,
	}

	// Channel IDs taken from http://playapi.mtgx.tv/v3/channels
	switch opts.Code {
	case "se3":
		ch.mainListURL = "https://www.viafree.se/program/"
		ch.noImage = "tv3seimage.png"
		ch.channelIDs = []int64{1209, 6000, 6001, 7000}
	case "se6":
		ch.mainListURL = "https://www.viafree.se/program/"
		ch.noImage = "tv6seimage.png"
		ch.channelIDs = []int64{959}
	case "se8":
		ch.mainListURL = "https://www.viafree.se/program/"
		ch.noImage = "tv8seimage.png"
		ch.channelIDs = []int64{801}
	case "se10":
		ch.mainListURL = "https://www.viafree.se/program/"
		ch.noImage = "tv10seimage.png"
		ch.channelIDs = []int64{5462}
	case "viafreese":
		ch.mainListURL = "https://www.viafree.se/program/"
		ch.noImage = "viafreeimage.png"
	case "tv3dk":
		ch.mainListURL = "http://www.viafree.dk/programmer"
		ch.noImage = "tv3noimage.png"
	case "no3":
		ch.mainListURL = "https://www.viafree.no/programmer"
		ch.noImage = "tv3noimage.png"
		ch.channelIDs = []int64{1550, 6100, 6101}
	case "no4":
		ch.mainListURL = "https://www.viafree.no/programmer"
		ch.noImage = "viasat4noimage.png"
		ch.channelIDs = []int64{935}
	case "no6":
		ch.mainListURL = "https://www.viafree.no/programmer"
		ch.noImage = "viasat4noimage.png"
		ch.channelIDs = []int64{1337}
	case "sesport":
		return nil, fmt.Errorf("ViaSat Sport is not part of this channel anymore")
	default:
		return nil, fmt.Errorf("unknown channel code: %q", opts.Code)
	}

	ch.baseURL = ch.mainListURL[:strings.LastIndex(ch.mainListURL, "/")]
	switch {
	case strings.Contains(ch.mainListURL, ".dk/"):
		ch.language = "dk"
	case strings.Contains(ch.mainListURL, ".no/"):
		ch.language = "no"
	default:
		ch.language = "se"
	}
	ch.labels = i18n.For(ch.language)

	ch.rules = Rules{
		{
			Pattern: ch.mainListURL,
			Match:   MatchExact,
			Content: ContentHTML,
			Pre:     ch.extractProgramsPage,
			Selectors: []Selector{
				{Path: "allProgramsPage.programs", Create: ch.createProgramItem},
			},
		},
		{
			Pattern: searchAPIPattern,
			Match:   MatchContains,
			Content: ContentJSON,
			Selectors: []Selector{
				{Path: "_embedded.formats", Create: ch.createSearchResultItem},
			},
		},
		{
			Pattern: playClientAPIPrefix,
			Match:   MatchContains,
			Content: ContentJSON,
			Selectors: []Selector{
				{Path: "data.formats", Create: ch.createProgramItem},
				{Path: "data.clips", Create: ch.createStreamLinkItem},
				{Path: "data.episodes", Create: ch.createStreamLinkItem},
			},
		},
		{
			Match:   MatchAny,
			Content: ContentHTML,
			Pre:     ch.addClipsFromHTML,
			Selectors: []Selector{
				{Path: "_embedded.videos", Create: ch.createVideoItem},
			},
		},
		{
			Match:   MatchAny,
			Content: ContentJSON,
			Pre:     ch.addClips,
			Selectors: []Selector{
				{Path: "_embedded.videos", Create: ch.createVideoItem},
			},
		},
	}

	return ch, nil
}

// Rules returns the channel's immutable dispatch table.
func (ch *Channel) Rules() Rules {
	return ch.rules
}

// MainListURL is the entry point of the channel's catalog.
func (ch *Channel) MainListURL() string {
	return ch.mainListURL
}

// Language returns the channel's two-letter site language.
func (ch *Channel) Language() string {
	return ch.language
}

// Category returns the cached metadata for a category ID, if the main
// list was traversed before.
func (ch *Channel) Category(id int64) (Category, bool) {
	catIface, found := ch.categories.Get(strconv.FormatInt(id, 10))
	if !found {
		return Category{}, false
	}
	cat, ok := catIface.(Category)
	if !ok {
		return Category{}, false
	}
	return cat, true
}

// SearchURL builds the search API URL for the given term.
func (ch *Channel) SearchURL(term string) string {
	return fmt.Sprintf(
		"https://playapi.mtgx.tv/v3/search?term=%s&limit=50&columns=formats&with=format&device=web&include_prepublished=1&country=%s&page=1",
		url.QueryEscape(term), ch.language)
}

// extractProgramsPage pulls the embedded page-state JSON out of the main
// list HTML, records the category metadata and prepends a search item.
func (ch *Channel) extractProgramsPage(ctx context.Context, req *Request, data []byte) ([]byte, []Item, error) {
	jsonData, err := ExtractEmbeddedJSON(data)
	if err != nil {
		return nil, nil, err
	}

	doc := gjson.ParseBytes(jsonData)
	count := 0
	for _, category := range doc.Get("categories").Array() {
		cat := Category{
			ID:    category.Get("id").Int(),
			Slug:  category.Get("slug").String(),
			Title: category.Get("title").String(),
		}
		ch.categories.Set(strconv.FormatInt(cat.ID, 10), cat, gocache.NoExpiration)
		count++
	}
	ch.logger.Debug("Cached category metadata", zap.Int("categoryCount", count))

	searchItem := Item{
		Kind:    KindSearch,
		Title:   fmt.Sprintf(".: %s :.", ch.labels.Get(i18n.LabelSearch)),
		Locator: SearchLocator,
		Thumb:   ch.noImage,
	}
	return jsonData, []Item{searchItem}, nil
}

// addClips derives the "clips" sibling listing for a program's video
// list. The program listing URL only differs in its type parameter.
func (ch *Channel) addClips(ctx context.Context, req *Request, data []byte) ([]byte, []Item, error) {
	if req.Parent == nil || !strings.HasSuffix(req.Parent.Locator, "type=program") {
		return data, nil, nil
	}
	clipURL := strings.Replace(req.Parent.Locator, "type=program", "type=clip", 1)
	return data, []Item{ch.clipsItem(clipURL)}, nil
}

// addClipsFromHTML handles program pages that still come as HTML: the
// format ID on the page leads to the API listing, which replaces the
// HTML as the data to parse, plus the clips sibling.
func (ch *Channel) addClipsFromHTML(ctx context.Context, req *Request, data []byte) ([]byte, []Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("Couldn't load the HTML in goquery: %v", err)
	}
	formatID, ok := doc.Find("[data-format-id]").Last().Attr("data-format-id")
	if !ok || formatID == "" {
		return nil, nil, &ExtractionError{Reason: "no data-format-id attribute in HTML"}
	}
	ch.logger.Debug("Found format ID in HTML", zap.String("formatID", formatID))

	programURL := fmt.Sprintf("%s/v3/videos?format=%s&order=-airdate&type=program", playAPIBase, formatID)
	programData, err := req.Fetcher.Fetch(ctx, programURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("Couldn't fetch program listing %v: %v", programURL, err)
	}

	clipURL := fmt.Sprintf("%s/v3/videos?format=%s&order=-updated&type=clip", playAPIBase, formatID)
	return programData, []Item{ch.clipsItem(clipURL)}, nil
}

func (ch *Channel) clipsItem(clipURL string) Item {
	return Item{
		Kind:    KindFolder,
		Title:   fmt.Sprintf(".: %s :.", ch.labels.Get(i18n.LabelClips)),
		Locator: clipURL,
		Thumb:   ch.noImage,
	}
}

func (ch *Channel) createProgramItem(req *Request, record gjson.Result) (*Item, error) {
	return ch.createFormatItem(record, true)
}

// createSearchResultItem builds a program item from a search result.
// Search results span all channels, so the allow-list doesn't apply.
func (ch *Channel) createSearchResultItem(req *Request, record gjson.Result) (*Item, error) {
	return ch.createFormatItem(record, false)
}

func (ch *Channel) createFormatItem(record gjson.Result, checkChannel bool) (*Item, error) {
	if checkChannel && ch.channelIDs != nil {
		channelID := record.Get("channel").Int()
		if !containsID(ch.channelIDs, channelID) {
			ch.logger.Debug("Found item for wrong channel", zap.Int64("channel", channelID))
			return nil, ErrFiltered
		}
	}

	image := record.Get("image").String()
	if image == "" {
		image = ch.noImage
	}
	item := &Item{
		Kind:          KindFolder,
		Title:         record.Get("title").String(),
		Locator:       fmt.Sprintf("%s/v3/videos?format=%s&order=-airdate&type=program", playAPIBase, record.Get("id").String()),
		Thumb:         ThumbURL(image),
		Fanart:        FanartURL(image),
		GeoRestricted: record.Get("onlyAvailableInSweden").Bool(),
	}
	return item, nil
}

// createStreamLinkItem builds a video item from a playClient clip or
// episode record, whose stream URL follows from the record ID.
func (ch *Channel) createStreamLinkItem(req *Request, record gjson.Result) (*Item, error) {
	if record.Get("loginRequired").Bool() && ch.settings.HidePremium() {
		ch.logger.Debug("Found premium item, hiding it")
		return nil, ErrFiltered
	}

	item := &Item{
		Kind:        KindVideo,
		Title:       record.Get("title").String(),
		Locator:     fmt.Sprintf("%s/v3/videos/stream/%s", playAPIBase, record.Get("id").String()),
		Description: record.Get("summary").String(),
	}
	if req.Parent != nil {
		item.Thumb = req.Parent.Thumb
		item.Icon = req.Parent.Icon
	}
	if image := record.Get("image").String(); image != "" {
		item.Thumb = ThumbURL(image)
	}

	airedAt := record.Get("airedAt").String()
	if airedAt == "" {
		airedAt = record.Get("publishedAt").String()
	}
	if t, ok := parseUpstreamTime(airedAt); ok {
		item.AiredAt = &t
	}

	item.Subtitle = record.Get("samiPath").String()
	if item.Subtitle == "" {
		item.Subtitle = record.Get("subtitles_webvtt").String()
	}
	return item, nil
}

// createVideoItem builds a video item from a playapi video record.
func (ch *Channel) createVideoItem(req *Request, record gjson.Result) (*Item, error) {
	if record.Get("loginRequired").Bool() && ch.settings.HidePremium() {
		ch.logger.Debug("Found premium item, hiding it")
		return nil, ErrFiltered
	}

	title := record.Get("title").String()
	streamURL := record.Get("_links.stream.href").String()
	if streamURL == "" {
		return nil, fmt.Errorf("no stream link for %q", title)
	}

	// The summary is the short version of the description. Only prepend
	// it when it adds something.
	description := strings.TrimSpace(record.Get("description").String())
	summary := strings.TrimSpace(record.Get("summary").String())
	if !strings.HasPrefix(description, summary) {
		description = summary + "\n\n" + description
	}

	videoType := record.Get("type").String()
	if videoType != "program" {
		title = fmt.Sprintf("%s (%s)", title, capitalize(videoType))
	} else if record.Get("format_position.is_episodic").Bool() {
		episode := record.Get("format_position.episode").Int()
		webisode := record.Get("webisode").Bool()
		// Only rewrite to "Show - Season x Episode y" when a real episode
		// number exists and it's not a short-form webisode.
		if episode > 0 && !webisode {
			description = title + "\n\n" + description
			title = fmt.Sprintf("%s - %s %s %s %s",
				record.Get("format_title").String(),
				ch.labels.Get(i18n.LabelSeason),
				record.Get("format_position.season").String(),
				ch.labels.Get(i18n.LabelEpisode),
				record.Get("format_position.episode").String())
		} else {
			ch.logger.Debug("Found episode number '0', using name instead of episode number", zap.String("title", title))
		}
	}

	item := &Item{
		Kind:          KindVideo,
		Title:         title,
		Locator:       streamURL,
		Description:   description,
		GeoRestricted: record.Get("is_geo_blocked").Bool(),
	}

	airedAt := ""
	broadcast := record.Get("broadcasts.0")
	if broadcast.Exists() {
		airedAt = broadcast.Get("air_at").String()
		if playableFrom, ok := parseUpstreamTime(broadcast.Get("playable_from").String()); ok && playableFrom.After(ch.now()) {
			item.RightsRestricted = true
		}
	} else {
		airedAt = record.Get("publish_at").String()
	}
	if t, ok := parseUpstreamTime(airedAt); ok {
		item.AiredAt = &t
	}

	if thumb := record.Get("_links.image.href").String(); thumb != "" {
		item.Thumb = ThumbURL(thumb)
	}

	item.Subtitle = record.Get("sami_path").String()
	if item.Subtitle == "" {
		item.Subtitle = record.Get("subtitles_webvtt").String()
	}
	return item, nil
}

// ThumbURL fills the upstream image template's size placeholder with
// the regular thumbnail size. URLs without the placeholder pass through.
func ThumbURL(u string) string {
	return strings.ReplaceAll(u, "{size}", "230x150")
}

// FanartURL fills the size placeholder with the wide fanart size.
func FanartURL(u string) string {
	return strings.ReplaceAll(u, "{size}", "1280x720")
}

// parseUpstreamTime parses timestamps like "2016-05-20T15:05:00+00:00"
// or with a trailing "Z". The zone offset is ignored, matching how the
// site's own frontend displays broadcast times.
func parseUpstreamTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if i := strings.Index(s, "+"); i != -1 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, "Z")
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
