package catalog

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Fetcher is the external HTTP collaborator. Implemented by fetch.Client.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error)
}

// Request carries the per-dispatch context that preprocessors and
// constructors need: the fetched URL, the item being expanded and a
// fetcher for preprocessors that have to load additional documents.
type Request struct {
	URL     string
	Parent  *Item
	Fetcher Fetcher
}

type WalkerOptions struct {
	// NextPagePath is the fixed extraction path for the "next page"
	// locator, evaluated independently of the dispatched rule.
	NextPagePath string
	// PageCap bounds pagination-following in Browse. Upstream "next"
	// links have no cycle guarantee, so the cap is a hard stop.
	PageCap int
}

var DefaultWalkerOptions = WalkerOptions{
	NextPagePath: "_links.next.href",
	PageCap:      100,
}

// Walker applies a channel's rule table to fetched documents and turns
// raw records into items.
type Walker struct {
	rules        Rules
	fetcher      Fetcher
	nextPagePath string
	pageCap      int
	logger       *zap.Logger
}

func NewWalker(rules Rules, fetcher Fetcher, opts WalkerOptions, logger *zap.Logger) *Walker {
	if opts.NextPagePath == "" {
		opts.NextPagePath = DefaultWalkerOptions.NextPagePath
	}
	if opts.PageCap <= 0 {
		opts.PageCap = DefaultWalkerOptions.PageCap
	}
	return &Walker{
		rules:        rules,
		fetcher:      fetcher,
		nextPagePath: opts.NextPagePath,
		pageCap:      opts.PageCap,
		logger:       logger,
	}
}

// Process fetches one URL, dispatches it against the rule table and
// returns the items of that single page. The second return value is
// false on a dispatch miss, in which case the data is treated as
// terminal content and no items are produced.
func (w *Walker) Process(ctx context.Context, url string, parent *Item) ([]Item, bool, error) {
	zapFieldURL := zap.String("url", url)

	data, err := w.fetcher.Fetch(ctx, url, nil)
	if err != nil {
		return nil, false, err
	}

	kind := DetectContentKind(data)
	rule, ok := w.rules.Dispatch(url, kind)
	if !ok {
		w.logger.Debug("No rule matched, treating data as raw passthrough", zapFieldURL)
		return nil, false, nil
	}

	req := &Request{URL: url, Parent: parent, Fetcher: w.fetcher}

	var items []Item
	if rule.Pre != nil {
		var preItems []Item
		data, preItems, err = rule.Pre(ctx, req, data)
		if err != nil {
			return nil, true, err
		}
		items = append(items, preItems...)
	}

	if len(rule.Selectors) == 0 && w.nextPagePath == "" {
		return items, true, nil
	}

	// The preprocessor may have replaced HTML by JSON, so sniff again.
	doc, err := ParseDocument(data, DetectContentKind(data))
	if err != nil {
		return items, true, err
	}

	for _, sel := range rule.Selectors {
		records := doc.Get(sel.Path).Array()
		for _, record := range records {
			item, err := sel.Create(req, record)
			if err != nil {
				if err == ErrFiltered {
					w.logger.Debug("Record filtered", zapFieldURL)
				} else {
					w.logger.Warn("Couldn't create item from record", zap.Error(err), zapFieldURL)
				}
				continue
			}
			items = append(items, *item)
		}
	}

	// The "next page" link is evaluated independently of the rule.
	if pageItem, ok := w.nextPageItem(doc); ok {
		items = append(items, pageItem)
	}

	return items, true, nil
}

// Browse processes one URL and follows its "next page" items until the
// listing ends, a locator repeats or the page cap is reached. Page
// items themselves are consumed, not returned.
func (w *Walker) Browse(ctx context.Context, url string, parent *Item) ([]Item, error) {
	var all []Item
	visited := map[string]struct{}{}
	current := url

	for page := 0; page < w.pageCap; page++ {
		if _, seen := visited[current]; seen {
			w.logger.Warn("Next page locator was already visited, stopping traversal", zap.String("url", current))
			break
		}
		visited[current] = struct{}{}

		items, _, err := w.Process(ctx, current, parent)
		if err != nil {
			if len(all) == 0 {
				return nil, err
			}
			// A broken page must not invalidate the siblings we already have.
			w.logger.Warn("Couldn't process page, returning items collected so far", zap.Error(err), zap.String("url", current))
			break
		}

		next := ""
		for _, item := range items {
			if item.Kind == KindPage {
				next = item.Locator
				continue
			}
			all = append(all, item)
		}
		if next == "" {
			break
		}
		current = next
	}

	return all, nil
}

func (w *Walker) nextPageItem(doc gjson.Result) (Item, bool) {
	href := doc.Get(w.nextPagePath).String()
	if href == "" {
		return Item{}, false
	}
	// The page number is the value of the last query parameter.
	title := href[strings.LastIndex(href, "=")+1:]
	return Item{Kind: KindPage, Title: title, Locator: href}, true
}
