// Package ufcstats scrapes upcoming event, fight card, and matchup data
// from ufcstats.com.
package ufcstats

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/fightiq/octagon/pkg/errorsx"
)

const (
	DefaultBaseURL   = "http://ufcstats.com"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	recentFightsSection = "Most recent fights (Newest First)"
)

type Event struct {
	Name     string    `json:"name"`
	Date     string    `json:"date"`
	When     time.Time `json:"-"`
	Location string    `json:"location"`
	URL      string    `json:"event_url"`
	Fights   []Fight   `json:"fights,omitempty"`
}

type FighterStats struct {
	Stats        map[string]string `json:"stats"`
	RecentFights []string          `json:"recent_fights"`
}

type Fight struct {
	URL           string        `json:"fight_url"`
	Fighter1      string        `json:"fighter_1"`
	Fighter2      string        `json:"fighter_2"`
	WeightClass   string        `json:"weight_class"`
	TitleFight    bool          `json:"title_fight"`
	Fighter1Stats *FighterStats `json:"fighter_1_stats,omitempty"`
	Fighter2Stats *FighterStats `json:"fighter_2_stats,omitempty"`
}

type Client struct {
	BaseURL   string
	UserAgent string
	http      *retryablehttp.Client
}

type ClientOptions struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Retries   int
}

func NewClient(opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.Retries
	rc.HTTPClient.Timeout = opts.Timeout
	rc.Logger = nil
	return &Client{
		BaseURL:   strings.TrimRight(opts.BaseURL, "/"),
		UserAgent: opts.UserAgent,
		http:      rc,
	}
}

// UpcomingEvents lists upcoming events, newest first as the site orders
// them. maxEvents <= 0 means no cap.
func (c *Client) UpcomingEvents(ctx context.Context, maxEvents int) ([]Event, error) {
	doc, err := c.fetch(ctx, c.BaseURL+"/statistics/events/upcoming")
	if err != nil {
		return nil, err
	}

	var events []Event
	doc.Find("tr.b-statistics__table-row").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		name := row.Find("a.b-link").First()
		date := row.Find("span.b-statistics__date").First()
		location := row.Find("td.b-statistics__table-col.b-statistics__table-col_style_big-top-padding").First()
		if name.Length() == 0 || date.Length() == 0 || location.Length() == 0 {
			return true
		}
		url, _ := name.Attr("href")
		ev := Event{
			Name:     strings.TrimSpace(name.Text()),
			Date:     strings.TrimSpace(date.Text()),
			Location: strings.TrimSpace(location.Text()),
			URL:      strings.TrimSpace(url),
		}
		if when, err := dateparse.ParseAny(ev.Date); err == nil {
			ev.When = when
		}
		events = append(events, ev)
		return maxEvents <= 0 || len(events) < maxEvents
	})
	return events, nil
}

// EventFights lists the fights on an event page in card order.
func (c *Client) EventFights(ctx context.Context, eventURL string) ([]Fight, error) {
	doc, err := c.fetch(ctx, eventURL)
	if err != nil {
		return nil, err
	}

	var fights []Fight
	doc.Find("tbody > tr.b-fight-details__table-row").Each(func(_ int, row *goquery.Selection) {
		link, _ := row.Attr("data-link")
		link = strings.TrimSpace(link)

		var fighters []string
		row.Find("td.b-fight-details__table-col a.b-link.b-link_style_black[href]").Each(func(_ int, a *goquery.Selection) {
			fighters = append(fighters, strings.TrimSpace(a.Text()))
		})

		cols := row.Find("td.b-fight-details__table-col")
		if link == "" || len(fighters) != 2 || cols.Length() <= 6 {
			return
		}
		weightClass := strings.TrimSpace(strings.SplitN(cols.Eq(6).Text(), "\n", 2)[0])
		titleFight := row.Find("img[src*='belt.png']").Length() > 0

		fights = append(fights, Fight{
			URL:         link,
			Fighter1:    fighters[0],
			Fighter2:    fighters[1],
			WeightClass: weightClass,
			TitleFight:  titleFight,
		})
	})
	return fights, nil
}

// Matchup scrapes the side-by-side comparison table on a fight page.
// Rows under the recent-fights section header become each fighter's
// fight history; every other three-column row is a labeled stat.
func (c *Client) Matchup(ctx context.Context, fightURL string) (FighterStats, FighterStats, error) {
	one := FighterStats{Stats: map[string]string{}}
	two := FighterStats{Stats: map[string]string{}}

	doc, err := c.fetch(ctx, fightURL)
	if err != nil {
		return one, two, err
	}

	section := ""
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if header := row.Find("th.b-fight-details__table-col").First(); header.Length() > 0 {
			section = strings.TrimSpace(header.Text())
			return
		}
		cols := row.Find("td.b-fight-details__table-col")
		if cols.Length() != 3 {
			return
		}
		label := strings.TrimSpace(cols.Eq(0).Text())
		value1 := strings.TrimSpace(cols.Eq(1).Text())
		value2 := strings.TrimSpace(cols.Eq(2).Text())

		if section == recentFightsSection {
			if value1 != "" {
				one.RecentFights = append(one.RecentFights, value1)
			}
			if value2 != "" {
				two.RecentFights = append(two.RecentFights, value2)
			}
			return
		}
		one.Stats[label] = value1
		two.Stats[label] = value2
	})
	return one, two, nil
}

func (c *Client) fetch(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonStatsFetch)
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonStatsFetch)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorsx.Wrap(fmt.Errorf("ufcstats: %s returned %s", url, resp.Status), errorsx.ReasonStatsFetch)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonStatsParse)
	}
	return doc, nil
}
