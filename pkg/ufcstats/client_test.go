package ufcstats

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fightiq/octagon/pkg/errorsx"
)

const upcomingHTML = `
<html><body><table><tbody>
<tr class="b-statistics__table-row">
  <td class="b-statistics__table-col">
    <a class="b-link" href="http://ufcstats.com/event-details/aaa111">UFC 321: Aspinall vs. Gane</a>
    <span class="b-statistics__date">October 25, 2025</span>
  </td>
  <td class="b-statistics__table-col b-statistics__table-col_style_big-top-padding">Abu Dhabi, United Arab Emirates</td>
</tr>
<tr class="b-statistics__table-row">
  <td class="b-statistics__table-col">
    <a class="b-link" href="http://ufcstats.com/event-details/bbb222">UFC Fight Night: Garcia vs. Onama</a>
    <span class="b-statistics__date">November 1, 2025</span>
  </td>
  <td class="b-statistics__table-col b-statistics__table-col_style_big-top-padding">Las Vegas, Nevada, USA</td>
</tr>
<tr class="b-statistics__table-row">
  <td class="b-statistics__table-col">
    <a class="b-link" href="http://ufcstats.com/event-details/ccc333">UFC 322: Della Maddalena vs. Makhachev</a>
    <span class="b-statistics__date">November 15, 2025</span>
  </td>
  <td class="b-statistics__table-col b-statistics__table-col_style_big-top-padding">New York City, New York, USA</td>
</tr>
</tbody></table></body></html>`

const eventHTML = `
<html><body><table><tbody>
<tr class="b-fight-details__table-row" data-link="http://ufcstats.com/fight-details/f1">
  <td class="b-fight-details__table-col"><img src="/images/belt.png"></td>
  <td class="b-fight-details__table-col">
    <a class="b-link b-link_style_black" href="http://ufcstats.com/fighter-details/x1">Tom Aspinall</a>
    <a class="b-link b-link_style_black" href="http://ufcstats.com/fighter-details/x2">Ciryl Gane</a>
  </td>
  <td class="b-fight-details__table-col"></td>
  <td class="b-fight-details__table-col"></td>
  <td class="b-fight-details__table-col"></td>
  <td class="b-fight-details__table-col"></td>
  <td class="b-fight-details__table-col">Heavyweight
Bout</td>
</tr>
<tr class="b-fight-details__table-row" data-link="http://ufcstats.com/fight-details/f2">
  <td class="b-fight-details__table-col"></td>
  <td class="b-fight-details__table-col">
    <a class="b-link b-link_style_black" href="http://ufcstats.com/fighter-details/x3">Virna Jandiroba</a>
    <a class="b-link b-link_style_black" href="http://ufcstats.com/fighter-details/x4">Mackenzie Dern</a>
  </td>
  <td class="b-fight-details__table-col"></td>
  <td class="b-fight-details__table-col"></td>
  <td class="b-fight-details__table-col"></td>
  <td class="b-fight-details__table-col"></td>
  <td class="b-fight-details__table-col">Women's Strawweight</td>
</tr>
</tbody></table></body></html>`

const matchupHTML = `
<html><body><table>
<tr><th class="b-fight-details__table-col">Comparison</th></tr>
<tr>
  <td class="b-fight-details__table-col">Wins/Losses/Draws</td>
  <td class="b-fight-details__table-col">15-3-0</td>
  <td class="b-fight-details__table-col">13-2-0</td>
</tr>
<tr>
  <td class="b-fight-details__table-col">Average Fight Time</td>
  <td class="b-fight-details__table-col">7:32</td>
  <td class="b-fight-details__table-col">12:11</td>
</tr>
<tr><th class="b-fight-details__table-col">Most recent fights (Newest First)</th></tr>
<tr>
  <td class="b-fight-details__table-col"></td>
  <td class="b-fight-details__table-col">W vs. Curtis Blaydes</td>
  <td class="b-fight-details__table-col">W vs. Alexander Volkov</td>
</tr>
<tr>
  <td class="b-fight-details__table-col"></td>
  <td class="b-fight-details__table-col">L vs. Curtis Blaydes</td>
  <td class="b-fight-details__table-col"></td>
</tr>
</table></body></html>`

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientOptions{BaseURL: srv.URL, Retries: 1}), srv
}

func TestUpcomingEvents(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/statistics/events/upcoming" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("User-Agent") != defaultUserAgent {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte(upcomingHTML))
	}))

	events, err := client.UpcomingEvents(context.Background(), 0)
	if err != nil {
		t.Fatalf("UpcomingEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	first := events[0]
	if first.Name != "UFC 321: Aspinall vs. Gane" {
		t.Errorf("name = %q", first.Name)
	}
	if first.Location != "Abu Dhabi, United Arab Emirates" {
		t.Errorf("location = %q", first.Location)
	}
	if first.URL != "http://ufcstats.com/event-details/aaa111" {
		t.Errorf("url = %q", first.URL)
	}
	if first.When.IsZero() || first.When.Year() != 2025 {
		t.Errorf("date not parsed: %v", first.When)
	}
}

func TestUpcomingEventsRespectsCap(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(upcomingHTML))
	}))

	events, err := client.UpcomingEvents(context.Background(), 2)
	if err != nil {
		t.Fatalf("UpcomingEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestEventFights(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(eventHTML))
	}))

	fights, err := client.EventFights(context.Background(), srv.URL+"/event-details/aaa111")
	if err != nil {
		t.Fatalf("EventFights: %v", err)
	}
	if len(fights) != 2 {
		t.Fatalf("expected 2 fights, got %d", len(fights))
	}
	main := fights[0]
	if main.Fighter1 != "Tom Aspinall" || main.Fighter2 != "Ciryl Gane" {
		t.Errorf("fighters = %q vs %q", main.Fighter1, main.Fighter2)
	}
	if main.WeightClass != "Heavyweight" {
		t.Errorf("weight class = %q", main.WeightClass)
	}
	if !main.TitleFight {
		t.Errorf("belt image should mark a title fight")
	}
	if fights[1].TitleFight {
		t.Errorf("co-main should not be a title fight")
	}
	if fights[1].WeightClass != "Women's Strawweight" {
		t.Errorf("weight class = %q", fights[1].WeightClass)
	}
}

func TestMatchup(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(matchupHTML))
	}))

	one, two, err := client.Matchup(context.Background(), srv.URL+"/fight-details/f1")
	if err != nil {
		t.Fatalf("Matchup: %v", err)
	}
	if one.Stats["Wins/Losses/Draws"] != "15-3-0" {
		t.Errorf("fighter one record = %q", one.Stats["Wins/Losses/Draws"])
	}
	if two.Stats["Average Fight Time"] != "12:11" {
		t.Errorf("fighter two fight time = %q", two.Stats["Average Fight Time"])
	}
	if len(one.RecentFights) != 2 || one.RecentFights[0] != "W vs. Curtis Blaydes" {
		t.Errorf("fighter one recent fights = %v", one.RecentFights)
	}
	// Empty cells do not become history entries.
	if len(two.RecentFights) != 1 {
		t.Errorf("fighter two recent fights = %v", two.RecentFights)
	}
}

func TestFetchErrorsCarryReason(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.UpcomingEvents(context.Background(), 0)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonStatsFetch) {
		t.Fatalf("expected stats_fetch reason, got %v", err)
	}
}
