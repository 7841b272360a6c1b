package monitor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rewired-gh/scanalert/internal/models"
)

// pricePatterns are tried in order to pull the hit price out of a target message.
var pricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bat\s+\$?(\d[\d,]*(?:\.\d+)?)`),
	regexp.MustCompile(`@\s*\$?(\d[\d,]*(?:\.\d+)?)`),
	regexp.MustCompile(`→\s*\$?(\d[\d,]*(?:\.\d+)?)`),
	regexp.MustCompile(`(\d[\d,]*\.\d+)`),
}

func extractPrice(msg string) string {
	for _, re := range pricePatterns {
		if m := re.FindStringSubmatch(msg); m != nil {
			return m[1]
		}
	}
	return ""
}

type groupKey struct {
	symbol string
	origin models.Origin
	owner  string
}

// GroupBySymbol merges the events of one pass into one message per symbol. Events of
// different origins or owners stay apart so routing is not mixed. Groups keep the order in
// which their symbols first appeared.
func GroupBySymbol(events []models.RawAlertEvent) []models.AlertMessage {
	var order []groupKey
	groups := make(map[groupKey][]models.RawAlertEvent)
	for _, ev := range events {
		k := groupKey{symbol: ev.Symbol, origin: ev.Origin, owner: ev.Owner}
		if _, exists := groups[k]; !exists {
			order = append(order, k)
		}
		groups[k] = append(groups[k], ev)
	}

	result := make([]models.AlertMessage, 0, len(order))
	for _, k := range order {
		evs := groups[k]
		msg := models.AlertMessage{
			Symbol:    k.symbol,
			Origin:    k.origin,
			Owner:     k.owner,
			CreatedAt: evs[0].Timestamp,
		}
		seen := make(map[models.AlertType]bool)
		for _, ev := range evs {
			if !seen[ev.Type] {
				seen[ev.Type] = true
				msg.Types = append(msg.Types, ev.Type)
			}
			msg.Keys = append(msg.Keys, ev.Key)
		}
		if len(evs) == 1 {
			msg.Text = evs[0].Message
		} else {
			msg.Text = k.symbol + ": " + strings.Join(combine(evs), " | ")
		}
		result = append(result, msg)
	}
	return result
}

// combine builds the fragments of a multi-event message: directions first, then targets,
// then everything else.
func combine(evs []models.RawAlertEvent) []string {
	var directions []string
	var targets []string
	var others []string
	dirSeen := make(map[string]bool)

	for _, ev := range evs {
		switch {
		case ev.Type == models.TypeDirection && ev.Direction != "":
			if !dirSeen[ev.Direction] {
				dirSeen[ev.Direction] = true
				directions = append(directions, ev.Direction)
			}
		case ev.Type == models.TypeTarget:
			label := "Target hit"
			if ev.Target > 0 {
				label = fmt.Sprintf("Target #%d hit", ev.Target)
			}
			if p := extractPrice(ev.Message); p != "" {
				label += " at " + p
			}
			targets = append(targets, label)
		default:
			others = append(others, ev.Message)
		}
	}

	var frags []string
	if len(directions) > 0 {
		frags = append(frags, "Direction changed to "+strings.Join(directions, ", "))
	}
	frags = append(frags, targets...)
	switch len(others) {
	case 0:
	case 1:
		frags = append(frags, others[0])
	default:
		frags = append(frags, "Multiple alerts")
	}
	return frags
}
