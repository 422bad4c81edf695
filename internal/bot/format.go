package bot

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"advert_bot/internal/dispatch"
	"advert_bot/internal/model"
	"advert_bot/internal/store"
)

// maxMessageLen stays below the Telegram limit of 4096 characters.
const maxMessageLen = 4000

var (
	whitespace = regexp.MustCompile(`\s`)
	markdown   = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)
)

// RenderAdvert formats a listing as a photo caption (or a text message
// when it has no image).
func RenderAdvert(item model.Item) dispatch.Message {
	var b strings.Builder

	title := markdown.Replace(item.Title)
	if title == "" {
		title = "Listing " + markdown.Replace(item.ID)
	}
	if item.URL != "" {
		fmt.Fprintf(&b, "[%s](%s)", title, item.URL)
	} else {
		b.WriteString(title)
	}
	if item.Price != "" {
		fmt.Fprintf(&b, "\n*%s*", markdown.Replace(item.Price))
	}
	if item.Address != "" {
		fmt.Fprintf(&b, "\n[%s](%s)", markdown.Replace(item.Address), MapsURL(item.Address))
	}

	return dispatch.Message{Text: b.String(), PhotoURL: item.ImageURL}
}

// MapsURL returns a Google Maps search link for a free-form address.
func MapsURL(address string) string {
	return "https://www.google.com/maps/search/" + url.PathEscape(whitespace.ReplaceAllString(address, "+"))
}

// FormatSubscription describes a subscription in the /subscription list.
func FormatSubscription(number int, sub model.Subscription) string {
	switch {
	case sub.Buyer:
		return fmt.Sprintf("#%d *Buyer*", number)
	case sub.Channel:
		return fmt.Sprintf("#%d *Channel*", number)
	case sub.Query == nil:
		return fmt.Sprintf("#%d", number)
	}

	q := sub.Query
	var parts []string
	if q.Location != nil {
		parts = append(parts, fmt.Sprintf("%.5f, %.5f", q.Location.Lat, q.Location.Lng))
	}
	if q.Radius > 0 {
		parts = append(parts, fmt.Sprintf("radius %d m", q.Radius))
	}
	if len(q.Boundary) > 0 {
		parts = append(parts, fmt.Sprintf("area of %d points", len(q.Boundary)))
	}
	if len(q.IDs) > 0 {
		parts = append(parts, fmt.Sprintf("%d listings", len(q.IDs)))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("#%d", number)
	}
	return fmt.Sprintf("#%d %s", number, strings.Join(parts, ", "))
}

// FormatNextUpdate formats the time of the next poll.
func FormatNextUpdate(t time.Time) string {
	return fmt.Sprintf("NEXT UPDATE TIME: *%s*", t.Format("15:04"))
}

// FormatMonitor renders the registry dump for the admin monitor command.
func FormatMonitor(lastTick time.Time, entries []store.Entry) string {
	var b strings.Builder

	b.WriteString("_Last Update:_\n")
	if lastTick.IsZero() {
		b.WriteString("never")
	} else {
		b.WriteString(lastTick.UTC().Format(time.RFC1123))
	}
	fmt.Fprintf(&b, "\n\n_Subscribers (%d):_", len(entries))

	for _, e := range entries {
		subs, err := json.Marshal(e.Subscriber.Subscriptions)
		if err != nil {
			subs = []byte(err.Error())
		}
		fmt.Fprintf(&b, "\n\n```\n%d\n\tisPremium: %t\n\tsubscriptions: %s```", e.Key, e.Subscriber.Premium, subs)
	}
	return b.String()
}

// splitMessage cuts text into parts of at most limit bytes, preferring
// paragraph boundaries so code blocks stay intact. A paragraph longer than
// limit is cut after a newline when one is near the end, otherwise on a
// rune boundary. A code block cut in two is closed and reopened.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	budget, balance := limit, false
	if limit > 4*len(codeFence) {
		budget, balance = limit-len(codeFence)-1, true
	}

	var (
		parts []string
		cur   strings.Builder
	)
	for _, para := range strings.SplitAfter(text, "\n\n") {
		if cur.Len() > 0 && cur.Len()+len(para) > limit {
			parts = append(parts, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
		}
		for len(para) > limit {
			n := cutPoint(para, budget)
			head, tail := para[:n], para[n:]
			if balance && strings.Count(head, codeFence)%2 == 1 {
				head += codeFence
				tail = codeFence + "\n" + tail
			}
			parts = append(parts, strings.TrimRight(head, "\n"))
			para = tail
		}
		cur.WriteString(para)
	}
	if cur.Len() > 0 {
		parts = append(parts, strings.TrimRight(cur.String(), "\n"))
	}
	return parts
}

const codeFence = "```"

// cutPoint returns where to cut s so the head is at most n bytes.
// len(s) must be greater than n.
func cutPoint(s string, n int) int {
	if i := strings.LastIndexByte(s[:n], '\n'); i >= 0 && i+1 >= n/2 {
		return i + 1
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		_, size := utf8.DecodeRuneInString(s)
		return size
	}
	return cut
}
