package notify

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/csfx-py/vaccine-tracker/internal/domain"
)

// MaxMessageLen is the packing bound: the chat limit of 4096 minus a 50 char margin.
const MaxMessageLen = 4096 - 50

const blockSeparator = "\n\n"

// RenderAlert renders one HTML alert block for a matched center.
func RenderAlert(c domain.Center, ageGroup int) string {
	var b strings.Builder
	b.WriteString("✅<b>SLOT AVAILABLE!</b>\n\n")
	fmt.Fprintf(&b, "<b>Name</b>: %s\n", html.EscapeString(c.Name))
	fmt.Fprintf(&b, "<b>Pincode</b>: %s\n", c.Pincode)
	fmt.Fprintf(&b, "<b>Age group</b>: %d+\n", ageGroup)
	fmt.Fprintf(&b, "<b>Fee</b>: %s\n", html.EscapeString(c.FeeType))
	b.WriteString("<b>Slots</b>:")
	for _, s := range c.Sessions {
		fmt.Fprintf(&b, "\n\t<b>Date</b>: %s", s.Date)
		fmt.Fprintf(&b, "\n\t<b>Total Available Slots</b>: %d", s.AvailableCapacity)
		fmt.Fprintf(&b, "\n\t\t<b>Dose 1 Slots</b>: %d", s.Dose1Capacity)
		fmt.Fprintf(&b, "\n\t\t<b>Dose 2 Slots</b>: %d", s.Dose2Capacity)
		if s.Vaccine != "" {
			fmt.Fprintf(&b, "\n\t<b>Vaccine</b>: %s", html.EscapeString(s.Vaccine))
		}
		if s.AllowAllAge {
			b.WriteString("\n<b><u>Walk-in Available for all Age Groups!</u></b>")
		}
	}
	b.WriteString("\n\n<u>Hurry! Book your slot before someone else does.</u>")
	b.WriteString("\nCoWIN Site: https://selfregistration.cowin.gov.in/")
	return b.String()
}

// Pack joins alert blocks into messages of at most limit characters,
// starting a new message whenever the next block would overflow the current one.
// A block longer than limit is split at line breaks.
func Pack(alerts []string, limit int) []string {
	var (
		out    []string
		cur    strings.Builder
		curLen int
	)
	sepLen := utf8.RuneCountInString(blockSeparator)
	for _, block := range alerts {
		for _, a := range splitBlock(block, limit) {
			n := utf8.RuneCountInString(a)
			if curLen > 0 && curLen+sepLen+n > limit {
				out = append(out, cur.String())
				cur.Reset()
				curLen = 0
			}
			if curLen > 0 {
				cur.WriteString(blockSeparator)
				curLen += sepLen
			}
			cur.WriteString(a)
			curLen += n
		}
	}
	if curLen > 0 {
		out = append(out, cur.String())
	}
	return out
}

// splitBlock cuts block into chunks of at most limit runes. Cuts fall on
// line breaks so HTML tags, which never span lines, stay balanced; a single
// line longer than limit is cut by runes.
func splitBlock(block string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(block) <= limit {
		return []string{block}
	}
	var (
		out    []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, line := range strings.Split(block, "\n") {
		for utf8.RuneCountInString(line) > limit {
			flush()
			r := []rune(line)
			out = append(out, string(r[:limit]))
			line = string(r[limit:])
		}
		n := utf8.RuneCountInString(line)
		if curLen > 0 && curLen+1+n > limit {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte('\n')
			curLen++
		}
		cur.WriteString(line)
		curLen += n
	}
	flush()
	return out
}

// RenderAlerts renders and packs the alerts of one tracking entry.
func RenderAlerts(centers []domain.Center, ageGroup int) []string {
	alerts := make([]string, 0, len(centers))
	for _, c := range centers {
		alerts = append(alerts, RenderAlert(c, ageGroup))
	}
	return Pack(alerts, MaxMessageLen)
}

// RenderAppointments renders booked appointments as HTML.
func RenderAppointments(appts []domain.Appointment) string {
	var b strings.Builder
	if len(appts) == 1 {
		b.WriteString("There is 1 appointment Booked.\n")
	} else {
		fmt.Fprintf(&b, "There are %d appointments Booked.\n", len(appts))
	}
	for i, a := range appts {
		if i > 0 {
			b.WriteString("\n")
		}
		name := a.CenterName
		if name == "" {
			name = "Unavailable"
		}
		fmt.Fprintf(&b, "<b>Center Name</b>: %s\n", html.EscapeString(name))
		fmt.Fprintf(&b, "\t\t<b>Dose</b>: %d\n", a.Dose)
		fmt.Fprintf(&b, "\t\t<b>Date</b>: %s\n", a.Date)
		fmt.Fprintf(&b, "\t\t<u><b>Your time Slot</b></u>: <u>%s</u>", html.EscapeString(a.Slot))
	}
	return b.String()
}
