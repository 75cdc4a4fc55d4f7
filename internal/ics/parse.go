package ics

import (
	"fmt"
	"path/filepath"
	"strings"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"coursecal/internal/classify"
	appLog "coursecal/internal/log"
	"coursecal/internal/model"
)

// ParseResult is the diagnostics-bearing outcome of parsing one calendar
// document. Success is true only when at least one draft was produced;
// a structurally valid but empty document yields Success=false with a
// warning rather than an error.
type ParseResult struct {
	Success  bool
	Events   []model.EventDraft
	Errors   []string
	Warnings []string
}

// Parse converts one ICS document into event drafts for the given course.
//
//   - A document that cannot be read as ICS at all is rejected whole:
//     Success=false and a single document-level error.
//   - Each VEVENT is converted independently; a malformed entry is
//     recorded with its ordinal position and skipped, the rest of the
//     document is still processed.
//   - All-day detection and timezone handling follow the library's
//     DTSTART/DTEND semantics.
func Parse(documentText, courseID, courseName, sourceLabel string) ParseResult {
	var res ParseResult

	if strings.TrimSpace(documentText) == "" {
		res.Errors = append(res.Errors, "empty calendar document")
		return res
	}

	cal, err := ical.ParseCalendar(strings.NewReader(documentText))
	if err != nil {
		appLog.Error("ics parse failed", err, "source", sourceLabel)
		res.Errors = append(res.Errors, fmt.Sprintf("unreadable calendar document: %v", err))
		return res
	}

	comps := cal.Events()
	if len(comps) == 0 {
		appLog.Warn("ics document has no events", "source", sourceLabel)
		res.Warnings = append(res.Warnings, "calendar document contains no events")
		return res
	}

	for i, comp := range comps {
		draft, perr := parseVEvent(comp)
		if perr != nil {
			// Ordinals are 1-based so the report reads naturally.
			res.Errors = append(res.Errors, fmt.Sprintf("entry %d: %v", i+1, perr))
			continue
		}
		res.Events = append(res.Events, draft)
	}

	res.Success = len(res.Events) > 0

	appLog.Info("ics parse completed",
		"source", sourceLabel,
		"course", courseName,
		"event_count", len(res.Events),
		"error_count", len(res.Errors),
	)
	return res
}

func parseVEvent(ve *ical.VEvent) (model.EventDraft, error) {
	var out model.EventDraft

	// UID: document-provided when present, else minted. A minted id is
	// stable only for this run; cross-run matching for UID-less files is
	// not possible and re-import will insert anew.
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil && p.Value != "" {
		out.ID = p.Value
	} else {
		out.ID = uuid.NewString()
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		start, err = ve.GetAllDayStartAt()
	}
	if err != nil || start.IsZero() {
		return out, fmt.Errorf("missing or malformed start date")
	}
	out.StartDate = start

	end, endErr := ve.GetEndAt()
	if endErr != nil {
		end, endErr = ve.GetAllDayEndAt()
	}
	if endErr != nil || end.IsZero() || end.Before(start) {
		// Malformed or absent end: degrade to a zero-length event rather
		// than dropping it.
		end = start
	}
	out.EndDate = end

	out.IsAllDay = detectAllDay(ve)
	out.EventType = classify.Type(out.Title, out.Description)

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.Recurrence = parseRecurrence(rruleProp.Value)
	}

	// Keep enough of the source entry to debug identity questions later.
	rawStart := ""
	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		rawStart = p.Value
	}
	out.RawSourceData = fmt.Sprintf("UID=%s SUMMARY=%s DTSTART=%s", out.ID, out.Title, rawStart)

	return out, nil
}

// detectAllDay inspects the DTSTART property: VALUE=DATE or a value
// without a time component means all-day.
func detectAllDay(ve *ical.VEvent) bool {
	dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStartProp == nil {
		return false
	}
	if params := dtStartProp.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			return true
		}
	}
	return !strings.Contains(dtStartProp.Value, "T")
}

// parseRecurrence normalizes an RRULE string into the stored recurrence
// shape. Frequencies outside daily/weekly/monthly are not representable
// and yield nil; an unparsable rule is tolerated the same way.
func parseRecurrence(raw string) *model.Recurrence {
	r, err := rrule.StrToRRule(raw)
	if err != nil {
		appLog.Warn("unparsable RRULE ignored", "rrule", raw)
		return nil
	}

	opts := r.OrigOptions

	var freq model.Frequency
	switch opts.Freq {
	case rrule.DAILY:
		freq = model.FreqDaily
	case rrule.WEEKLY:
		freq = model.FreqWeekly
	case rrule.MONTHLY:
		freq = model.FreqMonthly
	default:
		return nil
	}

	rec := &model.Recurrence{Frequency: freq, Interval: opts.Interval}
	if rec.Interval < 1 {
		rec.Interval = 1
	}
	if !opts.Until.IsZero() {
		until := opts.Until
		rec.Until = &until
	}
	return rec
}

// CourseName resolves a course name for a document using the ordered
// fallback: calendar-level name property, then a name derived from the
// file name, then "Unnamed Course".
func CourseName(documentText, fileName string) string {
	if name := calendarName(documentText); name != "" {
		return name
	}
	if name := nameFromFileName(fileName); name != "" {
		return name
	}
	return "Unnamed Course"
}

// calendarName extracts X-WR-CALNAME if the document parses at all.
func calendarName(documentText string) string {
	cal, err := ical.ParseCalendar(strings.NewReader(documentText))
	if err != nil {
		return ""
	}
	for _, p := range cal.CalendarProperties {
		if strings.EqualFold(p.IANAToken, "X-WR-CALNAME") {
			return strings.TrimSpace(p.Value)
		}
	}
	return ""
}

// nameFromFileName derives a display name from an exported file's name:
// "math-101-calendar.ics" -> "Math 101".
func nameFromFileName(fileName string) string {
	base := filepath.Base(fileName)
	if base == "." || base == "/" || base == "" {
		return ""
	}

	ext := strings.ToLower(filepath.Ext(base))
	if ext == ".ics" || ext == ".ical" {
		base = base[:len(base)-len(ext)]
	}
	base = strings.TrimSuffix(base, "-calendar")

	base = strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(base)
	base = strings.Join(strings.Fields(base), " ")
	if base == "" {
		return ""
	}
	return titleCase(base)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		words[i] = strings.ToUpper(string(r[0])) + string(r[1:])
	}
	return strings.Join(words, " ")
}
