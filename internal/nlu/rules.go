package nlu

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/careline/bookingbot/internal/model"
)

// ---------- package-level compiled regexes ----------

var (
	bookRE       = regexp.MustCompile(`(?i)\b(book|schedule|make|set up|need)\b.*\b(appointment|visit|checkup|consultation)\b|\bsee a doctor\b`)
	cancelRE     = regexp.MustCompile(`(?i)\bcancel\b`)
	rescheduleRE = regexp.MustCompile(`(?i)\b(reschedule|move|change)\b.*\b(appointment|booking|time|date)\b|\breschedule\b`)
	checkRE      = regexp.MustCompile(`(?i)\b(check|view|confirm|look up|when is)\b.*\bappointment\b`)
	greetingRE   = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|good (morning|afternoon|evening))\b`)
	goodbyeRE    = regexp.MustCompile(`(?i)\b(bye|goodbye|see you|that'?s all|thanks,? bye)\b`)
	confirmRE    = regexp.MustCompile(`(?i)^\s*(yes|yeah|yep|sure|correct|right|ok(ay)?|confirm|sounds good|that works)\b`)
	denyRE       = regexp.MustCompile(`(?i)^\s*(no|nope|nah|wrong|not (that|right)|cancel that)\b`)

	isoDateRE    = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashDateRE  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`) // DD/MM/YYYY
	weekdayRE    = regexp.MustCompile(`(?i)\b(next\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	relDayRE     = regexp.MustCompile(`(?i)\b(today|tomorrow|day after tomorrow)\b`)
	clockRE      = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(a\.m\.|p\.m\.|am|pm)\b`)
	clock24RE    = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	noonRE       = regexp.MustCompile(`(?i)\b(noon|midday)\b`)
	phoneRE      = regexp.MustCompile(`\+?\d[\d\s\-\(\)]{7,}\d`)
	doctorNameRE = regexp.MustCompile(`(?i)\b(?:dr\.?|doctor)\s+([a-z][a-z'\-]+(?:\s+[a-z][a-z'\-]+)?)`)
	myNameRE     = regexp.MustCompile(`(?i)\bmy name is\s+([a-z][a-z'\-]+(?:\s+[a-z][a-z'\-]+){0,2})`)
	bornRE       = regexp.MustCompile(`(?i)\b(?:born(?: on)?|date of birth(?: is)?|dob(?: is)?)\s*:?\s*(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4})`)
)

var departments = []string{
	"cardiology", "dermatology", "neurology", "orthopedics", "pediatrics",
	"ophthalmology", "gynecology", "urology", "psychiatry", "general medicine",
	"dentistry", "ent",
}

// RuleRecognizer is the lower-capability fallback used when the NLU
// collaborator is unreachable. Pattern matching only; confidence is
// capped accordingly.
type RuleRecognizer struct {
	// Now is swappable for deterministic tests.
	Now func() time.Time
}

func NewRuleRecognizer() *RuleRecognizer {
	return &RuleRecognizer{Now: time.Now}
}

func (r *RuleRecognizer) Parse(_ context.Context, text string, convCtx Context) (*model.Intent, error) {
	intent := func(name model.IntentName, confidence float64) (*model.Intent, error) {
		return &model.Intent{Name: name, Confidence: confidence, Reasoning: "pattern match"}, nil
	}

	switch {
	case rescheduleRE.MatchString(text):
		return intent(model.IntentReschedule, 0.8)
	case cancelRE.MatchString(text):
		return intent(model.IntentCancel, 0.8)
	case bookRE.MatchString(text):
		return intent(model.IntentBookAppointment, 0.8)
	case checkRE.MatchString(text):
		return intent(model.IntentCheck, 0.7)
	case goodbyeRE.MatchString(text):
		return intent(model.IntentGoodbye, 0.8)
	case confirmRE.MatchString(text):
		return intent(model.IntentConfirm, 0.7)
	case denyRE.MatchString(text):
		return intent(model.IntentDeny, 0.7)
	case greetingRE.MatchString(text):
		return intent(model.IntentGreeting, 0.7)
	}

	// Inside an active flow a free-form message is most likely an answer
	// to the last prompt.
	if convCtx.State != model.StateGreeting && convCtx.State != model.StateDetectIntent {
		return intent(model.IntentProvideInfo, 0.5)
	}
	return intent(model.IntentUnknown, 0.3)
}

func (r *RuleRecognizer) Extract(_ context.Context, text string, convCtx Context) (model.EntityBag, error) {
	bag := make(model.EntityBag)

	if date, ok := r.extractDate(text); ok {
		bag[model.EntityDate] = date
	}
	if t, ok := extractTime(text); ok {
		bag[model.EntityTime] = t
	}
	if m := bornRE.FindStringSubmatch(text); m != nil {
		if dob, ok := NormalizeDate(m[1]); ok {
			bag[model.EntityDateOfBirth] = dob
			// a birth date is not an appointment date
			if bag[model.EntityDate] == dob {
				delete(bag, model.EntityDate)
			}
		}
	}
	if m := phoneRE.FindString(text); m != "" {
		bag[model.EntityPhone] = NormalizePhone(m)
	}
	if m := doctorNameRE.FindStringSubmatch(text); m != nil {
		bag[model.EntityDoctorName] = strings.TrimSpace(m[1])
	}
	if m := myNameRE.FindStringSubmatch(text); m != nil {
		bag[model.EntityPatientName] = strings.TrimSpace(m[1])
	} else if convCtx.State == model.StateCollectName && looksLikeName(text) {
		bag[model.EntityPatientName] = strings.TrimSpace(text)
	}
	lower := strings.ToLower(text)
	for _, dept := range departments {
		if strings.Contains(lower, dept) {
			bag[model.EntityDepartment] = dept
			break
		}
	}

	return bag, nil
}

func (r *RuleRecognizer) extractDate(text string) (string, bool) {
	if m := isoDateRE.FindString(text); m != "" {
		return m, true
	}
	if m := slashDateRE.FindStringSubmatch(text); m != nil {
		if d, ok := NormalizeDate(m[0]); ok {
			return d, true
		}
	}

	now := r.Now()
	if m := relDayRE.FindString(text); m != "" {
		switch strings.ToLower(m) {
		case "today":
			return now.Format(model.DateOnly), true
		case "tomorrow":
			return now.AddDate(0, 0, 1).Format(model.DateOnly), true
		default:
			return now.AddDate(0, 0, 2).Format(model.DateOnly), true
		}
	}
	if m := weekdayRE.FindStringSubmatch(text); m != nil {
		target := weekdayByName(strings.ToLower(m[2]))
		days := (int(target) - int(now.Weekday()) + 7) % 7
		if days == 0 || m[1] != "" {
			days += 7
		}
		return now.AddDate(0, 0, days).Format(model.DateOnly), true
	}
	return "", false
}

func extractTime(text string) (string, bool) {
	if noonRE.MatchString(text) {
		return "12:00", true
	}
	if m := clockRE.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		meridiem := strings.ToLower(strings.ReplaceAll(m[3], ".", ""))
		if meridiem == "pm" && hour < 12 {
			hour += 12
		}
		if meridiem == "am" && hour == 12 {
			hour = 0
		}
		return fmt.Sprintf("%02d:%02d", hour, minute), true
	}
	if m := clock24RE.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("%02d:%02d", hour, minute), true
	}
	return "", false
}

// NormalizeDate converts an ISO or DD/MM/YYYY date string to
// YYYY-MM-DD, swapping day and month when the input only parses the
// other way around.
func NormalizeDate(s string) (string, bool) {
	if isoDateRE.MatchString(s) {
		return s, true
	}
	if m := slashDateRE.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if month > 12 && day <= 12 {
			day, month = month, day
		}
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return "", false
		}
		return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
	}
	return "", false
}

// NormalizePhone strips formatting, keeping digits and a leading plus.
func NormalizePhone(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
		if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func looksLikeName(text string) bool {
	text = strings.TrimSpace(text)
	words := strings.Fields(text)
	if len(words) == 0 || len(words) > 3 {
		return false
	}
	for _, w := range words {
		for _, r := range w {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '\'' || r == '-') {
				return false
			}
		}
	}
	return true
}

func weekdayByName(name string) time.Weekday {
	switch name {
	case "sunday":
		return time.Sunday
	case "monday":
		return time.Monday
	case "tuesday":
		return time.Tuesday
	case "wednesday":
		return time.Wednesday
	case "thursday":
		return time.Thursday
	case "friday":
		return time.Friday
	default:
		return time.Saturday
	}
}
