package dialog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// DateLayout is the canonical reservation date format.
const DateLayout = "2006-01-02"

// Validator checks a raw answer and returns its canonical form. Rejections
// are *ValidationError values.
type Validator func(raw string) (string, error)

// DateResolver turns caller text into an absolute calendar date.
type DateResolver interface {
	ResolveDate(text string) (time.Time, bool)
}

// isoShaped matches input written as a numeric year-month-day.
var isoShaped = regexp.MustCompile(`^\d{4}-\d{1,2}-\d{1,2}$`)

// NaturalDates resolves ISO dates and English expressions such as
// "tomorrow" or "next friday" relative to the current day. Clock times on
// their own never resolve to a date.
type NaturalDates struct {
	parser *when.Parser
	loc    *time.Location
	now    func() time.Time
}

// NewNaturalDates creates a resolver anchored in loc (UTC when nil).
func NewNaturalDates(loc *time.Location) *NaturalDates {
	if loc == nil {
		loc = time.UTC
	}
	w := when.New(nil)
	w.Add(
		en.Weekday(rules.Override),
		en.CasualDate(rules.Override),
		en.ExactMonthDate(rules.Override),
		en.Deadline(rules.Override),
		common.SlashDMY(rules.Override),
	)
	return &NaturalDates{parser: w, loc: loc, now: time.Now}
}

// ResolveDate implements DateResolver.
func (n *NaturalDates) ResolveDate(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if t, err := time.ParseInLocation(DateLayout, text, n.loc); err == nil {
		return t, true
	}
	if isoShaped.MatchString(text) {
		return time.Time{}, false
	}
	r, err := n.parser.Parse(text, n.now().In(n.loc))
	if err != nil || r == nil {
		return time.Time{}, false
	}
	return r.Time.In(n.loc), true
}

// DateValidator accepts anything the resolver turns into a date.
func DateValidator(r DateResolver) Validator {
	return func(raw string) (string, error) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return "", &ValidationError{Slot: SlotDate, Reason: ReasonEmpty, Message: "Please tell me the date."}
		}
		t, ok := r.ResolveDate(raw)
		if !ok {
			return "", &ValidationError{
				Slot:    SlotDate,
				Reason:  ReasonUnresolvable,
				Message: fmt.Sprintf("Sorry, I couldn't work out a date from %q.", raw),
			}
		}
		return t.Format(DateLayout), nil
	}
}

var timePattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidateTime accepts 24-hour HH:MM.
func ValidateTime(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ValidationError{Slot: SlotTime, Reason: ReasonEmpty, Message: "Please tell me the time."}
	}
	if !timePattern.MatchString(raw) {
		return "", &ValidationError{
			Slot:    SlotTime,
			Reason:  ReasonWrongFormat,
			Message: "Please give the time as hours and minutes, like 18:30.",
		}
	}
	return raw, nil
}

// PartySizeValidator accepts whole numbers between 1 and maxSize.
func PartySizeValidator(maxSize int) Validator {
	return func(raw string) (string, error) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return "", &ValidationError{Slot: SlotPartySize, Reason: ReasonEmpty, Message: "Please tell me how many people."}
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return "", &ValidationError{
				Slot:    SlotPartySize,
				Reason:  ReasonNotANumber,
				Message: "Please tell me the number of people as a number.",
			}
		}
		if n < 1 || n > maxSize {
			return "", &ValidationError{
				Slot:    SlotPartySize,
				Reason:  ReasonOutOfRange,
				Message: fmt.Sprintf("Party size must be between 1 and %d.", maxSize),
			}
		}
		return strconv.Itoa(n), nil
	}
}
