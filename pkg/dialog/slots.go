package dialog

import (
	"errors"
	"strings"
)

// Slot is one value a flow must collect.
type Slot struct {
	Name string
	// Prompt is the script key of the question asking for the slot.
	Prompt   string
	Validate Validator
}

// Collector fills slots in a fixed order, one answer at a time.
type Collector struct {
	Slots []Slot
}

// Next returns the first slot without a value.
func (c Collector) Next(values map[string]string) (Slot, bool) {
	for _, sl := range c.Slots {
		if values[sl.Name] == "" {
			return sl, true
		}
	}
	return Slot{}, false
}

// Offer validates raw as the answer for sl. A valid answer is stored on the
// session and clears the failure count; a rejection counts one failed
// attempt. The caller must hold the session lock.
func (c Collector) Offer(s *Session, sl Slot, raw string) error {
	v, err := sl.Validate(raw)
	if err != nil {
		s.Attempts++
		var verr *ValidationError
		if !errors.As(err, &verr) {
			err = &ValidationError{Slot: sl.Name, Reason: ReasonWrongFormat, Message: err.Error()}
		}
		return err
	}
	s.Slots[sl.Name] = v
	s.Attempts = 0
	return nil
}

// Prefill stores recognizer-extracted values that pass validation. Invalid
// or unknown values are ignored and never count as failed attempts.
func (c Collector) Prefill(s *Session, extracted map[string]string) {
	for _, sl := range c.Slots {
		raw := strings.TrimSpace(extracted[sl.Name])
		if raw == "" || s.Slots[sl.Name] != "" {
			continue
		}
		if v, err := sl.Validate(raw); err == nil {
			s.Slots[sl.Name] = v
		}
	}
}

// ItemAnswerKind distinguishes the end-of-order sentinel from item text.
type ItemAnswerKind int

const (
	ItemText ItemAnswerKind = iota
	ItemSentinel
)

// ItemAnswer is a classified order answer.
type ItemAnswer struct {
	Kind ItemAnswerKind
	Text string
}

// DoneWord ends item collection.
const DoneWord = "done"

// ParseItemAnswer classifies an order answer before any catalog lookup.
func ParseItemAnswer(raw string) ItemAnswer {
	text := strings.TrimSpace(raw)
	if strings.EqualFold(strings.Trim(text, " .!?,"), DoneWord) {
		return ItemAnswer{Kind: ItemSentinel}
	}
	return ItemAnswer{Kind: ItemText, Text: text}
}
