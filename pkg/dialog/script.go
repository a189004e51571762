package dialog

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"text/template"

	"github.com/shopspring/decimal"
)

const maxTemplateOutput = 64 * 1024

// Script keys.
const (
	LineGreeting             = "greeting"
	LineMenu                 = "menu"
	LineMenuEmpty            = "menu_empty"
	LineFAQAnswer            = "faq_answer"
	LineFAQNotFound          = "faq_not_found"
	LineGoodbye              = "goodbye"
	LineError                = "error"
	LineFallback             = "fallback"
	LineOrderStart           = "order_start"
	LineOrderAskItem         = "order_ask_item"
	LineOrderItemAdded       = "order_item_added"
	LineOrderItemNotFound    = "order_item_not_found"
	LineOrderCancelled       = "order_cancelled"
	LineOrderConfirmed       = "order_confirmed"
	LineOrderFailed          = "order_failed"
	LineReservationStart     = "reservation_start"
	LineAskDate              = "ask_date"
	LineAskTime              = "ask_time"
	LineAskPartySize         = "ask_party_size"
	LineReservationConfirmed = "reservation_confirmed"
	LineReservationFailed    = "reservation_failed"
	LineFinishFlowFirst      = "finish_flow_first"
	LineAttemptsExhausted    = "attempts_exhausted"
	LineStaffOffer           = "staff_offer"
	LineIdleTimeout          = "idle_timeout"
	LineAnythingElse         = "anything_else"
)

// DefaultLines is the built-in English script.
var DefaultLines = map[string]string{
	LineGreeting:             "Hello, thanks for calling! I can tell you about our menu, take an order or book a table.",
	LineMenu:                 "Here is our menu. {{.Menu}}",
	LineMenuEmpty:            "Sorry, our menu isn't available right now.",
	LineFAQAnswer:            "{{.Answer}}",
	LineFAQNotFound:          "Sorry, I don't have an answer to that.",
	LineGoodbye:              "Thanks for calling, goodbye!",
	LineError:                "Sorry, something went wrong on our side. Let me get a staff member to help you.",
	LineFallback:             "Sorry, I didn't understand that. You can ask about the menu, place an order or book a table.",
	LineOrderStart:           "Great, let's start your order.",
	LineOrderAskItem:         "What would you like to add? Say done when you're finished.",
	LineOrderItemAdded:       "Added {{.Item}}. Your total is now {{money .Total}}.",
	LineOrderItemNotFound:    "Sorry, I couldn't find {{.Query}} on our menu.",
	LineOrderCancelled:       "You haven't ordered anything, so there is nothing to place.",
	LineOrderConfirmed:       "Your order of {{join .Items \", \"}} comes to {{money .Total}}. It has been placed, thank you!",
	LineOrderFailed:          "Sorry, I couldn't save your order.",
	LineReservationStart:     "Sure, let's book a table.",
	LineAskDate:              "What date would you like to come in?",
	LineAskTime:              "What time would you like? Please say it like 18:30.",
	LineAskPartySize:         "How many people will be in your party?",
	LineReservationConfirmed: "Your table for {{.PartySize}} on {{.Date}} at {{.Time}} is booked. See you then!",
	LineReservationFailed:    "Sorry, I couldn't save your reservation.",
	LineFinishFlowFirst:      "Let's finish your {{.Flow}} first.",
	LineAttemptsExhausted:    "I'm having trouble with that.",
	LineStaffOffer:           "A member of our staff can help you with it.",
	LineIdleTimeout:          "I haven't heard from you in a while, so I'll end the call. Goodbye!",
	LineAnythingElse:         "Is there anything else I can help you with?",
}

var scriptFuncs = template.FuncMap{
	"money": money,
	"join":  strings.Join,
}

// Script holds the caller-facing sentences. Each line is a text/template
// rendered with the data of the turn. Safe for concurrent use.
type Script struct {
	mu        sync.RWMutex
	lines     map[string]string
	templates map[string]*template.Template // only lines with actions
}

// NewScript returns the default script with overrides applied.
func NewScript(overrides map[string]string) (*Script, error) {
	sc := &Script{}
	if err := sc.Replace(overrides); err != nil {
		return nil, err
	}
	return sc, nil
}

// Replace installs overrides on top of DefaultLines. Unknown keys and
// templates that fail to parse are rejected and leave the script unchanged.
func (sc *Script) Replace(overrides map[string]string) error {
	lines := maps.Clone(DefaultLines)
	for k, v := range overrides {
		if _, ok := DefaultLines[k]; !ok {
			return fmt.Errorf("unknown script line %q", k)
		}
		lines[k] = v
	}
	templates := make(map[string]*template.Template)
	for k, v := range lines {
		if !strings.Contains(v, "{{") {
			continue
		}
		tmpl, err := parseLine(v)
		if err != nil {
			return fmt.Errorf("line %q: %w", k, err)
		}
		templates[k] = tmpl
	}
	sc.mu.Lock()
	sc.lines = lines
	sc.templates = templates
	sc.mu.Unlock()
	return nil
}

// Lines returns the sorted script keys.
func (sc *Script) Lines() []string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return slices.Sorted(maps.Keys(sc.lines))
}

// Render renders the line for key.
func (sc *Script) Render(key string, data any) (string, error) {
	sc.mu.RLock()
	text, ok := sc.lines[key]
	tmpl := sc.templates[key]
	sc.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown script line %q", key)
	}
	if tmpl == nil {
		return text, nil
	}
	return execute(tmpl, data)
}

// limitWriter caps output from template.Execute.
type limitWriter struct {
	w       io.Writer
	n       int64
	written int64
}

func (lw *limitWriter) Write(p []byte) (int, error) {
	if lw.written+int64(len(p)) > lw.n {
		allowed := lw.n - lw.written
		if allowed > 0 {
			n, err := lw.w.Write(p[:allowed])
			lw.written += int64(n)
			if err != nil {
				return n, err
			}
		}
		return 0, fmt.Errorf("template output exceeds %d bytes", lw.n)
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	return n, err
}

func parseLine(text string) (*template.Template, error) {
	return template.New("").Funcs(scriptFuncs).Option("missingkey=zero").Parse(text)
}

// renderTemplate parses and renders text in one go.
func renderTemplate(text string, data any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := parseLine(text)
	if err != nil {
		return "", err
	}
	return execute(tmpl, data)
}

func execute(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	lw := &limitWriter{w: &buf, n: maxTemplateOutput}
	if err := tmpl.Execute(lw, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// money formats an amount as dollars with two decimals.
func money(v any) string {
	switch x := v.(type) {
	case decimal.Decimal:
		return "$" + x.StringFixed(2)
	case float64:
		return "$" + decimal.NewFromFloat(x).StringFixed(2)
	case int:
		return "$" + decimal.NewFromInt(int64(x)).StringFixed(2)
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			return x
		}
		return "$" + d.StringFixed(2)
	default:
		return fmt.Sprint(v)
	}
}
