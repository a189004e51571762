package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDefaultScriptRendersEveryLine(t *testing.T) {
	sc, err := NewScript(nil)
	if err != nil {
		t.Fatalf("NewScript: %v", err)
	}
	data := map[string]any{
		"Menu": "Drinks: Lemonade - $3.25.", "Answer": "Yes.", "Item": "Lemonade",
		"Total": decimal.RequireFromString("3.25"), "Query": "pizza", "Items": []string{"Lemonade"},
		"PartySize": 2, "Date": "2026-03-02", "Time": "18:30", "Flow": "order",
	}
	for _, key := range sc.Lines() {
		out, err := sc.Render(key, data)
		if err != nil {
			t.Errorf("Render(%q): %v", key, err)
		}
		if out == "" {
			t.Errorf("Render(%q) is empty", key)
		}
	}
}

func TestScriptOverrides(t *testing.T) {
	sc, err := NewScript(map[string]string{LineGreeting: "Hi from {{.Name}}!"})
	if err != nil {
		t.Fatalf("NewScript: %v", err)
	}
	got, err := sc.Render(LineGreeting, map[string]any{"Name": "Luigi's"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Hi from Luigi's!" {
		t.Errorf("greeting = %q", got)
	}

	if err := sc.Replace(map[string]string{"nonsense": "x"}); err == nil {
		t.Error("expected error for unknown line")
	}
	if err := sc.Replace(map[string]string{LineGoodbye: "{{.Broken"}); err == nil {
		t.Error("expected error for bad template")
	}
	// A rejected replacement keeps the previous script.
	if got, _ := sc.Render(LineGreeting, map[string]any{"Name": "Luigi's"}); got != "Hi from Luigi's!" {
		t.Errorf("greeting after failed replace = %q", got)
	}
}

func TestScriptReplaceRebuildsTemplates(t *testing.T) {
	sc, err := NewScript(nil)
	if err != nil {
		t.Fatalf("NewScript: %v", err)
	}
	base := len(sc.templates)

	for i := range 5 {
		override := fmt.Sprintf("Welcome back {{.Name}}, version %d.", i)
		if err := sc.Replace(map[string]string{LineGreeting: override}); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		got, err := sc.Render(LineGreeting, map[string]any{"Name": "Ana"})
		if err != nil {
			t.Fatalf("Render: %v", err)
		}
		if want := fmt.Sprintf("Welcome back Ana, version %d.", i); got != want {
			t.Errorf("greeting = %q, want %q", got, want)
		}
	}
	if n := len(sc.templates); n != base+1 {
		t.Errorf("templates = %d, want %d", n, base+1)
	}

	if err := sc.Replace(nil); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if n := len(sc.templates); n != base {
		t.Errorf("templates after reset = %d, want %d", n, base)
	}
}

func TestMoney(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{decimal.RequireFromString("12.9"), "$12.90"},
		{4.0, "$4.00"},
		{3, "$3.00"},
		{"0.1", "$0.10"},
	}
	for _, tt := range tests {
		if got := money(tt.in); got != tt.want {
			t.Errorf("money(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScriptLoaderLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.yaml")
	content := `
greeting: "Welcome to Trattoria!"
order_item_added: "{{.Item}} added, that's {{money .Total}} so far."
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	sc, _ := NewScript(nil)
	if err := NewScriptLoader(path, sc).Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got, _ := sc.Render(LineOrderItemAdded, map[string]any{"Item": "Fries", "Total": decimal.RequireFromString("4")})
	if got != "Fries added, that's $4.00 so far." {
		t.Errorf("line = %q", got)
	}
	if got, _ := sc.Render(LineGoodbye, nil); got != DefaultLines[LineGoodbye] {
		t.Errorf("goodbye = %q, want default", got)
	}
}

func TestScriptLoaderInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	os.WriteFile(path, []byte("{{invalid yaml"), 0644)

	sc, _ := NewScript(nil)
	if err := NewScriptLoader(path, sc).Load(); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestScriptLoaderWatchAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.yaml")
	if err := os.WriteFile(path, []byte(`goodbye: "Ciao!"`), 0644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	sc, _ := NewScript(nil)
	loader := NewScriptLoader(path, sc)
	if err := loader.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	done := make(chan struct{})
	defer close(done)
	go loader.WatchAndReload(done)
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`goodbye: "Arrivederci!"`), 0644); err != nil {
		t.Fatalf("rewrite yaml: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := sc.Render(LineGoodbye, nil); got == "Arrivederci!" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	got, _ := sc.Render(LineGoodbye, nil)
	t.Errorf("goodbye after reload = %q", got)
}

func TestDispatcherUsesScriptOverrides(t *testing.T) {
	sc, _ := NewScript(map[string]string{LineGoodbye: "Ciao!"})
	d := newTestDispatcher(&fakeGateway{}, WithScript(sc))
	s := NewSession("s1", "", nil)

	reply := d.Handle(t.Context(), s, Turn{Intent: IntentGoodbye})
	if !strings.Contains(reply.Text(), "Ciao!") {
		t.Errorf("reply = %q", reply.Text())
	}
}

type turnKey struct{}

// ctxRecorder keeps the turn value of every context a render warning was
// logged with.
type ctxRecorder struct {
	mu   sync.Mutex
	seen []any
}

func (h *ctxRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (h *ctxRecorder) Handle(ctx context.Context, r slog.Record) error {
	if r.Message == "script line failed to render" {
		h.mu.Lock()
		h.seen = append(h.seen, ctx.Value(turnKey{}))
		h.mu.Unlock()
	}
	return nil
}

func (h *ctxRecorder) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *ctxRecorder) WithGroup(string) slog.Handler      { return h }

func TestBrokenOverrideFallsBackAndLogsWithTurnContext(t *testing.T) {
	rec := &ctxRecorder{}
	prev := slog.Default()
	slog.SetDefault(slog.New(rec))
	t.Cleanup(func() { slog.SetDefault(prev) })

	sc, err := NewScript(map[string]string{LineFallback: "{{index .Items 3}}"})
	if err != nil {
		t.Fatalf("NewScript: %v", err)
	}
	d := newTestDispatcher(&fakeGateway{}, WithScript(sc))
	s := NewSession("s1", "", nil)
	ctx := context.WithValue(t.Context(), turnKey{}, "turn-7")

	reply := d.Handle(ctx, s, Turn{Intent: IntentUnhandled, Text: "blah"})
	if !strings.Contains(reply.Text(), DefaultLines[LineFallback]) {
		t.Errorf("reply = %q, want the built-in fallback", reply.Text())
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.seen) != 1 || rec.seen[0] != "turn-7" {
		t.Errorf("warnings logged with turn values %v, want [turn-7]", rec.seen)
	}
}
