package timer

import "testing"

func TestDetectVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		text    string
		want    int
		matched bool
	}{
		{name: "croatian minutes", text: "upali timer 5 min", want: 5, matched: true},
		{name: "croatian minuta", text: "pokreni tajmer 10 minuta", want: 10, matched: true},
		{name: "english minutes", text: "start a timer for 25 minutes", want: 25, matched: true},
		{name: "postavi alarm", text: "postavi alarm 45 min", want: 45, matched: true},
		{name: "hours sat", text: "upali timer 2 sata", want: 120, matched: true},
		{name: "hours english", text: "start timer 1 hour", want: 60, matched: true},
		{name: "bare integer fallback", text: "upali timer 15", want: 15, matched: true},
		{name: "bare integer upper bound", text: "upali timer 120", want: 120, matched: true},
		{name: "bare integer above range", text: "upali timer 121", matched: false},
		{name: "bare integer zero", text: "upali timer 0", matched: false},
		{name: "no timer keyword", text: "trebam kupiti mlijeko", matched: false},
		{name: "timer mentioned but not started", text: "timer je važan za djecu", matched: false},
		{name: "start without timer keyword", text: "pokreni mašinu za 5 min", matched: false},
		{name: "keywords without duration", text: "upali timer", matched: false},
		{name: "uppercase input", text: "UPALI TIMER 5 MIN", want: 5, matched: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Detect(tt.text)
			if ok != tt.matched {
				t.Fatalf("Detect(%q) matched = %v, want %v", tt.text, ok, tt.matched)
			}
			if !tt.matched {
				return
			}
			if got.DurationMinutes != tt.want {
				t.Fatalf("Detect(%q) minutes = %d, want %d", tt.text, got.DurationMinutes, tt.want)
			}
			if got.Description != tt.text {
				t.Fatalf("Detect(%q) description = %q, want original text", tt.text, got.Description)
			}
		})
	}
}

func TestDetectMinutesWinOverBareInteger(t *testing.T) {
	t.Parallel()
	// Explicit unit patterns run before the bare-integer fallback.
	got, ok := Detect("upali timer 7 min za 99")
	if !ok {
		t.Fatal("expected a match")
	}
	if got.DurationMinutes != 7 {
		t.Fatalf("minutes = %d, want 7", got.DurationMinutes)
	}
}

func TestDetectHoursWinOverBareInteger(t *testing.T) {
	t.Parallel()
	got, ok := Detect("postavi timer 2 sata ok 15")
	if !ok {
		t.Fatal("expected a match")
	}
	if got.DurationMinutes != 120 {
		t.Fatalf("minutes = %d, want 120", got.DurationMinutes)
	}
}

func TestDetectDeterministic(t *testing.T) {
	t.Parallel()
	const text = "upali timer 5 min"
	first, ok1 := Detect(text)
	second, ok2 := Detect(text)
	if ok1 != ok2 || first != second {
		t.Fatalf("Detect is not deterministic: %+v/%v vs %+v/%v", first, ok1, second, ok2)
	}
}
