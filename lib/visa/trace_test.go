package visa

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestTrace(t *testing.T) {
	var buf bytes.Buffer
	sim := &Simulator{Name: "psu", Identity: "ACME,42,1,1.0\n"}
	s := Trace(sim, log.New(&buf, "", 0))

	if _, err := s.Query("*IDN?"); err != nil {
		t.Fatal(err)
	}
	if err := s.Write("VOLT 5"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Query("NOPE?"); err == nil {
		t.Fatal("expected error")
	}

	out := buf.String()
	for _, want := range []string{"SIM::psu::INSTR", "*IDN?", "ACME,42,1,1.0", "VOLT 5", "NOPE?"} {
		if !strings.Contains(out, want) {
			t.Errorf("trace output missing %q:\n%s", want, out)
		}
	}
	if got := sim.Setting("volt"); got != "5" {
		t.Errorf("write not forwarded, setting = %q", got)
	}
}
