package visa

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	CmdStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	RespStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	ErrStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Trace wraps s so every exchange is logged to l.
func Trace(s Session, l *log.Logger) Session {
	return &traceSession{Session: s, log: l}
}

type traceSession struct {
	Session
	log *log.Logger
}

func (t *traceSession) Write(cmd string) error {
	err := t.Session.Write(cmd)
	if err != nil {
		t.log.Printf("%s %s: %s", t.Resource(), CmdStyle.Render(cmd), ErrStyle.Render(err.Error()))
	} else {
		t.log.Printf("%s %s()", t.Resource(), CmdStyle.Render(cmd))
	}
	return err
}

func (t *traceSession) Query(cmd string) (string, error) {
	start := time.Now()
	resp, err := t.Session.Query(cmd)
	if err != nil {
		t.log.Printf("%s %s: %s", t.Resource(), CmdStyle.Render(cmd), ErrStyle.Render(err.Error()))
		return resp, err
	}
	shown := strings.TrimRight(resp, "\r\n")
	if shown == "" {
		shown = "<no response>"
	}
	t.log.Printf("%s %s: [%d] %s (%s)", t.Resource(), CmdStyle.Render(cmd), len(resp), RespStyle.Render(shown), time.Since(start).Round(time.Microsecond))
	return resp, nil
}

func (t *traceSession) ReadSTB() (byte, error) {
	stb, err := t.Session.ReadSTB()
	if err != nil {
		t.log.Printf("%s %s: %s", t.Resource(), CmdStyle.Render("STB"), ErrStyle.Render(err.Error()))
		return stb, err
	}
	t.log.Printf("%s %s: %s", t.Resource(), CmdStyle.Render("STB"), RespStyle.Render(fmt.Sprintf("0x%02X", stb)))
	return stb, nil
}
