package session

import (
	"fmt"
	"io"
	"time"

	"github.com/lkeff/voicerelay/pkg/types"
)

// Reporter presents loop progress to the operator.
type Reporter interface {
	AwaitingTrigger()
	Capturing(device types.DeviceDescriptor, d time.Duration)
	Transcript(text string)
	Reply(text string)
	Playing(device types.DeviceDescriptor)
	// Skipped reports a turn that ended early without error.
	Skipped(reason string)
	// Failed reports a recoverable error that discarded the turn.
	Failed(stage State, err error)
}

// ConsoleReporter writes plain-text progress lines to an io.Writer.
type ConsoleReporter struct {
	w io.Writer
}

// NewConsoleReporter returns a Reporter writing to w.
func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{w: w}
}

func (r *ConsoleReporter) AwaitingTrigger() {
	fmt.Fprintln(r.w, "Press Enter to start recording (Ctrl+D to quit)...")
}

func (r *ConsoleReporter) Capturing(device types.DeviceDescriptor, d time.Duration) {
	fmt.Fprintf(r.w, "Recording %s from %s...\n", d, device.Name)
}

func (r *ConsoleReporter) Transcript(text string) {
	fmt.Fprintf(r.w, "You said: %s\n", text)
}

func (r *ConsoleReporter) Reply(text string) {
	fmt.Fprintf(r.w, "Assistant: %s\n", text)
}

func (r *ConsoleReporter) Playing(device types.DeviceDescriptor) {
	fmt.Fprintf(r.w, "Playing reply on %s...\n", device.Name)
}

func (r *ConsoleReporter) Skipped(reason string) {
	fmt.Fprintf(r.w, "Nothing to say: %s.\n", reason)
}

func (r *ConsoleReporter) Failed(stage State, err error) {
	fmt.Fprintf(r.w, "Turn failed while %s: %v\n", stage, err)
}

// nopReporter discards everything.
type nopReporter struct{}

func (nopReporter) AwaitingTrigger()                                 {}
func (nopReporter) Capturing(types.DeviceDescriptor, time.Duration) {}
func (nopReporter) Transcript(string)                                {}
func (nopReporter) Reply(string)                                     {}
func (nopReporter) Playing(types.DeviceDescriptor)                   {}
func (nopReporter) Skipped(string)                                   {}
func (nopReporter) Failed(State, error)                              {}

var (
	_ Reporter = (*ConsoleReporter)(nil)
	_ Reporter = nopReporter{}
)
