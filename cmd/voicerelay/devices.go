package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lkeff/voicerelay/pkg/audio"
	"github.com/lkeff/voicerelay/pkg/types"
)

// printCatalog writes the device catalog, inputs first.
func printCatalog(w io.Writer, devices []types.DeviceDescriptor) {
	fmt.Fprintln(w, "Audio devices:")
	for _, dir := range []types.Direction{types.Input, types.Output} {
		for _, d := range audio.Filter(devices, dir) {
			fmt.Fprintln(w, d.String())
		}
	}
}

// deviceChoice is an index chosen before the prompt, from a flag or config.
type deviceChoice struct {
	index int
	set   bool
}

// selectDevice resolves the device for dir. When choice is unset the
// operator is asked on in; the answer must be a decimal index.
func selectDevice(in *bufio.Reader, out io.Writer, devices []types.DeviceDescriptor, dir types.Direction, choice deviceChoice) (types.DeviceDescriptor, error) {
	idx := choice.index
	if !choice.set {
		fmt.Fprintf(out, "Select %s device index: ", dir)
		line, err := in.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return types.DeviceDescriptor{}, fmt.Errorf("read %s device index: %w", dir, err)
		}
		idx, err = parseIndex(line)
		if err != nil {
			return types.DeviceDescriptor{}, fmt.Errorf("%s device: %w", dir, err)
		}
	}
	return audio.Lookup(devices, idx, dir)
}

// parseIndex parses an operator-typed device index.
func parseIndex(s string) (int, error) {
	s = strings.TrimSpace(s)
	idx, err := strconv.Atoi(s)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("%q is not a valid device index; enter one of the numbers listed above", s)
	}
	return idx, nil
}
