package banner

import (
	"fmt"
	"strings"
)

const logo = `
======================================================================
 ____   ___   ____ ____ ___ ____  _____
|  _ \ / _ \ / ___|  _ \_ _|  _ \| ____|
| |_) | | | | |   | |_) | || |_) |  _|
|  _ <| |_| | |___|  __/| ||  __/| |___
|_| \_\\___/ \____|_|  |___|_|   |_____|
----------------------------------------------------------------------`

const footer = `======================================================================`

// ConfigLine represents a single configuration line to display
type ConfigLine struct {
	Label string
	Value string
}

// Print displays the startup banner with the service name and
// configuration. Lines whose value is empty are dropped rather than
// printed blank, since rocsend's optional repair endpoint is passed
// through as an empty ConfigLine when unset.
func Print(serviceName string, config []ConfigLine) {
	fmt.Println(logo)
	fmt.Printf("%s\n", serviceName)

	present := config[:0:0]
	for _, c := range config {
		if c.Value != "" {
			present = append(present, c)
		}
	}

	// Find max label length for alignment
	maxLen := 0
	for _, c := range present {
		if len(c.Label) > maxLen {
			maxLen = len(c.Label)
		}
	}

	// Print config lines with alignment
	for _, c := range present {
		padding := strings.Repeat(" ", maxLen-len(c.Label))
		fmt.Printf("  %s%s : %s\n", c.Label, padding, c.Value)
	}

	fmt.Println()
	fmt.Printf("%s streaming.\n", serviceName)
	fmt.Println(footer)
	fmt.Println()
}
