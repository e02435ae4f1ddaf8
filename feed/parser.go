// Package feed reads the published element-set feed: an epoch header line
// followed by label/line1/line2 groups, one group per tracked object.
package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/signalsfoundry/orbit-tracker/internal/logging"
	"github.com/signalsfoundry/orbit-tracker/model"
)

// ParseOptions controls how a malformed body is handled.
type ParseOptions struct {
	// Strict rejects a body whose line count is not a multiple of three.
	// When false the trailing partial group is dropped and counted in
	// Feed.Truncated.
	Strict bool

	Logger logging.Logger
}

// Parse reads feed text with the default lenient policy.
func Parse(text string) (model.Feed, error) {
	return ParseWithOptions(text, ParseOptions{})
}

// ParseWithOptions reads feed text. Line endings may be \n or \r\n and
// trailing blank lines are ignored. Labels are whitespace-trimmed; element
// lines are kept verbatim.
func ParseWithOptions(text string, opts ParseOptions) (model.Feed, error) {
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}

	lines := splitLines(text)
	if len(lines) == 0 {
		return model.Feed{}, &FormatError{Reason: "empty feed"}
	}

	epoch, err := parseEpoch(lines[0])
	if err != nil {
		return model.Feed{}, &FormatError{Line: 1, Reason: fmt.Sprintf("epoch header: %v", err)}
	}

	body := lines[1:]
	partial := len(body) % 3
	if partial != 0 {
		firstBad := len(body) - partial + 2 // 1-based, header included
		if opts.Strict {
			return model.Feed{}, &FormatError{
				Line:   firstBad,
				Reason: fmt.Sprintf("%d body lines is not a multiple of three", len(body)),
			}
		}
		log.Warn(context.Background(), "dropping incomplete trailing element group",
			logging.Int("line", firstBad),
			logging.Int("dropped_lines", partial),
		)
	}

	records := make([]model.ElementRecord, 0, len(body)/3)
	for i := 0; i+2 < len(body); i += 3 {
		records = append(records, model.ElementRecord{
			Name:  strings.TrimSpace(body[i]),
			Line1: body[i+1],
			Line2: body[i+2],
		})
	}

	return model.Feed{
		Epoch:     model.FeedEpoch(epoch),
		Records:   records,
		Truncated: partial,
	}, nil
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
