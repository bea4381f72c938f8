package timeparsing

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// nlpParser is shared and immutable after init.
var nlpParser = newNLPParser()

func newNLPParser() *when.Parser {
	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)
	return p
}

// ParseNaturalLanguage parses expressions like "yesterday", "last monday"
// or "3 days ago" relative to now. The whole input must parse; trailing
// junk is rejected so flag typos fail loudly instead of silently matching
// a fragment.
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	r, err := nlpParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("natural language parse: %w", err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("not a natural language time: %q", s)
	}
	if len(r.Text) != len(s) {
		return time.Time{}, fmt.Errorf("trailing input after time expression: %q", s)
	}
	return r.Time, nil
}
