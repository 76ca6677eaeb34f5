package task

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var errNoResult = errors.New("no result object in agent output")

var bom = []byte{0xEF, 0xBB, 0xBF}

// ParseResult extracts the Agent's final JSON object from single-result
// output. The Agent occasionally prints banner text before the JSON and, on
// some terminals, a byte-order mark; both are tolerated. If the trimmed body
// does not parse as a whole, each line is tried in turn until one yields an
// object carrying a "result" key.
func ParseResult(output []byte) (*Result, error) {
	output = bytes.TrimPrefix(output, bom)

	if i := bytes.IndexByte(output, '{'); i > 0 {
		output = output[i:]
	} else if i < 0 {
		return nil, errNoResult
	}

	var res Result
	if err := json.Unmarshal(output, &res); err == nil {
		return &res, nil
	}

	for _, line := range bytes.Split(output, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(line, &probe); err != nil {
			continue
		}
		if _, ok := probe["result"]; !ok {
			continue
		}
		if err := json.Unmarshal(line, &res); err == nil {
			return &res, nil
		}
	}
	return nil, errNoResult
}

// ParseStreamLine decodes one line of stream-json output. Blank lines and
// non-JSON chatter return nil.
func ParseStreamLine(line []byte) *StreamLine {
	line = bytes.TrimSpace(bytes.TrimPrefix(line, bom))
	if len(line) == 0 || line[0] != '{' {
		return nil
	}
	var sl StreamLine
	if err := json.Unmarshal(line, &sl); err != nil {
		return nil
	}
	sl.Raw = append(json.RawMessage(nil), line...)
	return &sl
}

var (
	toolLineRe   = regexp.MustCompile(`^\[([A-Za-z_]+)\](?:\s*\((.*)\))?`)
	readLinesRe  = regexp.MustCompile(`^Read \d+ lines?`)
	succeededRe  = regexp.MustCompile(`^Succeeded\.(\s*File edited\.)?`)
	errorLineRe  = regexp.MustCompile(`(?i)^(error|fatal|panic)[:\s]`)
	blankOrBrace = regexp.MustCompile(`^[\s{}\[\]]*$`)
)

// ClassifyLine maps one line of unstructured Agent output onto an activity
// event. Order matters: tool markers, then status lines, then errors; what
// is left passes through as raw text.
func ClassifyLine(line string) *Activity {
	line = strings.TrimRight(line, "\r\n")
	if blankOrBrace.MatchString(line) {
		return nil
	}

	if m := toolLineRe.FindStringSubmatch(line); m != nil {
		return &Activity{Type: "tool_start", Tool: m[1], Detail: m[2]}
	}
	if readLinesRe.MatchString(line) || succeededRe.MatchString(line) {
		return &Activity{Type: "status", Text: line}
	}
	if errorLineRe.MatchString(line) {
		return &Activity{Type: "error", Text: line}
	}
	return &Activity{Type: "raw", Text: line}
}
