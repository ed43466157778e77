package scripting

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
)

// ParseTable parses column output with a header line. Rows are keyed by the
// value of keyField. An empty separator splits on whitespace. Lines made of
// dashes and blanks are skipped.
func ParseTable(output, keyField, separator string) (map[string]map[string]string, error) {
	split := func(line string) []string {
		if separator == "" {
			return strings.Fields(line)
		}
		fields := strings.Split(line, separator)
		for i, f := range fields {
			fields[i] = strings.TrimSpace(f)
		}
		// sacct -p style output ends each line with the separator.
		if len(fields) > 0 && fields[len(fields)-1] == "" {
			fields = fields[:len(fields)-1]
		}
		return fields
	}

	var header []string
	rows := make(map[string]map[string]string)
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" || isRule(line) {
			continue
		}
		fields := split(line)
		if header == nil {
			header = fields
			if !slices.Contains(header, keyField) {
				return nil, fmt.Errorf("key field %q not in header %v", keyField, header)
			}
			continue
		}
		if len(fields) != len(header) {
			return nil, fmt.Errorf("row %q has %d fields, header has %d", line, len(fields), len(header))
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			row[h] = fields[i]
		}
		rows[row[keyField]] = row
	}
	if header == nil {
		return nil, errors.New("no header line")
	}
	return rows, nil
}

func isRule(line string) bool {
	return strings.Trim(line, "- \t+=") == ""
}

// ParseKeyValue parses "key<sep>value" lines. An empty separator splits on
// the first run of whitespace. Lines without a separator are ignored.
func ParseKeyValue(output, separator string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isRule(line) {
			continue
		}
		var key, value string
		var ok bool
		if separator == "" {
			idx := strings.IndexAny(line, " \t")
			if idx < 0 {
				continue
			}
			key, value, ok = line[:idx], line[idx:], true
		} else {
			key, value, ok = strings.Cut(line, separator)
		}
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out
}

// ParseLines returns the trimmed non-empty lines of output.
func ParseLines(output string) []string {
	var out []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// ParseXMLRecords returns one map per element named record, holding the
// text of its leaf children by element name and its attributes prefixed
// with "@".
func ParseXMLRecords(data []byte, record string) ([]map[string]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		out     []map[string]string
		current map[string]string
		depth   int // depth inside current record
		field   string
		text    strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if current == nil {
				if t.Name.Local == record {
					current = make(map[string]string)
					for _, a := range t.Attr {
						current["@"+a.Name.Local] = a.Value
					}
					depth = 0
				}
				continue
			}
			depth++
			field = t.Name.Local
			text.Reset()
		case xml.CharData:
			if current != nil && field != "" {
				text.Write(t)
			}
		case xml.EndElement:
			if current == nil {
				continue
			}
			if depth == 0 && t.Name.Local == record {
				out = append(out, current)
				current = nil
				continue
			}
			if field == t.Name.Local {
				current[field] = strings.TrimSpace(text.String())
				field = ""
			}
			depth--
		}
	}
	return out, nil
}

// ParseJobID extracts the first submatch of pattern from submit output.
func ParseJobID(output string, pattern *regexp.Regexp) (string, error) {
	m := pattern.FindStringSubmatch(output)
	if m == nil || len(m) < 2 || m[1] == "" {
		return "", fmt.Errorf("no job id in %q", strings.TrimSpace(output))
	}
	return m[1], nil
}
