package profile

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/ini.v1"
)

// Section is one bracketed block of an INI-style AWS file.
type Section struct {
	Name     string
	Keys     map[string]string
	Comments []string
	Line     int
}

// SectionError describes a part of a file that was skipped.
type SectionError struct {
	Section string
	Line    int
	Reason  string
}

func (e *SectionError) Error() string {
	if e.Section == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("line %d: section [%s]: %s", e.Line, e.Section, e.Reason)
}

func (e *SectionError) Unwrap() error { return ErrMalformedSection }

var loadOptions = ini.LoadOptions{
	Loose:                    true,
	InsensitiveKeys:          true,
	AllowNestedValues:        true,
	SkipUnrecognizableLines:  true,
	IgnoreContinuation:       true,
	SpaceBeforeInlineComment: true,
}

// ScanSections splits data into sections. Malformed sections are skipped and
// reported; they never hide the valid sections around them.
//
// A line scan decides which sections survive and records their line numbers
// and comments. The surviving lines are then decoded by gopkg.in/ini.v1.
func ScanSections(data []byte) ([]Section, []*SectionError) {
	blocks, warnings := splitBlocks(data)
	if len(blocks) == 0 {
		return nil, warnings
	}

	var clean bytes.Buffer
	for _, b := range blocks {
		fmt.Fprintf(&clean, "[%s]\n", b.name)
		for _, l := range b.lines {
			clean.WriteString(l)
			clean.WriteByte('\n')
		}
	}

	file, err := ini.LoadSources(loadOptions, clean.Bytes())
	if err != nil {
		// The decoder error can quote a line, which may hold a secret.
		return nil, append(warnings, &SectionError{Line: blocks[0].line, Reason: "file could not be decoded"})
	}

	sections := make([]Section, 0, len(blocks))
	for _, b := range blocks {
		s := Section{Name: b.name, Keys: make(map[string]string), Comments: b.comments, Line: b.line}
		if sec, err := file.GetSection(b.name); err == nil {
			for _, k := range sec.Keys() {
				s.Keys[strings.ToLower(k.Name())] = k.String()
			}
		}
		sections = append(sections, s)
	}
	return sections, warnings
}

type block struct {
	name     string
	line     int
	lines    []string
	comments []string
	keys     int
	nested   bool
}

// splitBlocks validates headers and key lines and returns the sections worth
// decoding. Any trimmed line starting with '[' is a header, whatever its
// indentation.
func splitBlocks(data []byte) ([]block, []*SectionError) {
	var (
		blocks   []block
		warnings []*SectionError
		current  *block
		skipping bool
		seen     = make(map[string]bool)
		lineNo   int
	)

	flush := func() {
		if current != nil {
			blocks = append(blocks, *current)
			current = nil
		}
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimRight(scanner.Text(), " \t\r")
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if line[0] == '#' || line[0] == ';' {
			if current != nil {
				current.comments = append(current.comments, line)
				current.lines = append(current.lines, line)
			}
			continue
		}

		if line[0] == '[' {
			flush()
			skipping = true

			end := strings.IndexByte(line, ']')
			if end < 0 {
				warnings = append(warnings, &SectionError{Line: lineNo, Reason: "unterminated section header"})
				continue
			}
			if rest := strings.TrimSpace(line[end+1:]); rest != "" && rest[0] != '#' && rest[0] != ';' {
				warnings = append(warnings, &SectionError{Line: lineNo, Reason: "unexpected text after section header"})
				continue
			}
			name := strings.Join(strings.Fields(line[1:end]), " ")
			if name == "" {
				warnings = append(warnings, &SectionError{Line: lineNo, Reason: "empty section name"})
				continue
			}
			if seen[name] {
				warnings = append(warnings, &SectionError{Section: name, Line: lineNo, Reason: "duplicate section, later copy ignored"})
				continue
			}
			seen[name] = true
			skipping = false
			current = &block{name: name, line: lineNo}
			continue
		}

		if current == nil {
			if !skipping {
				warnings = append(warnings, &SectionError{Line: lineNo, Reason: "key outside of any section"})
			}
			continue
		}

		// Indented lines after a key belong to that key: a nested block such
		// as "s3 =" or a continuation of its value.
		if (raw[0] == ' ' || raw[0] == '\t') && current.keys > 0 {
			if current.nested {
				current.lines = append(current.lines, raw)
			}
			continue
		}

		_, value, ok := splitKeyValue(line)
		if !ok {
			warnings = append(warnings, &SectionError{Section: current.name, Line: lineNo, Reason: "expected key = value"})
			current = nil
			skipping = true
			continue
		}
		current.keys++
		current.nested = value == ""
		current.lines = append(current.lines, line)
	}
	flush()

	if err := scanner.Err(); err != nil {
		warnings = append(warnings, &SectionError{Line: lineNo + 1, Reason: err.Error()})
	}
	return blocks, warnings
}

func splitKeyValue(line string) (string, string, bool) {
	idx := strings.IndexAny(line, "=:")
	if idx <= 0 {
		return "", "", false
	}
	key := strings.ToLower(strings.TrimSpace(line[:idx]))
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(line[idx+1:]), true
}

// Warnings folds section errors into one error, nil when there are none.
func Warnings(errs []*SectionError) error {
	var result *multierror.Error
	for _, e := range errs {
		result = multierror.Append(result, e)
	}
	return result.ErrorOrNil()
}
