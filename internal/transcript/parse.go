// Package transcript reads raw call records from .txt call logs, directories of them and
// XLSX datasets.
package transcript

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/callscope/internal/models"
)

// Metadata keys set by Parse.
const (
	MetaTurns    = "turns"
	MetaSpeakers = "speakers"
	MetaStart    = "start"
	MetaEnd      = "end"
	MetaDuration = "duration_seconds"
	MetaSource   = "source"
)

// LineKind classifies one line of a call log.
type LineKind int

const (
	LineDialogue LineKind = iota
	LineSystem
	LineNote
	LineUnknown
)

var (
	speakerLineRe = regexp.MustCompile(`^\[(\d{2}:\d{2}:\d{2})\]\s*([\p{L}\p{N}_]+):\s*\.?\s*(.*)`)
	endCallLineRe = regexp.MustCompile(`^(?:\[(\d{2}:\d{2}:\d{2})\]\s*)?.*(?:LLAMADA FINALIZADA|\*\*\*|\[FIN DE LA LLAMADA\]|\[Llamada finalizada\])`)
	noteLineRe    = regexp.MustCompile(`^\s*-\s+(.*)`)
)

// Line is a classified call-log line.
type Line struct {
	Kind      LineKind
	Timestamp string
	Speaker   string
	Text      string
}

// ParseLine classifies a single line. Blank lines return ok == false.
func ParseLine(raw string) (Line, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Line{}, false
	}
	if m := speakerLineRe.FindStringSubmatch(s); m != nil {
		return Line{Kind: LineDialogue, Timestamp: m[1], Speaker: strings.ToUpper(m[2]), Text: strings.TrimSpace(m[3])}, true
	}
	if m := endCallLineRe.FindStringSubmatch(s); m != nil {
		return Line{Kind: LineSystem, Timestamp: m[1], Speaker: "SISTEMA", Text: s}, true
	}
	if m := noteLineRe.FindStringSubmatch(s); m != nil {
		return Line{Kind: LineNote, Speaker: "NOTA", Text: strings.TrimSpace(m[1])}, true
	}
	return Line{Kind: LineUnknown, Text: s}, true
}

// Parse reads a call log and returns a transcript whose text is the dialogue turns joined
// by single spaces. System, note and unknown lines are dropped. A log with no dialogue
// yields a transcript with empty text.
func Parse(id string, r io.Reader) (*models.Transcript, error) {
	var (
		turns    []string
		speakers = make(map[string]struct{})
		start    string
		end      string
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line, ok := ParseLine(sc.Text())
		if !ok {
			continue
		}
		if line.Timestamp != "" && line.Kind != LineNote {
			if start == "" {
				start = line.Timestamp
			}
			end = line.Timestamp
		}
		if line.Kind != LineDialogue || line.Text == "" {
			continue
		}
		turns = append(turns, line.Text)
		speakers[line.Speaker] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read transcript %s: %w", id, err)
	}

	meta := map[string]string{MetaTurns: strconv.Itoa(len(turns))}
	if len(speakers) > 0 {
		names := make([]string, 0, len(speakers))
		for s := range speakers {
			names = append(names, s)
		}
		sort.Strings(names)
		meta[MetaSpeakers] = strings.Join(names, ",")
	}
	if start != "" {
		meta[MetaStart] = start
		meta[MetaEnd] = end
		if d, ok := duration(start, end); ok {
			meta[MetaDuration] = strconv.Itoa(d)
		}
	}
	return &models.Transcript{ID: id, Text: strings.Join(turns, " "), Metadata: meta}, nil
}

// ParseFile parses the call log at path. The transcript id is the file name without its
// extension.
func ParseFile(path string) (*models.Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	t, err := Parse(IDFromPath(path), f)
	if err != nil {
		return nil, err
	}
	t.Metadata[MetaSource] = filepath.Base(path)
	return t, nil
}

// IDFromPath returns the file name of path without directory or extension.
func IDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func seconds(ts string) (int, bool) {
	parts := strings.Split(ts, ":")
	if len(parts) != 3 {
		return 0, false
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}

func duration(start, end string) (int, bool) {
	s, ok := seconds(start)
	if !ok {
		return 0, false
	}
	e, ok := seconds(end)
	if !ok || e < s {
		return 0, false
	}
	return e - s, true
}
