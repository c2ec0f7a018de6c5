package diff

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	contextLines    = 3
	maxDiffLines    = 10000
	truncateMessage = "... (diff truncated, exceeds 10,000 lines) ..."
)

type opKind byte

const (
	opEqual  opKind = ' '
	opDelete opKind = '-'
	opInsert opKind = '+'
)

type lineOp struct {
	kind opKind
	text string
}

// Stat counts changed lines.
type Stat struct {
	Added   int
	Removed int
}

// lines compares two texts line by line and returns the per-line operations.
func lines(before, after string) []lineOp {
	dmp := diffmatchpatch.New()
	a, b, table := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), table)

	var ops []lineOp
	for _, d := range diffs {
		kind := opEqual
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			kind = opDelete
		case diffmatchpatch.DiffInsert:
			kind = opInsert
		}
		for _, line := range splitLines(d.Text) {
			ops = append(ops, lineOp{kind: kind, text: line})
		}
	}
	return ops
}

// Changes returns the number of added and removed lines.
func Changes(before, after []byte) Stat {
	var stat Stat
	for _, op := range lines(string(before), string(after)) {
		switch op.kind {
		case opInsert:
			stat.Added++
		case opDelete:
			stat.Removed++
		}
	}
	return stat
}

// GenerateUnifiedDiff generates a unified diff comparing expected and actual content.
// Returns empty string if content is identical.
// Truncates diffs exceeding 10,000 lines with a truncation marker.
func GenerateUnifiedDiff(expected, actual []byte, expectedLabel, actualLabel string) string {
	if bytes.Equal(expected, actual) {
		return ""
	}

	ops := lines(string(expected), string(actual))

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- %s\n", expectedLabel)
	fmt.Fprintf(&buf, "+++ %s\n", actualLabel)

	for _, h := range hunks(ops) {
		fmt.Fprintf(&buf, "@@ -%s +%s @@\n", rangeSpec(h.oldStart, h.oldLen), rangeSpec(h.newStart, h.newLen))
		for _, op := range ops[h.from:h.to] {
			buf.WriteByte(byte(op.kind))
			buf.WriteString(op.text)
			buf.WriteByte('\n')
		}
	}

	result := buf.String()
	out := strings.Split(result, "\n")
	if len(out) > maxDiffLines {
		truncated := strings.Join(out[:maxDiffLines], "\n")
		return truncated + "\n" + truncateMessage + "\n"
	}
	return result
}

type hunk struct {
	from, to         int
	oldStart, oldLen int
	newStart, newLen int
}

// hunks groups changed operations with up to contextLines of surrounding context.
func hunks(ops []lineOp) []hunk {
	oldAt := make([]int, len(ops))
	newAt := make([]int, len(ops))
	oldLine, newLine := 1, 1
	for i, op := range ops {
		oldAt[i], newAt[i] = oldLine, newLine
		if op.kind != opInsert {
			oldLine++
		}
		if op.kind != opDelete {
			newLine++
		}
	}

	var result []hunk
	for i, op := range ops {
		if op.kind == opEqual {
			continue
		}
		from := max(0, i-contextLines)
		to := min(len(ops), i+contextLines+1)
		if n := len(result); n > 0 && from <= result[n-1].to {
			result[n-1].to = max(result[n-1].to, to)
			continue
		}
		result = append(result, hunk{from: from, to: to})
	}

	for i := range result {
		h := &result[i]
		h.oldStart, h.newStart = oldAt[h.from], newAt[h.from]
		for _, op := range ops[h.from:h.to] {
			if op.kind != opInsert {
				h.oldLen++
			}
			if op.kind != opDelete {
				h.newLen++
			}
		}
	}
	return result
}

func rangeSpec(start, length int) string {
	if length == 0 {
		start--
	}
	if length == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, length)
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}
