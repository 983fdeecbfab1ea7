package usecases

import (
	"regexp"
	"strings"
)

// segment is an intermediate chunking unit: either prose to be split further
// or a table that must stay whole.
type segment struct {
	table   bool
	content string
}

var (
	htmlTableRe   = regexp.MustCompile(`(?is)<table[^>]*>.*?</table>`)
	tableSepRe    = regexp.MustCompile(`:?-+:?`)
	subSplitOrder = []string{"\n\n", "\n", " "}
)

// segmentMarkdown splits Markdown content into table and text segments.
// Markdown tables (pipe-delimited with a separator row) and HTML tables are
// kept whole; consecutive HTML tables are merged, since converters often
// emit one logical table as several fragments.
func segmentMarkdown(content string) []segment {
	locs := htmlTableRe.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return segmentPipeTables(content)
	}

	var segments []segment
	lastEnd := 0
	i := 0
	for i < len(locs) {
		start, end := locs[i][0], locs[i][1]

		if before := content[lastEnd:start]; strings.TrimSpace(before) != "" {
			segments = append(segments, segmentPipeTables(before)...)
		}

		merged := []string{content[start:end]}
		for i+1 < len(locs) && strings.TrimSpace(content[end:locs[i+1][0]]) == "" {
			i++
			merged = append(merged, content[locs[i][0]:locs[i][1]])
			end = locs[i][1]
		}
		segments = append(segments, segment{table: true, content: strings.Join(merged, "\n")})

		lastEnd = end
		i++
	}
	if after := content[lastEnd:]; strings.TrimSpace(after) != "" {
		segments = append(segments, segmentPipeTables(after)...)
	}
	return segments
}

// segmentPipeTables extracts pipe-delimited Markdown tables from prose.
// A table starts at a pipe line whose next line is a separator row and runs
// until the first non-pipe or blank line.
func segmentPipeTables(content string) []segment {
	var segments []segment
	lines := strings.Split(content, "\n")

	flushText := func(buf []string) []string {
		if text := strings.TrimSpace(strings.Join(buf, "\n")); text != "" {
			segments = append(segments, segment{content: text})
		}
		return buf[:0]
	}

	var text []string
	i := 0
	for i < len(lines) {
		line := lines[i]
		if strings.Contains(line, "|") && i+1 < len(lines) {
			next := lines[i+1]
			if strings.Contains(next, "|") && tableSepRe.MatchString(next) {
				text = flushText(text)
				table := []string{line, next}
				i += 2
				for i < len(lines) && strings.Contains(lines[i], "|") && strings.TrimSpace(lines[i]) != "" {
					table = append(table, lines[i])
					i++
				}
				segments = append(segments, segment{table: true, content: strings.Join(table, "\n")})
				continue
			}
		}
		text = append(text, line)
		i++
	}
	flushText(text)
	return segments
}

// splitText breaks prose into chunks of at most size characters with the
// given overlap, preferring paragraph, then line, then word boundaries.
func splitText(content string, size, overlap int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if len(content) <= size {
		return []string{content}
	}

	var chunks []string
	for len(content) > size {
		cut := boundaryBefore(content, size)
		chunks = append(chunks, strings.TrimSpace(content[:cut]))

		next := cut - overlap
		if next <= 0 {
			next = cut
		}
		content = strings.TrimSpace(content[next:])
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}

// boundaryBefore finds the best split position at or before limit.
func boundaryBefore(content string, limit int) int {
	for _, sep := range subSplitOrder {
		if idx := strings.LastIndex(content[:limit], sep); idx > 0 {
			return idx + len(sep)
		}
	}
	return limit
}
