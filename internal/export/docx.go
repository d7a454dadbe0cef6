package export

import (
	"regexp"
	"strings"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"
)

const (
	fontName  = "Calibri"
	bodySize  = 11
	titleSize = 16
	textColor = "1F1F1F"
)

var (
	reHeading   = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	reBold      = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reBullet    = regexp.MustCompile(`^[\-\*•]\s+(.+)$`)
	reNumbered  = regexp.MustCompile(`^\d+[\.\)]\s+(.+)$`)
	reTimestamp = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}[\.,]\d{3}\s*-->\s*\d{2}:\d{2}:\d{2}[\.,]\d{3}\]\s*`)
)

type blockKind int

const (
	blockText blockKind = iota
	blockHeading
	blockBullet
	blockNumbered
)

type block struct {
	kind  blockKind
	level int
	text  string
}

// SummaryDocx renders a markdown-ish summary to a .docx file at path.
func SummaryDocx(title, markdown, path string) error {
	doc, err := godocx.NewDocument()
	if err != nil {
		return err
	}
	addRun(doc.AddParagraph(""), title, true, titleSize)

	for _, b := range summaryBlocks(markdown) {
		p := doc.AddParagraph("")
		switch b.kind {
		case blockHeading:
			addRun(p, b.text, true, headingSize(b.level))
		case blockBullet:
			addRichText(p, "• "+b.text)
		default:
			addRichText(p, b.text)
		}
	}
	return doc.SaveTo(path)
}

// TranscriptDocx writes one paragraph per spoken line, without whisper's
// segment timestamps.
func TranscriptDocx(title, transcript, path string) error {
	doc, err := godocx.NewDocument()
	if err != nil {
		return err
	}
	addRun(doc.AddParagraph(""), title, true, titleSize)
	doc.AddParagraph("")

	for _, line := range transcriptLines(transcript) {
		doc.AddParagraph("").AddText(line).Font(fontName).Size(bodySize).Color(textColor)
	}
	return doc.SaveTo(path)
}

func summaryBlocks(markdown string) []block {
	var blocks []block
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == "---" {
			continue
		}
		if m := reHeading.FindStringSubmatch(trimmed); m != nil {
			blocks = append(blocks, block{kind: blockHeading, level: len(m[1]), text: m[2]})
			continue
		}
		if m := reBullet.FindStringSubmatch(trimmed); m != nil {
			blocks = append(blocks, block{kind: blockBullet, text: m[1]})
			continue
		}
		if reNumbered.MatchString(trimmed) {
			blocks = append(blocks, block{kind: blockNumbered, text: trimmed})
			continue
		}
		blocks = append(blocks, block{kind: blockText, text: trimmed})
	}
	return blocks
}

func transcriptLines(transcript string) []string {
	var lines []string
	for _, line := range strings.Split(transcript, "\n") {
		line = strings.TrimSpace(reTimestamp.ReplaceAllString(strings.TrimSpace(line), ""))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func headingSize(level int) uint64 {
	switch level {
	case 1:
		return 15
	case 2:
		return 14
	case 3:
		return 13
	default:
		return 12
	}
}

func addRun(p *docx.Paragraph, text string, bold bool, size uint64) {
	run := p.AddText(stripInline(text)).Font(fontName).Size(size).Color(textColor)
	if bold {
		run.Bold(true)
	}
}

// addRichText keeps **bold** spans bold and flattens other inline markup.
func addRichText(p *docx.Paragraph, text string) {
	parts := reBold.Split(text, -1)
	matches := reBold.FindAllStringSubmatch(text, -1)
	for i, part := range parts {
		if part != "" {
			p.AddText(stripInline(part)).Font(fontName).Size(bodySize).Color(textColor)
		}
		if i < len(matches) {
			p.AddText(stripInline(matches[i][1])).Font(fontName).Size(bodySize).Color(textColor).Bold(true)
		}
	}
}

func stripInline(s string) string {
	return strings.NewReplacer("**", "", "__", "", "`", "").Replace(s)
}
