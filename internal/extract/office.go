package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	contentTypesPath    = "[Content_Types].xml"
	docxDefaultPath     = "word/document.xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	odfContentPath      = "content.xml"
)

// xmlLayout names the elements that carry text and the elements that end a line.
type xmlLayout struct {
	text  map[string]bool
	block map[string]bool
}

var (
	// w:t runs inside w:p paragraphs.
	docxLayout = xmlLayout{text: set("t"), block: set("p")}
	// a:t runs inside a:p paragraphs.
	pptxLayout = xmlLayout{text: set("t"), block: set("p")}
	// text:p and text:h, with nested text:span.
	odfLayout = xmlLayout{text: set("p", "h"), block: set("p", "h")}
)

var slideNumber = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// extractOOXML handles .docx (main document part) and .pptx (slides in order).
func extractOOXML(content []byte, kind string, layout xmlLayout) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract %s: not a zip: %w", kind, err)
	}
	var parts []string
	if kind == "DOCX" {
		parts = []string{docxMainPart(zr)}
	} else {
		parts = slideParts(zr)
	}

	var out []string
	for _, name := range parts {
		data, err := readZipEntry(zr, name)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", kind, err)
		}
		text, err := collectText(data, layout)
		if err != nil {
			return "", fmt.Errorf("extract %s: %s: %w", kind, name, err)
		}
		if text != "" {
			out = append(out, text)
		}
	}
	return strings.Join(out, "\n"), nil
}

// extractODF handles OpenDocument text, presentation and spreadsheet files.
func extractODF(content []byte, kind string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract %s: not a zip: %w", kind, err)
	}
	data, err := readZipEntry(zr, odfContentPath)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", kind, err)
	}
	text, err := collectText(data, odfLayout)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", kind, err)
	}
	return text, nil
}

// docxMainPart reads the main document part name from [Content_Types].xml.
func docxMainPart(zr *zip.Reader) string {
	data, err := readZipEntry(zr, contentTypesPath)
	if err != nil {
		return docxDefaultPath
	}
	var types struct {
		Overrides []struct {
			PartName    string `xml:"PartName,attr"`
			ContentType string `xml:"ContentType,attr"`
		} `xml:"Override"`
	}
	if err := xml.Unmarshal(data, &types); err != nil {
		return docxDefaultPath
	}
	for _, o := range types.Overrides {
		if o.ContentType == docxMainContentType {
			return strings.TrimPrefix(o.PartName, "/")
		}
	}
	return docxDefaultPath
}

// slideParts returns slide XML names sorted by slide number.
func slideParts(zr *zip.Reader) []string {
	type slide struct {
		name string
		n    int
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideNumber.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{f.Name, n})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })
	names := make([]string, len(slides))
	for i, s := range slides {
		names[i] = s.name
	}
	return names
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s not found", name)
}

// collectText streams the XML and keeps character data inside text elements.
// Runs inside a block are concatenated; each block element becomes one line and empty
// lines are dropped.
func collectText(data []byte, layout xmlLayout) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false

	var lines []string
	var line strings.Builder
	depth := 0
	endLine := func() {
		if s := strings.Join(strings.Fields(line.String()), " "); s != "" {
			lines = append(lines, s)
		}
		line.Reset()
	}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if layout.text[t.Name.Local] {
				depth++
			}
		case xml.EndElement:
			if layout.text[t.Name.Local] && depth > 0 {
				depth--
			}
			if layout.block[t.Name.Local] && depth == 0 {
				endLine()
			}
		case xml.CharData:
			if depth > 0 {
				line.Write(t)
			}
		}
	}
	endLine()
	return strings.Join(lines, "\n"), nil
}
