package scraper

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/scentbase/perfume-catalog/internal/models"
)

// Extractor turns a parsed product page into a Perfume record. It is
// pure over the document tree and never performs I/O. Every field is an
// ordered chain of strategies; the first non-empty plausible value
// wins, because the source site's markup varies wildly between product
// pages and changes over time.
type Extractor struct {
	siteOrigin string

	yearPatterns     []*regexp.Regexp
	perfumerPattern  *regexp.Regexp
	widthPattern     *regexp.Regexp
	colorPattern     *regexp.Regexp
	concentrations   []concentrationPattern
	genderQualifiers []string
}

type concentrationPattern struct {
	substr string
	label  string
}

func NewExtractor(siteOrigin string) *Extractor {
	return &Extractor{
		siteOrigin: strings.TrimRight(siteOrigin, "/"),
		yearPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)launched in (\d{4})`),
			regexp.MustCompile(`(?i)was launched in (\d{4})`),
			regexp.MustCompile(`(?i)from (\d{4})`),
			regexp.MustCompile(`\((\d{4})\)`),
		},
		perfumerPattern: regexp.MustCompile(
			`(?:created by|[Nn]oses?:?)\s+((?:[A-Z][\w-]+(?:\s+[A-Z][\w-]+)*(?:,\s*| and )?)+)`),
		widthPattern: regexp.MustCompile(`width:\s*([\d.]+)%`),
		colorPattern: regexp.MustCompile(
			`background(?:-color)?:\s*(rgb\([^)]*\)|#[0-9a-fA-F]{3,8})`),
		// Order matters: "parfum" is a substring of "eau de parfum",
		// so the generic pattern must come last.
		concentrations: []concentrationPattern{
			{"extrait", "Extrait de Parfum"},
			{"eau de parfum", "Eau de Parfum"},
			{"eau de toilette", "Eau de Toilette"},
			{"eau de cologne", "Eau de Cologne"},
			{"eau fraiche", "Eau Fraiche"},
			{"parfum", "Parfum"},
		},
		genderQualifiers: []string{
			"for women and men",
			"for women",
			"for men",
		},
	}
}

// Extract builds a record from the page. Missing optional fields are
// left zero; required-field enforcement happens one layer up.
func (e *Extractor) Extract(doc *goquery.Document, sourceURL string) *models.Perfume {
	p := models.NewPerfume(sourceURL)

	heading := cleanText(doc.Find(`h1[itemprop="name"]`).First().Text())
	bodyText := doc.Find("body").Text()

	p.Brand = e.extractBrand(doc)
	p.Name = e.extractName(doc, heading, p.Brand)
	p.Year = e.extractYear(bodyText)
	p.Perfumer = e.extractPerfumer(doc, bodyText)
	p.Gender = e.extractGender(heading, bodyText)
	p.Concentration = e.extractConcentration(bodyText)
	p.Notes = e.extractNotes(doc)
	p.Accords = e.extractAccords(doc)
	p.Description = e.extractDescription(doc)
	p.ImageURL = e.extractImage(doc)
	p.Rating = e.extractRating(doc)

	return p
}

func (e *Extractor) extractName(doc *goquery.Document, heading, brand string) string {
	if heading != "" {
		name := heading
		for _, q := range e.genderQualifiers {
			if trimmed, ok := cutQualifier(name, q); ok {
				name = trimmed
				break
			}
		}
		// Some templates render "<name> <brand>" as one heading.
		if brand != "" && len(name) > len(brand) {
			if strings.EqualFold(name[len(name)-len(brand):], brand) {
				name = strings.TrimSpace(name[:len(name)-len(brand)])
			}
		}
		if name != "" {
			return name
		}
	}

	title := cleanText(doc.Find("title").First().Text())
	for _, sep := range []string{" | ", " - ", " – ", " :: "} {
		if idx := strings.Index(title, sep); idx > 0 {
			return strings.TrimSpace(title[:idx])
		}
	}
	return title
}

// cutQualifier drops everything from the last case-insensitive
// occurrence of q onward. Matching runs over runes: case folding can
// change byte lengths, so byte offsets from a lowered copy are not
// valid in the original.
func cutQualifier(name, q string) (string, bool) {
	runes := []rune(name)
	qlen := len([]rune(q))
	for i := len(runes) - qlen; i > 0; i-- {
		if strings.EqualFold(string(runes[i:i+qlen]), q) {
			return strings.TrimSpace(string(runes[:i])), true
		}
	}
	return name, false
}

func (e *Extractor) extractBrand(doc *goquery.Document) string {
	if brand := cleanText(doc.Find(`[itemprop="brand"]`).First().Text()); brand != "" {
		return brand
	}
	return cleanText(doc.Find(`a[href*="/designers/"]`).First().Text())
}

func (e *Extractor) extractYear(bodyText string) int {
	currentYear := time.Now().Year()
	for _, pattern := range e.yearPatterns {
		for _, match := range pattern.FindAllStringSubmatch(bodyText, -1) {
			year, err := strconv.Atoi(match[1])
			if err != nil {
				continue
			}
			if year >= 1900 && year <= currentYear {
				return year
			}
		}
	}
	return 0
}

func (e *Extractor) extractPerfumer(doc *goquery.Document, bodyText string) string {
	var names []string
	seen := make(map[string]bool)
	doc.Find(`a[href*="/noses/"]`).Each(func(_ int, s *goquery.Selection) {
		name := cleanText(s.Text())
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	})
	if len(names) > 0 {
		return strings.Join(names, ", ")
	}

	if match := e.perfumerPattern.FindStringSubmatch(bodyText); match != nil {
		return cleanText(strings.Trim(match[1], ",. "))
	}
	return ""
}

func (e *Extractor) extractGender(heading, bodyText string) models.Gender {
	for _, text := range []string{strings.ToLower(heading), strings.ToLower(bodyText)} {
		if text == "" {
			continue
		}
		switch {
		case strings.Contains(text, "for women and men"), strings.Contains(text, "unisex"):
			return models.GenderUnisex
		case strings.Contains(text, "for women"):
			return models.GenderFeminine
		case strings.Contains(text, "for men"):
			return models.GenderMasculine
		}
	}
	return models.GenderUnisex
}

func (e *Extractor) extractConcentration(bodyText string) string {
	lower := strings.ToLower(bodyText)
	for _, c := range e.concentrations {
		if strings.Contains(lower, c.substr) {
			return c.label
		}
	}
	return ""
}

// extractNotes resolves the olfactory pyramid through three strategies
// of decreasing fidelity.
func (e *Extractor) extractNotes(doc *goquery.Document) models.Notes {
	if notes := e.notesFromPyramid(doc); !notes.IsEmpty() {
		return notes
	}
	if notes := e.notesFromSections(doc); !notes.IsEmpty() {
		return notes
	}
	return e.notesFromAllLinks(doc)
}

func (e *Extractor) notesFromPyramid(doc *goquery.Document) models.Notes {
	notes := emptyNotes()
	doc.Find(`#pyramid a[href*="/notes/"], .pyramid a[href*="/notes/"]`).
		Each(func(_ int, s *goquery.Selection) {
			name := cleanText(s.Text())
			if name == "" {
				return
			}
			switch classifyNoteAncestor(s) {
			case "top":
				notes.Top = append(notes.Top, name)
			case "heart":
				notes.Heart = append(notes.Heart, name)
			case "base":
				notes.Base = append(notes.Base, name)
			}
		})
	return notes
}

// classifyNoteAncestor walks up from a note link looking for a
// container class that names the pyramid layer.
func classifyNoteAncestor(s *goquery.Selection) string {
	for parent := s.Parent(); parent.Length() > 0; parent = parent.Parent() {
		class, _ := parent.Attr("class")
		class = strings.ToLower(class)
		switch {
		case strings.Contains(class, "top"):
			return "top"
		case strings.Contains(class, "heart"), strings.Contains(class, "middle"):
			return "heart"
		case strings.Contains(class, "base"):
			return "base"
		}
	}
	return ""
}

func (e *Extractor) notesFromSections(doc *goquery.Document) models.Notes {
	notes := emptyNotes()
	doc.Find("h2, h3, h4, b, strong").Each(func(_ int, header *goquery.Selection) {
		label := strings.ToLower(cleanText(header.Text()))
		var bucket *[]string
		switch {
		case strings.Contains(label, "top notes"):
			bucket = &notes.Top
		case strings.Contains(label, "heart notes"), strings.Contains(label, "middle notes"):
			bucket = &notes.Heart
		case strings.Contains(label, "base notes"):
			bucket = &notes.Base
		default:
			return
		}
		section := header.Parent()
		section.Find(`a[href*="/notes/"]`).Each(func(_ int, link *goquery.Selection) {
			if name := cleanText(link.Text()); name != "" {
				*bucket = append(*bucket, name)
			}
		})
	})
	return notes
}

// notesFromAllLinks is the last resort: collect every note link on the
// page and split the list into thirds. An approximation with known
// accuracy limits, kept for pages that expose notes without any layer
// markup.
func (e *Extractor) notesFromAllLinks(doc *goquery.Document) models.Notes {
	var all []string
	seen := make(map[string]bool)
	doc.Find(`a[href*="/notes/"]`).Each(func(_ int, s *goquery.Selection) {
		if name := cleanText(s.Text()); name != "" && !seen[name] {
			seen[name] = true
			all = append(all, name)
		}
	})
	return splitNotesInThirds(all)
}

func splitNotesInThirds(all []string) models.Notes {
	notes := emptyNotes()
	n := len(all)
	if n == 0 {
		return notes
	}
	topEnd := (n + 2) / 3
	heartEnd := topEnd + (n-topEnd+1)/2
	notes.Top = append(notes.Top, all[:topEnd]...)
	notes.Heart = append(notes.Heart, all[topEnd:heartEnd]...)
	notes.Base = append(notes.Base, all[heartEnd:]...)
	return notes
}

func (e *Extractor) extractAccords(doc *goquery.Document) []models.Accord {
	accords := []models.Accord{}
	doc.Find(`[class*="accord-bar"]`).Each(func(_ int, s *goquery.Selection) {
		name := cleanText(s.Text())
		// Bars without a name, or whose text is itself a percentage,
		// are layout noise.
		if name == "" || strings.Contains(name, "%") {
			return
		}

		accord := models.Accord{Name: name}
		style, _ := s.Attr("style")
		if match := e.widthPattern.FindStringSubmatch(style); match != nil {
			if pct, err := strconv.ParseFloat(match[1], 64); err == nil && pct >= 0 && pct <= 100 {
				accord.Percentage = pct
			}
		}
		if match := e.colorPattern.FindStringSubmatch(style); match != nil {
			accord.Color = match[1]
		}
		accords = append(accords, accord)
	})
	return accords
}

func (e *Extractor) extractDescription(doc *goquery.Document) string {
	candidates := []string{
		`[itemprop="description"]`,
		`.fragrance-description`,
		"blockquote",
	}
	for _, sel := range candidates {
		if text := cleanText(doc.Find(sel).First().Text()); len(text) > 50 {
			return text
		}
	}

	var longest string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := cleanText(s.Text())
		if len(text) <= 100 || len(text) >= 2000 {
			return
		}
		if strings.Contains(text, "Login") || strings.Contains(text, "Register") ||
			strings.Contains(text, "©") {
			return
		}
		if len(text) > len(longest) {
			longest = text
		}
	})
	return longest
}

func (e *Extractor) extractImage(doc *goquery.Document) string {
	selectors := []string{
		`img[itemprop="image"]`,
		"picture source",
		"img.perfume-image",
		".perfume-image img",
		"img.main-image",
	}
	for _, sel := range selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		src, _ := s.Attr("src")
		if src == "" {
			if srcset, ok := s.Attr("srcset"); ok {
				src = firstSrcsetCandidate(srcset)
			}
		}
		if src == "" {
			src, _ = s.Attr("data-src")
		}
		if src != "" {
			return e.absoluteURL(src)
		}
	}
	return ""
}

func firstSrcsetCandidate(srcset string) string {
	first := strings.SplitN(srcset, ",", 2)[0]
	fields := strings.Fields(strings.TrimSpace(first))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func (e *Extractor) absoluteURL(src string) string {
	switch {
	case strings.HasPrefix(src, "//"):
		return "https:" + src
	case strings.HasPrefix(src, "/"):
		return e.siteOrigin + src
	}
	return src
}

func (e *Extractor) extractRating(doc *goquery.Document) float64 {
	selectors := []string{
		`[itemprop="ratingValue"]`,
		".rating-value",
		"[data-rating]",
		".vote-score",
	}
	for _, sel := range selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		raw, ok := s.Attr("content")
		if !ok || raw == "" {
			raw, _ = s.Attr("data-rating")
		}
		if raw == "" {
			raw = s.Text()
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || value < 0 || value > 10 {
			continue
		}
		// Anything above 5 is assumed to be a 0-10 scale.
		if value > 5 {
			value /= 2
		}
		return math.Round(value*10) / 10
	}
	return 0
}

func emptyNotes() models.Notes {
	return models.Notes{Top: []string{}, Heart: []string{}, Base: []string{}}
}

var whitespacePattern = regexp.MustCompile(`\s+`)

func cleanText(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}
