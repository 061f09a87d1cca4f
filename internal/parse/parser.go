// Package parse extracts typed records from raw listing pages. Parsing is
// pure: identical input always yields the identical record sequence, and
// unparseable sub-fields degrade to nil instead of dropping the record.
package parse

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/admitdata/harvest-cli/internal/model"
)

var (
	resultHrefRe = regexp.MustCompile(`^/result/(\d+)$`)
	termRe       = regexp.MustCompile(`(?i)\b(Fall|Spring|Summer|Winter)\s+\d{4}\b`)
	gpaRe        = regexp.MustCompile(`(?i)\bGPA\s*([0-4]\.\d{1,2}|[0-4])\b`)
	greVerbalRe  = regexp.MustCompile(`(?i)\bV\s*[:\-]?\s*(\d{2,3})\b`)
	greQuantRe   = regexp.MustCompile(`(?i)\bQ\s*[:\-]?\s*(\d{2,3})\b`)
	greWritingRe = regexp.MustCompile(`(?i)\bAW\s*[:\-]?\s*([\d.]+)\b`)
	residencyRe  = regexp.MustCompile(`(?i)\b(International|American)\b`)
)

const siteOrigin = "https://www.thegradcafe.com"

// Page is the parsed form of one fetched fragment. End reports the site's
// explicit end-of-pagination signal: a well-formed results table with no
// result rows. A page that does not contain a results table at all is a
// parse error, so the orchestrator can treat it as a retryable gap rather
// than true completion.
type Page struct {
	Records []model.Record
	End     bool
}

// Parse extracts all records from one page's HTML.
func Parse(html []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "parse: read document")
	}

	tbody := doc.Find("tbody").First()
	if tbody.Length() == 0 {
		return nil, eris.New("parse: no results table in page")
	}

	rows := tbody.ChildrenFiltered("tr")
	if rows.Length() == 0 {
		return &Page{End: true}, nil
	}

	var records []model.Record
	trs := make([]*goquery.Selection, 0, rows.Length())
	rows.Each(func(_ int, tr *goquery.Selection) {
		trs = append(trs, tr)
	})

	i := 0
	for i < len(trs) {
		tr := trs[i]
		if !isMainRow(tr) {
			i++
			continue
		}

		rec, ok := parseMainRow(tr)
		if !ok {
			i++
			continue
		}

		// Detail rows (term, scores, residency) and an optional comment
		// row follow the main row until the next result link appears.
		var detail []string
		var comment string
		j := i + 1
		for j < len(trs) {
			next := trs[j]
			if isMainRow(next) {
				break
			}
			if txt := squeeze(next.Text()); txt != "" {
				detail = append(detail, txt)
			}
			if p := next.Find("p").First(); p.Length() > 0 {
				if txt := strings.TrimSpace(p.Text()); txt != "" {
					comment = txt
				}
			}
			j++
		}

		applyDetail(&rec, strings.Join(detail, " "), comment)
		records = append(records, rec)
		i = j
	}

	if len(records) == 0 {
		return &Page{End: true}, nil
	}
	return &Page{Records: records}, nil
}

// isMainRow reports whether tr starts a record: at least four cells and a
// link into the result detail pages.
func isMainRow(tr *goquery.Selection) bool {
	if tr.ChildrenFiltered("td").Length() < 4 {
		return false
	}
	return findResultLink(tr) != ""
}

func findResultLink(tr *goquery.Selection) string {
	var href string
	tr.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		h, ok := a.Attr("href")
		if ok && resultHrefRe.MatchString(h) {
			href = h
			return false
		}
		return true
	})
	return href
}

func parseMainRow(tr *goquery.Selection) (model.Record, bool) {
	href := findResultLink(tr)
	if href == "" {
		return model.Record{}, false
	}
	recordURL := siteOrigin + href

	tds := tr.ChildrenFiltered("td")

	rec := model.Record{
		SourceID:  model.SourceID(recordURL),
		URL:       recordURL,
		Status:    model.StatusOther,
		Residency: model.ResidencyUnspecified,
	}

	if u := squeeze(tds.Eq(0).Text()); u != "" {
		rec.University = &u
	}

	progCell := tds.Eq(1)
	spans := progCell.Find("span")
	if spans.Length() >= 1 {
		if p := squeeze(spans.Eq(0).Text()); p != "" {
			rec.Program = &p
		}
	} else if p := squeeze(progCell.Text()); p != "" {
		rec.Program = &p
	}
	if spans.Length() >= 2 {
		if d := squeeze(spans.Eq(1).Text()); d != "" {
			rec.Degree = &d
		}
	}

	rec.DateAdded = squeeze(tds.Eq(2).Text())
	rec.Status = model.ParseStatus(squeeze(tds.Eq(3).Text()))

	return rec, true
}

// applyDetail fills term, residency, scores, and comment from the detail
// rows' combined text. Anything that doesn't match stays nil.
func applyDetail(rec *model.Record, blob, comment string) {
	if m := termRe.FindString(blob); m != "" {
		rec.Term = &m
	}

	if m := residencyRe.FindString(blob); m != "" {
		rec.Residency = model.ParseResidency(m)
	}

	rec.GPA = matchFloat(gpaRe, blob)
	rec.GREVerbal = matchFloat(greVerbalRe, blob)
	rec.GRE = matchFloat(greQuantRe, blob)
	rec.GREWriting = matchFloat(greWritingRe, blob)

	if comment != "" {
		rec.Comments = &comment
	}
}

func matchFloat(re *regexp.Regexp, s string) *float64 {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &f
}

// squeeze trims and collapses internal whitespace, matching how the site
// renders multi-node cell text.
func squeeze(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
