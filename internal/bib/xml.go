package bib

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// pubmedArticle mirrors the parts of a PubMed/MEDLINE XML record we keep.
type pubmedArticle struct {
	Citation struct {
		Article struct {
			Journal struct {
				Title        string `xml:"Title"`
				JournalIssue struct {
					Volume  string `xml:"Volume"`
					Issue   string `xml:"Issue"`
					PubDate struct {
						Year        string `xml:"Year"`
						MedlineDate string `xml:"MedlineDate"`
					} `xml:"PubDate"`
				} `xml:"JournalIssue"`
			} `xml:"Journal"`
			ArticleTitle innerText `xml:"ArticleTitle"`
			Pagination   struct {
				MedlinePgn string `xml:"MedlinePgn"`
			} `xml:"Pagination"`
			ELocationIDs []struct {
				Type  string `xml:"EIdType,attr"`
				Value string `xml:",chardata"`
			} `xml:"ELocationID"`
			Abstract struct {
				Texts []abstractText `xml:"AbstractText"`
			} `xml:"Abstract"`
			Authors []struct {
				LastName       string `xml:"LastName"`
				ForeName       string `xml:"ForeName"`
				Initials       string `xml:"Initials"`
				CollectiveName string `xml:"CollectiveName"`
			} `xml:"AuthorList>Author"`
		} `xml:"Article"`
	} `xml:"MedlineCitation"`
	ArticleIDs []struct {
		Type  string `xml:"IdType,attr"`
		Value string `xml:",chardata"`
	} `xml:"PubmedData>ArticleIdList>ArticleId"`
}

// innerText captures element text including nested markup such as <i>.
type innerText string

func (t *innerText) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var b strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch v := tok.(type) {
		case xml.CharData:
			b.Write(v)
		case xml.EndElement:
			if v.Name == start.Name {
				*t = innerText(strings.Join(strings.Fields(b.String()), " "))
				return nil
			}
		}
	}
}

// abstractText is one (possibly labelled) abstract section.
type abstractText struct {
	Label string
	Text  string
}

func (a *abstractText) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		if attr.Name.Local == "Label" {
			a.Label = attr.Value
		}
	}
	var t innerText
	if err := t.UnmarshalXML(d, start); err != nil {
		return err
	}
	a.Text = string(t)
	return nil
}

// ReadPubMedXML streams PubmedArticle elements from a PubmedArticleSet export.
func ReadPubMedXML(r io.Reader) ([]Record, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	var records []Record
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("pubmed xml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "PubmedArticle" {
			continue
		}
		var a pubmedArticle
		if err := dec.DecodeElement(&a, &se); err != nil {
			return records, fmt.Errorf("pubmed xml: %w", err)
		}
		records = append(records, a.record())
	}
}

func (a *pubmedArticle) record() Record {
	art := a.Citation.Article
	rec := Record{
		Title:   strings.TrimSpace(string(art.ArticleTitle)),
		Journal: strings.TrimSpace(art.Journal.Title),
		Volume:  strings.TrimSpace(art.Journal.JournalIssue.Volume),
		Issue:   strings.TrimSpace(art.Journal.JournalIssue.Issue),
		Pages:   strings.TrimSpace(art.Pagination.MedlinePgn),
	}

	year := art.Journal.JournalIssue.PubDate.Year
	if year == "" {
		year = art.Journal.JournalIssue.PubDate.MedlineDate
	}
	rec.Year = NormalizeYear(year)

	var abstract []string
	for _, t := range art.Abstract.Texts {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		if t.Label != "" {
			text = t.Label + ": " + text
		}
		abstract = append(abstract, text)
	}
	rec.Abstract = strings.Join(abstract, " ")

	var authors []string
	for _, au := range art.Authors {
		switch {
		case au.CollectiveName != "":
			authors = append(authors, au.CollectiveName)
		case au.LastName != "":
			given := au.ForeName
			if given == "" {
				given = au.Initials
			}
			if given != "" {
				authors = append(authors, au.LastName+", "+given)
			} else {
				authors = append(authors, au.LastName)
			}
		}
	}
	rec.Authors = strings.Join(authors, "; ")

	for _, id := range art.ELocationIDs {
		if strings.EqualFold(id.Type, "doi") {
			rec.DOI = strings.TrimSpace(id.Value)
			break
		}
	}
	if rec.DOI == "" {
		for _, id := range a.ArticleIDs {
			if strings.EqualFold(id.Type, "doi") {
				rec.DOI = strings.TrimSpace(id.Value)
				break
			}
		}
	}
	return rec
}
