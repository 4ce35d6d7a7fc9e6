package dataset

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const taxonomyPrefix = "taxonomy:"

type xmlCvParam struct {
	Name  string  `xml:"name,attr"`
	Value *string `xml:"value,attr"`
}

type xmlParamGroup struct {
	ID     string       `xml:"id,attr"`
	Params []xmlCvParam `xml:"cvParam"`
}

type xmlDataset struct {
	XMLName xml.Name `xml:"ProteomeXchangeDataset"`
	ID      string   `xml:"id,attr"`
	Summary *struct {
		Title             string         `xml:"title,attr"`
		HostingRepository string         `xml:"hostingRepository,attr"`
		Description       string         `xml:"Description"`
		ReviewLevel       *xmlParamGroup `xml:"ReviewLevel"`
		RepositorySupport *xmlParamGroup `xml:"RepositorySupport"`
	} `xml:"DatasetSummary"`
	Identifiers []xmlParamGroup `xml:"DatasetIdentifierList>DatasetIdentifier"`
	Species     []xmlParamGroup `xml:"SpeciesList>Species"`
	Instruments []xmlParamGroup `xml:"InstrumentList>Instrument"`
	Contacts    []xmlParamGroup `xml:"ContactList>Contact"`
	Files       []struct {
		ID     string       `xml:"id,attr"`
		Name   string       `xml:"name,attr"`
		Params []xmlCvParam `xml:"cvParam"`
	} `xml:"DatasetFileList>DatasetFile"`
}

// Parse reads a ProteomeXchange dataset XML document.
func Parse(r io.Reader) (*Dataset, error) {
	var doc xmlDataset
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode dataset xml: %w", err)
	}
	if doc.ID == "" {
		return nil, errors.New("dataset has no id")
	}
	if doc.Summary == nil {
		return nil, errors.New("dataset has no summary")
	}
	ds := &Dataset{
		ID: doc.ID,
		Summary: Summary{
			Title:             doc.Summary.Title,
			HostingRepository: doc.Summary.HostingRepository,
			Description:       strings.TrimSpace(doc.Summary.Description),
			ReviewLevel:       firstName(doc.Summary.ReviewLevel),
			RepositorySupport: firstName(doc.Summary.RepositorySupport),
		},
	}
	for _, g := range doc.Identifiers {
		if len(g.Params) == 0 {
			continue
		}
		p := g.Params[0]
		id := Identifier{Repository: p.Name}
		if p.Value != nil {
			id.ID = *p.Value
		}
		ds.Identifiers = append(ds.Identifiers, id)
	}
	for _, g := range doc.Species {
		params := make(Params, len(g.Params))
		for _, p := range g.Params {
			key := strings.TrimPrefix(normalizeKey(p.Name), taxonomyPrefix)
			params[normalizeKey(key)] = valueOf(p)
		}
		ds.Species = append(ds.Species, params)
	}
	for _, g := range doc.Instruments {
		params := toParams(g.Params)
		params["id"] = Value{Text: g.ID}
		ds.Instruments = append(ds.Instruments, params)
	}
	for _, g := range doc.Contacts {
		ds.Contacts = append(ds.Contacts, toParams(g.Params))
	}
	for _, f := range doc.Files {
		if len(f.Params) == 0 || f.Params[0].Value == nil {
			return nil, fmt.Errorf("dataset file %q has no uri", f.ID)
		}
		p := f.Params[0]
		ds.Files = append(ds.Files, File{
			ID:   f.ID,
			Name: f.Name,
			Type: strings.TrimSpace(strings.Replace(p.Name, "URI", "", -1)),
			URI:  *p.Value,
		})
	}
	return ds, nil
}

func toParams(ps []xmlCvParam) Params {
	params := make(Params, len(ps))
	for _, p := range ps {
		params[normalizeKey(p.Name)] = valueOf(p)
	}
	return params
}

func valueOf(p xmlCvParam) Value {
	if p.Value == nil {
		return Value{Flag: true}
	}
	return Value{Text: *p.Value}
}

func firstName(g *xmlParamGroup) string {
	if g == nil || len(g.Params) == 0 {
		return ""
	}
	return g.Params[0].Name
}
