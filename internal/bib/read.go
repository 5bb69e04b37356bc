package bib

import (
	"fmt"
	"os"
)

// ReadFile loads every record from an export file. An empty format is
// detected from the extension. columnMap applies to delimited formats only.
func ReadFile(path string, format Format, columnMap map[string]string) ([]Record, error) {
	if format == "" {
		f, err := DetectFormat(path)
		if err != nil {
			return nil, err
		}
		format = f
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []Record
	switch format {
	case FormatCSV:
		records, err = ReadDelimited(f, ',', columnMap)
	case FormatTSV:
		records, err = ReadDelimited(f, '\t', columnMap)
	case FormatRIS:
		records, err = ReadRIS(f)
	case FormatBibTeX:
		records, err = ReadBibTeX(f)
	case FormatXML:
		records, err = ReadPubMedXML(f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return records, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// WriteFile writes records as CSV to path.
func WriteFile(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, records); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
