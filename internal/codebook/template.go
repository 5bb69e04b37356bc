package codebook

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Template file names.
const (
	TemplateFile = "effect_sizes_template.csv"
	CodesFile    = "codebook_values.csv"
)

// WriteTemplate writes a header-only sheet to sheet and the value
// dictionary (column, value, meaning) to codes.
func WriteTemplate(sheet, codes io.Writer) error {
	sw := csv.NewWriter(sheet)
	if err := sw.Write(ColumnNames()); err != nil {
		return err
	}
	sw.Flush()
	if err := sw.Error(); err != nil {
		return err
	}

	cw := csv.NewWriter(codes)
	if err := cw.Write([]string{"column", "value", "meaning"}); err != nil {
		return err
	}
	for _, col := range Schema {
		meaning := string(col.Kind)
		if col.Required {
			meaning += ", required"
		}
		if col.Doc != "" {
			meaning += ": " + col.Doc
		}
		if err := cw.Write([]string{col.Name, "", meaning}); err != nil {
			return err
		}
		for _, v := range col.Enum {
			if err := cw.Write([]string{col.Name, v, strings.ReplaceAll(v, "_", " ")}); err != nil {
				return err
			}
		}
	}
	for _, s := range Sentinels {
		if err := cw.Write([]string{"*", s.Value, s.Meaning}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTemplateDir writes both template files into dir.
func WriteTemplateDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create template dir: %w", err)
	}
	sheet, err := os.Create(filepath.Join(dir, TemplateFile))
	if err != nil {
		return err
	}
	defer sheet.Close()
	codes, err := os.Create(filepath.Join(dir, CodesFile))
	if err != nil {
		return err
	}
	defer codes.Close()

	if err := WriteTemplate(sheet, codes); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	if err := sheet.Close(); err != nil {
		return err
	}
	return codes.Close()
}
