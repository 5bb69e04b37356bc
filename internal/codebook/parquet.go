package codebook

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"litreview/internal/logging"
)

// parquetSchema builds the JSON schema for the writer. Integer and numeric
// columns become INT64 and DOUBLE; everything else is UTF8 text.
func parquetSchema() string {
	fields := make([]map[string]string, 0, len(Schema))
	for _, c := range Schema {
		typ := "type=BYTE_ARRAY, convertedtype=UTF8"
		switch c.Kind {
		case KindInteger:
			typ = "type=INT64"
		case KindNumeric:
			typ = "type=DOUBLE"
		case KindBool:
			typ = "type=BOOLEAN"
		}
		rep := "OPTIONAL"
		if c.Name == ColStudyID || c.Name == ColESID {
			rep = "REQUIRED"
		}
		fields = append(fields, map[string]string{
			"Tag": fmt.Sprintf("name=%s, %s, repetitiontype=%s", c.Name, typ, rep),
		})
	}
	out := map[string]any{
		"Tag":    "name=effect_sizes, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// parquetRow projects a row onto the schema. Sentinels in typed columns
// become nulls; text columns keep them.
func parquetRow(r Row) map[string]any {
	out := make(map[string]any, len(Schema))
	for _, c := range Schema {
		var v any
		switch c.Kind {
		case KindInteger:
			if n, ok := r.Int(c.Name); ok {
				v = n
			}
		case KindNumeric:
			if f, ok := r.Float(c.Name); ok {
				v = f
			}
		case KindBool:
			if b, ok := parseBool(r.Get(c.Name)); ok && r.Present(c.Name) {
				v = b
			}
		default:
			if s := r.Get(c.Name); s != "" {
				v = s
			}
		}
		out[c.Name] = v
	}
	return out
}

// WriteParquet writes rows as a snappy-compressed parquet file to w.
func WriteParquet(w io.Writer, rows []Row) error {
	pfw := writerfile.NewWriterFile(w)
	pw, err := writer.NewJSONWriter(parquetSchema(), pfw, 4)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range rows {
		rec, err := json.Marshal(parquetRow(r))
		if err != nil {
			_ = pw.WriteStop()
			return err
		}
		if err := pw.Write(string(rec)); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("write line %d: %w", r.Line, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finish parquet: %w", err)
	}
	return nil
}

// ExportParquet writes rows to path.
func ExportParquet(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteParquet(f, rows); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logging.Codebook("Exported %d rows to %s", len(rows), path)
	return nil
}
