package export

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/matsen/scholartab/internal/paper"
	"github.com/matsen/scholartab/internal/storage"
)

// ParquetPath returns the parquet file a table is written to.
func ParquetPath(dir, table string) string {
	return filepath.Join(dir, table+".parquet")
}

// Schema returns the arrow schema of a table. Every column is nullable;
// empty strings and absent counts are stored as nulls.
func Schema(cols []paper.Column) *arrow.Schema {
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		var typ arrow.DataType = arrow.BinaryTypes.String
		if c.Kind == paper.KindInt {
			typ = arrow.PrimitiveTypes.Int64
		}
		fields[i] = arrow.Field{Name: c.Name, Type: typ, Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// WriteParquet writes one snappy-compressed parquet file per table.
func WriteParquet(dir string, t *paper.Tables) ([]string, error) {
	var paths []string
	for _, tbl := range t.List() {
		path := ParquetPath(dir, tbl.Name)
		if err := storage.WriteAtomic(path, ".tmp-*.parquet", func(w io.Writer) error {
			return EncodeParquet(w, tbl)
		}); err != nil {
			return nil, fmt.Errorf("writing %s: %w", tbl.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// EncodeParquet writes tbl as a single-row-group parquet file.
func EncodeParquet(w io.Writer, tbl paper.Table) error {
	schema := Schema(tbl.Columns)
	rec := buildRecord(schema, tbl)
	defer rec.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	// The writer closes its sink; keep the caller's file open.
	fw, err := pqarrow.NewFileWriter(schema, struct{ io.Writer }{w}, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("creating parquet writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("writing record batch: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	return nil
}

func buildRecord(schema *arrow.Schema, tbl paper.Table) arrow.Record {
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()

	for _, row := range tbl.Rows {
		for i, v := range row.Values() {
			switch fb := b.Field(i).(type) {
			case *array.StringBuilder:
				if s, _ := v.(string); s != "" {
					fb.Append(s)
				} else {
					fb.AppendNull()
				}
			case *array.Int64Builder:
				if n, _ := v.(*int64); n != nil {
					fb.Append(*n)
				} else {
					fb.AppendNull()
				}
			}
		}
	}
	return b.NewRecord()
}
