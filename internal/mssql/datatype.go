package mssql

import (
	"context"

	"dbmeta/internal/cache"
)

// DataType is one row of sys.types.
type DataType struct {
	ID           int64
	SystemTypeID int64
	SchemaID     int64
	Name         string
	MaxLength    int
	Precision    int
	Scale        int
	Nullable     bool
	UserDefined  bool
	TableType    bool
}

func fetchDataType(_ context.Context, _ *Database, r *cache.Row) (*DataType, error) {
	return &DataType{
		ID:           r.Int64("user_type_id"),
		SystemTypeID: r.Int64("system_type_id"),
		SchemaID:     r.Int64("schema_id"),
		Name:         r.String("name"),
		MaxLength:    r.Int("max_length"),
		Precision:    r.Int("precision"),
		Scale:        r.Int("scale"),
		Nullable:     r.Bool("is_nullable"),
		UserDefined:  r.Bool("is_user_defined"),
		TableType:    r.Bool("is_table_type"),
	}, nil
}
