package dataset

import (
	"errors"
	"fmt"
)

// SchemaError reports a missing, duplicated or malformed column.
type SchemaError struct {
	error
}

func NewErrSchema(format string, args ...any) *SchemaError {
	return &SchemaError{fmt.Errorf(format, args...)}
}

func NewErrMissingColumn(column string) *SchemaError {
	return NewErrSchema("column %q not found", column)
}

func NewErrDuplicateColumn(column string) *SchemaError {
	return NewErrSchema("column %q appears more than once", column)
}

func NewErrIdentifierCollision(column string) *SchemaError {
	return NewErrSchema("identifier column %q already exists in the dataset", column)
}

func NewErrNonUniformRow(index, got, want int) *SchemaError {
	return NewErrSchema("row %d has %d columns, expected %d", index, got, want)
}

func NewErrUnknownColumn(index int, column string) *SchemaError {
	return NewErrSchema("row %d has unknown column %q", index, column)
}

// PartitionError is returned when there is nothing to partition. Callers treat
// it as an empty successful result.
type PartitionError struct {
	error
}

func NewErrEmptyPartition() *PartitionError {
	return &PartitionError{errors.New("dataset has no rows to partition")}
}

func IsSchemaError(err error) bool {
	var e *SchemaError
	return errors.As(err, &e)
}

func IsPartitionError(err error) bool {
	var e *PartitionError
	return errors.As(err, &e)
}
