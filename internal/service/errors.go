package service

import (
	"errors"
	"fmt"
)

type ErrFileCorrupted struct {
	error
}

func NewErrFileCorrupted(message string) *ErrFileCorrupted {
	return &ErrFileCorrupted{fmt.Errorf("bad request: %s", message)}
}

func NewErrSheetFileCorrupted(err error) *ErrFileCorrupted {
	return NewErrFileCorrupted(fmt.Sprintf("the provided spreadsheet cannot be read: %s", err))
}

type ErrMissingFile struct {
	error
}

func NewErrMissingFile() *ErrMissingFile {
	return &ErrMissingFile{errors.New("no file provided")}
}

type ErrUnsupportedFileType struct {
	error
}

func NewErrUnsupportedFileType(filename string, allowed []string) *ErrUnsupportedFileType {
	return &ErrUnsupportedFileType{fmt.Errorf("file %q is not supported, allowed extensions: %v", filename, allowed)}
}

type ErrInvalidRecords struct {
	error
}

func NewErrInvalidRecords(message string) *ErrInvalidRecords {
	return &ErrInvalidRecords{fmt.Errorf("invalid records: %s", message)}
}
