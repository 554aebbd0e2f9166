package io

import (
	"bufio"
	"fmt"
	"os"
)

// RepresentationWriter appends one line per record to a text file: the fused
// representation followed by the target, space separated. Appending lets
// several evaluation runs accumulate into one file.
type RepresentationWriter struct {
	file *os.File
	buf  *bufio.Writer
}

func NewRepresentationWriter(path string) (*RepresentationWriter, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening representation file: %w", err)
	}
	return &RepresentationWriter{file: file, buf: bufio.NewWriter(file)}, nil
}

func (w *RepresentationWriter) Write(representation []float64, target float64) error {
	for _, v := range representation {
		if _, err := fmt.Fprintf(w.buf, "%.18e ", v); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w.buf, "%.18e\n", target)
	return err
}

func (w *RepresentationWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
