// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Supported output formats.
const (
	FormatJSON  = "json"
	FormatSARIF = "sarif"
)

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format writing to outputPath. An empty path or
// "stdout" writes to standard output.
func New(format, outputPath, toolVersion string) (schemas.Reporter, error) {
	switch format {
	case FormatJSON, FormatSARIF:
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		path, err := homedir.Expand(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve output path %s: %w", outputPath, err)
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", path, err)
		}
		writer = f
	}

	// Both reporters take ownership of the writer.
	if format == FormatSARIF {
		return NewSARIFReporter(writer, toolVersion), nil
	}
	return NewJSONReporter(writer, toolVersion), nil
}
