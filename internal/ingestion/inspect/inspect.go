// Package inspect reads informational metadata from uploaded PDFs.
package inspect

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageCounter reports the number of pages in a PDF payload.
type PageCounter interface {
	PageCount(data []byte) (int, error)
}

// PDF counts pages with pdfcpu using relaxed validation, since scanned
// court forms are often slightly malformed.
type PDF struct {
	conf *model.Configuration
}

func NewPDF() *PDF {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDF{conf: conf}
}

func (p *PDF) PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), p.conf)
	if err != nil {
		return 0, fmt.Errorf("reading pdf page count: %w", err)
	}
	return n, nil
}
