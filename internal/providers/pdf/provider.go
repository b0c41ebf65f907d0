package pdf

import (
	"context"

	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
)

// Renderer produces the PDF for one report record.
type Renderer interface {
	Render(ctx context.Context, record reportdomain.ReportRecord) ([]byte, error)
}

// Merger concatenates PDF documents. Page order follows argument order and an
// empty input still yields a document.
type Merger interface {
	Merge(docs [][]byte) ([]byte, error)
}
