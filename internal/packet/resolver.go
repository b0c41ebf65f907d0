package packet

import (
	"strings"

	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
	surgedomain "github.com/smallbiznis/surge/internal/surge/domain"
)

type SourceKind string

const (
	SourceReport SourceKind = "report"
	SourceUpload SourceKind = "upload"
)

// Source is one resolved packet entry. Exactly one of ReportType or Upload is
// set, according to Kind.
type Source struct {
	Kind       SourceKind
	ReportType reportdomain.ReportType
	Upload     surgedomain.Upload
}

func (s Source) String() string {
	if s.Kind == SourceUpload {
		return "upload:" + s.Upload.ID
	}
	return "report:" + string(s.ReportType)
}

// Resolve turns order tokens into typed sources. Tokens shaped like upload
// identifiers must name an existing upload; every other token must be an
// enabled report type. Unknown and repeated tokens are dropped. An empty order
// falls back to enabled report types followed by uploads.
func Resolve(order []string, reportTypes []reportdomain.ReportType, uploads []surgedomain.Upload) []Source {
	if len(order) == 0 {
		out := make([]Source, 0, len(reportTypes)+len(uploads))
		for _, t := range reportTypes {
			out = append(out, Source{Kind: SourceReport, ReportType: t})
		}
		for _, upload := range uploads {
			out = append(out, Source{Kind: SourceUpload, Upload: upload})
		}
		return out
	}

	enabled := make(map[reportdomain.ReportType]struct{}, len(reportTypes))
	for _, t := range reportTypes {
		enabled[t] = struct{}{}
	}
	byID := make(map[string]surgedomain.Upload, len(uploads))
	for _, upload := range uploads {
		byID[upload.ID] = upload
	}

	seen := make(map[string]struct{}, len(order))
	out := make([]Source, 0, len(order))
	for _, token := range order {
		token = strings.TrimSpace(token)
		if _, dup := seen[token]; dup || token == "" {
			continue
		}

		if surgedomain.IsUploadToken(token) {
			upload, ok := byID[token]
			if !ok {
				continue
			}
			seen[token] = struct{}{}
			out = append(out, Source{Kind: SourceUpload, Upload: upload})
			continue
		}

		t := reportdomain.ReportType(token)
		if _, ok := enabled[t]; !ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, Source{Kind: SourceReport, ReportType: t})
	}
	return out
}

// ResolveSurge resolves a surge's stored order against its configuration.
func ResolveSurge(s *surgedomain.Surge) []Source {
	return Resolve(s.Order, s.ReportTypes, s.Uploads)
}
