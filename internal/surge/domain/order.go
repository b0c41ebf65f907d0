package domain

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
)

var uploadIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// IsUploadToken reports whether an order token has the shape of an upload
// identifier. Any other token is a report type token.
func IsUploadToken(token string) bool {
	return uploadIDPattern.MatchString(token)
}

// NewUploadID returns a 32 character lowercase hex identifier.
func NewUploadID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// DefaultOrder lists enabled report types then uploads, both in declaration
// order.
func (s Surge) DefaultOrder() []string {
	order := make([]string, 0, s.StepsPerHousehold())
	for _, t := range s.ReportTypes {
		order = append(order, string(t))
	}
	for _, upload := range s.Uploads {
		order = append(order, upload.ID)
	}
	return order
}

// EffectiveOrder is the stored order, or DefaultOrder when none was saved.
func (s Surge) EffectiveOrder() []string {
	if len(s.Order) == 0 {
		return s.DefaultOrder()
	}
	return append([]string(nil), s.Order...)
}

// NormalizeOrder drops tokens that reference neither an enabled report type
// nor an existing upload, and repeated tokens.
func (s Surge) NormalizeOrder(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		if IsUploadToken(token) {
			if _, ok := s.FindUpload(token); !ok {
				continue
			}
		} else if !s.HasReportType(reportdomain.ReportType(token)) {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}
