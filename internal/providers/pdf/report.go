package pdf

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
)

// LocalRenderer draws a summary page from the record data in process. It is
// used when no rendering service is configured.
type LocalRenderer struct{}

func NewLocalRenderer() *LocalRenderer {
	return &LocalRenderer{}
}

func (r *LocalRenderer) Render(ctx context.Context, record reportdomain.ReportRecord) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)
	m.AddRow(12,
		text.NewCol(12, reportTitle(record.Type), props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	keys := make([]string, 0, len(record.Data))
	for key := range record.Data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		m.AddRow(8,
			text.NewCol(4, key, props.Text{Size: 9, Style: fontstyle.Bold}),
			text.NewCol(8, formatValue(record.Data[key]), props.Text{Size: 9}),
		)
	}
	for _, warning := range record.Warnings {
		m.AddRow(6,
			text.NewCol(12, "Note: "+warning, props.Text{Size: 8, Style: fontstyle.Italic}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", record.Type, err)
	}
	return doc.GetBytes(), nil
}

func reportTitle(t reportdomain.ReportType) string {
	words := strings.Split(strings.ToLower(string(t)), "_")
	for i, word := range words {
		if word != "" {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, " ")
}

func formatValue(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case nil:
		return "-"
	default:
		data, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(data)
	}
}
