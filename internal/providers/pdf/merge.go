package pdf

import (
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/merge"
)

type MarotoMerger struct{}

func NewMerger() Merger {
	return MarotoMerger{}
}

// Merge returns a single blank page when docs is empty.
func (MarotoMerger) Merge(docs [][]byte) ([]byte, error) {
	switch len(docs) {
	case 0:
		return blankDocument()
	case 1:
		return append([]byte(nil), docs[0]...), nil
	}
	merged, err := merge.Bytes(docs...)
	if err != nil {
		return nil, fmt.Errorf("merge %d documents: %w", len(docs), err)
	}
	return merged, nil
}

func blankDocument() ([]byte, error) {
	doc, err := maroto.New().Generate()
	if err != nil {
		return nil, fmt.Errorf("blank document: %w", err)
	}
	return doc.GetBytes(), nil
}
