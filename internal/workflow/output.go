package workflow

import (
	"strings"

	"go.uber.org/zap"

	"github.com/kubev2v/sheet-filter/internal/dataset"
)

// Output is the resolved shape of the expected named output.
type Output interface {
	isOutput()
}

// Reference points at a downloadable tabular result.
type Reference struct {
	URL string
}

// InlineIDs carries the matched identifiers directly.
type InlineIDs struct {
	IDs []dataset.RowID
}

// Unrecognized is any other shape. It counts as zero matches.
type Unrecognized struct {
	Value any
}

func (Reference) isOutput()    {}
func (InlineIDs) isOutput()    {}
func (Unrecognized) isOutput() {}

// ResolveOutput reads doc.outputs[name] once and classifies it.
func ResolveOutput(doc Document, name string) Output {
	outputs, ok := doc.Outputs()
	if !ok {
		return Unrecognized{}
	}

	switch v := outputs[name].(type) {
	case string:
		if strings.HasPrefix(v, "http") {
			return Reference{URL: v}
		}
		return Unrecognized{Value: v}
	case []any:
		ids := make([]dataset.RowID, 0, len(v))
		for _, item := range v {
			id, err := dataset.ParseRowID(item)
			if err != nil {
				zap.S().Named("workflow").Warnw("ignoring malformed inline identifier", "value", item, "error", err)
				continue
			}
			ids = append(ids, id)
		}
		return InlineIDs{IDs: ids}
	default:
		return Unrecognized{Value: v}
	}
}
