package analysis

import (
	"context"
	"fmt"

	"github.com/amrandil/docstream/event"
)

// ExtractCallbacks receives sub-stage notifications while an extractor
// works on one document. Callbacks may be nil.
type ExtractCallbacks struct {
	// OnStep reports a preprocessing sub-stage (event.Step* values)
	// with a human-readable message.
	OnStep func(step, message string)
}

func (cb ExtractCallbacks) step(step, message string) {
	if cb.OnStep != nil {
		cb.OnStep(step, message)
	}
}

// Extractor converts one uploaded document into analyzable text.
// Implementations report their sub-stages through the callbacks so the
// caller can relay them to a live stream.
type Extractor interface {
	Extract(ctx context.Context, doc Document, cb ExtractCallbacks) (Extracted, error)
}

// TextExtractor handles plain-text uploads: it decodes the payload,
// classifies the document type and passes the content through verbatim.
type TextExtractor struct{}

func (TextExtractor) Extract(ctx context.Context, doc Document, cb ExtractCallbacks) (Extracted, error) {
	if err := ctx.Err(); err != nil {
		return Extracted{}, err
	}

	cb.step(event.StepStart, fmt.Sprintf("Starting preprocessing for %s", doc.Filename))
	cb.step(event.StepUploading, fmt.Sprintf("Reading %s (%d bytes)", doc.Filename, len(doc.Data)))
	cb.step(event.StepUploaded, fmt.Sprintf("Upload of %s complete", doc.Filename))

	cb.step(event.StepExtracting, fmt.Sprintf("Extracting text from %s", doc.Filename))
	content, err := DecodeText(doc.Data)
	if err != nil {
		return Extracted{}, fmt.Errorf("extract %s: %w", doc.Filename, err)
	}
	docType := ClassifyDocumentType(doc.Filename, content)
	cb.step(event.StepExtracted, fmt.Sprintf("Extracted %d characters from %s", len(content), doc.Filename))

	cb.step(event.StepCompleted, fmt.Sprintf("Preprocessing of %s complete", doc.Filename))
	return Extracted{
		Filename:     doc.Filename,
		DocumentType: docType,
		Content:      content,
	}, nil
}
