// Package analysis drives the producer side of a streaming
// document-analysis session: sequential file preprocessing followed by
// the multi-phase reasoning loop, with every lifecycle point reported
// through the stream package's emitters.
//
// The heavy lifting (OCR-grade extraction and the LLM-driven reasoning
// itself) lives behind the Extractor and Engine interfaces and is
// deliberately out of scope here; the package ships a plain-text
// extractor and a scripted engine so the full pipeline runs end to end
// without external services.
package analysis

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Document is one uploaded file awaiting preprocessing.
type Document struct {
	Filename string
	Data     []byte
}

// Extracted is the preprocessing result for one document.
type Extracted struct {
	Filename     string
	DocumentType string
	Content      string
}

// Supported document types.
const (
	DocCommercialInvoice   = "commercial_invoice"
	DocPackingList         = "packing_list"
	DocBillOfLading        = "bill_of_lading"
	DocCertificateOfOrigin = "certificate_of_origin"
	DocCustomsDeclaration  = "customs_declaration"
)

// DocumentTypes lists every supported document type.
func DocumentTypes() []string {
	return []string{
		DocCommercialInvoice,
		DocPackingList,
		DocBillOfLading,
		DocCertificateOfOrigin,
		DocCustomsDeclaration,
	}
}

// ClassifyDocumentType infers a document type from the filename, falling
// back to content keywords. Unknown documents default to
// commercial_invoice, the most common bundle member.
func ClassifyDocumentType(filename, content string) string {
	name := strings.ToLower(filename)

	switch {
	case strings.Contains(name, "invoice"):
		return DocCommercialInvoice
	case strings.Contains(name, "packing"), strings.Contains(name, "pack"):
		return DocPackingList
	case strings.Contains(name, "bill") && strings.Contains(name, "lading"):
		return DocBillOfLading
	case strings.Contains(name, "origin"), strings.Contains(name, "certificate"):
		return DocCertificateOfOrigin
	case strings.Contains(name, "customs"), strings.Contains(name, "declaration"):
		return DocCustomsDeclaration
	}

	text := strings.ToLower(content)
	switch {
	case strings.Contains(text, "invoice"), strings.Contains(text, "bill to"):
		return DocCommercialInvoice
	case strings.Contains(text, "packing"):
		return DocPackingList
	case strings.Contains(text, "lading"):
		return DocBillOfLading
	case strings.Contains(text, "origin"):
		return DocCertificateOfOrigin
	case strings.Contains(text, "customs"):
		return DocCustomsDeclaration
	}
	return DocCommercialInvoice
}

// DecodeText turns raw upload bytes into text. UTF-8 input passes
// through; other encodings fall back to a Latin-1 interpretation, which
// covers the cp1252/iso-8859-1 exports common in shipping paperwork.
// Binary payloads (NUL bytes) are rejected.
func DecodeText(data []byte) (string, error) {
	if bytes.IndexByte(data, 0) >= 0 {
		return "", fmt.Errorf("unsupported encoding or binary format")
	}
	if utf8.Valid(data) {
		return string(data), nil
	}

	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes), nil
}
