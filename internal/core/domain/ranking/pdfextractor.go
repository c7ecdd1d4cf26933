package ranking

import "context"

// PDFTextExtractor turns a stored PDF reference into plain text. It is an
// external collaborator: OCR/PDF parsing is out of scope for this module,
// so the Orchestrator depends only on this interface and is free to run
// with a no-op or third-party-backed implementation.
type PDFTextExtractor interface {
	ExtractText(ctx context.Context, ref string) (string, error)
}
