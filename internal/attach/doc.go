// Package attach transforms uploaded files into model-ingestible content
// parts.
//
// The transform depends on the declared media type. Images pass through as
// binary parts with OCR text riding along when extraction succeeds; an OCR
// failure degrades to the image alone. Audio and video are stripped to an
// audio-only sidecar and transcribed through the durable job queue, and any
// failure on that path is fatal to the exchange. Text-like uploads become
// plain text parts and everything else passes through as tagged binary.
//
// The processor owns the temporary upload file for the duration of the
// transform and removes it, together with any sidecar, on every exit path.
// Media files are handed to the extractor by path and never loaded into
// memory.
package attach
