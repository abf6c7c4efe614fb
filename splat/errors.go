package splat

import "github.com/pkg/errors"

// The error taxonomy shared by every decoder. Decoders wrap these with
// format-specific context via errors.Wrapf; callers match with errors.Is.
var (
	// ErrCannotDetermineFormat means no detection rule matched the
	// resource or a content probe came back negative.
	ErrCannotDetermineFormat = errors.New("cannot determine splat format")

	// ErrInvalidHeader means a magic/version/size mismatch in a file
	// header.
	ErrInvalidHeader = errors.New("invalid header")

	// ErrInvalidMagicNumber means the magic bytes are unrecoverably wrong.
	ErrInvalidMagicNumber = errors.New("invalid magic number")

	// ErrInvalidData means a structurally well-framed field carries an
	// out-of-range value.
	ErrInvalidData = errors.New("invalid data")

	// ErrTruncatedData means fewer bytes were present than the schema
	// requires.
	ErrTruncatedData = errors.New("truncated data")

	// ErrInsufficientData means a block or record declared more content
	// than its payload holds.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrDecompression means a gzip/zip payload was unreadable.
	ErrDecompression = errors.New("decompression failure")

	// ErrInvalidMetadata means a metadata document (SOGS meta.json, glTF
	// JSON) is inconsistent with its side data.
	ErrInvalidMetadata = errors.New("invalid metadata")

	// ErrResourceMissing means an expected sibling file or texture plane
	// is absent.
	ErrResourceMissing = errors.New("resource missing")

	// ErrValidation means a point field is NaN/Infinity or out of range.
	ErrValidation = errors.New("validation failure")

	// ErrCorruptedData means sampled validation failed at a rate above
	// the mode threshold.
	ErrCorruptedData = errors.New("corrupted data")

	// ErrTimeout means a blocking decode made no progress within its
	// bounded wait.
	ErrTimeout = errors.New("decode timed out")
)
