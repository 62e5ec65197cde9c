package gharchive

import (
	"encoding/json"
	"io"

	perr "ghdiscover/internal/platform/errors"

	"github.com/klauspost/compress/gzip"
)

// GzipCodec inflates the hourly dumps. Concatenated members are read as one stream
type GzipCodec struct{}

// NewReader opens a gzip reader over r; a bad or missing header is a codec error
func (GzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeCodec, "gharchive: gzip header")
	}
	zr.Multistream(true)
	return zr, nil
}

// JSONDecoder decodes one NDJSON line into an EventEnvelope
type JSONDecoder struct {
	// KeepMissingIDs disables synthetic id back-fill
	KeepMissingIDs bool
}

// Decode implements the record decoder used by the parser stage
func (d JSONDecoder) Decode(line []byte) (EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return EventEnvelope{}, perr.Wrap(err, perr.ErrorCodeJSON, "gharchive: decode event")
	}
	if !d.KeepMissingIDs {
		env.FillSyntheticIDs(line)
	}
	return env, nil
}
