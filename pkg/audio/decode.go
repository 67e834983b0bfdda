package audio

import (
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"
)

// Chunk decoding errors.
var (
	ErrUnsupportedEncoding = errors.New("audio: unsupported encoding")
	ErrEmptyChunk          = errors.New("audio: empty chunk")
	ErrTruncatedSample     = errors.New("audio: payload is not a whole number of samples")
)

// DecodeChunk interprets an inbound audio payload described by mimeType.
// Accepted types are "audio/pcm" and "audio/L16" with optional "rate" and
// "channels" parameters; rate defaults to def.SampleRate and channels to
// def.Channels. Only mono and stereo layouts are accepted. The returned slice
// aliases data.
func DecodeChunk(mimeType string, data []byte, def Format) ([]byte, Format, error) {
	f := def
	if mimeType != "" {
		mt, params, err := mime.ParseMediaType(mimeType)
		if err != nil {
			return nil, Format{}, fmt.Errorf("%w: %q: %v", ErrUnsupportedEncoding, mimeType, err)
		}
		switch strings.ToLower(mt) {
		case "audio/pcm", "audio/l16":
		default:
			return nil, Format{}, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, mt)
		}
		if v, ok := params["rate"]; ok {
			rate, err := strconv.Atoi(v)
			if err != nil || rate <= 0 {
				return nil, Format{}, fmt.Errorf("%w: bad rate %q", ErrUnsupportedEncoding, v)
			}
			f.SampleRate = rate
		}
		if v, ok := params["channels"]; ok {
			ch, err := strconv.Atoi(v)
			if err != nil || ch <= 0 {
				return nil, Format{}, fmt.Errorf("%w: bad channels %q", ErrUnsupportedEncoding, v)
			}
			// Convert only mixes mono and stereo.
			if ch > 2 {
				return nil, Format{}, fmt.Errorf("%w: %d channels", ErrUnsupportedEncoding, ch)
			}
			f.Channels = ch
		}
	}
	if len(data) == 0 {
		return nil, Format{}, ErrEmptyChunk
	}
	if len(data)%f.FrameSize() != 0 {
		return nil, Format{}, fmt.Errorf("%w: %d bytes for %s", ErrTruncatedSample, len(data), f)
	}
	return data, f, nil
}
