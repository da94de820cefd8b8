// Package audio provides small helpers for working with the MP3 payloads
// the synthesis pipeline produces.
package audio

import "errors"

// DefaultBitrateBPS is the constant bitrate the speech API encodes at.
const DefaultBitrateBPS = 128_000

var ErrNoSegments = errors.New("audio: no segments to combine")

// Concat joins per-chunk MP3 segments into one stream. Concatenating raw
// MP3 frames yields a stream every mainstream decoder accepts.
func Concat(segments [][]byte) ([]byte, error) {
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}
	total := 0
	for _, seg := range segments {
		total += len(seg)
	}
	out := make([]byte, 0, total)
	for _, seg := range segments {
		out = append(out, seg...)
	}
	return out, nil
}

// EstimateDurationSeconds approximates playback length from payload size at
// a constant bitrate. It is an estimate, not a frame-accurate decode.
func EstimateDurationSeconds(sizeBytes int, bitrateBPS int) float64 {
	if sizeBytes <= 0 {
		return 0
	}
	if bitrateBPS <= 0 {
		bitrateBPS = DefaultBitrateBPS
	}
	return float64(sizeBytes) * 8 / float64(bitrateBPS)
}
