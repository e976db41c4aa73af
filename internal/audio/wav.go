// Package audio validates uploaded voice recordings before they are sent
// to the transcription backend. Only RIFF/WAVE containers are accepted.
package audio

import (
	"encoding/binary"
	"errors"
	"time"
)

var ErrInvalidFormat = errors.New("audio: not a RIFF/WAVE stream")

const headerSize = 12

// ValidFormat reports whether data starts with a RIFF header declaring a
// WAVE form type.
func ValidFormat(data []byte) bool {
	if len(data) < headerSize {
		return false
	}
	return string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// Duration computes the playing time of a WAV stream from its fmt and data
// chunks. Returns ErrInvalidFormat for anything that is not a parseable
// WAVE container.
func Duration(data []byte) (time.Duration, error) {
	if !ValidFormat(data) {
		return 0, ErrInvalidFormat
	}

	var byteRate uint32
	var dataLen uint32
	offset := headerSize
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkLen := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8
		switch chunkID {
		case "fmt ":
			if body+16 > len(data) {
				return 0, ErrInvalidFormat
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			dataLen = chunkLen
		}
		// Chunks are word-aligned.
		offset = body + int(chunkLen)
		if chunkLen%2 == 1 {
			offset++
		}
	}

	if byteRate == 0 || dataLen == 0 {
		return 0, ErrInvalidFormat
	}
	seconds := float64(dataLen) / float64(byteRate)
	return time.Duration(seconds * float64(time.Second)), nil
}
