// Package audio wraps raw PCM in a WAV container. The cue endpoint and
// the probe's -dump-cues flag are the only producers; everything is mono
// 16-bit little-endian.
package audio

import (
	"encoding/binary"
	"io"
	"os"
)

const (
	headerSize        = 44
	defaultSampleRate = 16000
)

// EncodeWAVPCM16LE returns pcm wrapped in a mono 16-bit WAV container.
// A non-positive sampleRate falls back to 16 kHz.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	out := make([]byte, 0, headerSize+len(pcm))
	out = append(out, wavHeader(len(pcm), sampleRate)...)
	return append(out, pcm...), nil
}

// WriteWAVPCM16LEFile writes pcm as a WAV file at path.
func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAVPCM16LETo(f, pcm, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteWAVPCM16LETo streams pcm as a WAV container to out.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	if _, err := out.Write(wavHeader(len(pcm), sampleRate)); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}

// wavHeader builds the fixed 44-byte RIFF/fmt/data preamble for a mono
// PCM16LE payload of dataSize bytes.
func wavHeader(dataSize, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	h := make([]byte, headerSize)
	le := binary.LittleEndian

	copy(h[0:4], "RIFF")
	le.PutUint32(h[4:8], uint32(headerSize-8+dataSize))
	copy(h[8:12], "WAVE")

	copy(h[12:16], "fmt ")
	le.PutUint32(h[16:20], 16) // fmt chunk size
	le.PutUint16(h[20:22], 1)  // PCM
	le.PutUint16(h[22:24], channels)
	le.PutUint32(h[24:28], uint32(sampleRate))
	le.PutUint32(h[28:32], uint32(byteRate))
	le.PutUint16(h[32:34], uint16(blockAlign))
	le.PutUint16(h[34:36], bitsPerSample)

	copy(h[36:40], "data")
	le.PutUint32(h[40:44], uint32(dataSize))
	return h
}
