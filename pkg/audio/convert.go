// Package audio provides sample-buffer helpers for the voxvista pipeline.
//
// The wire carries 16 kHz mono float32 samples in [-1, 1]. Conditioning for
// the STT upload (resample, peak-normalize, 16-bit PCM, WAV wrapping) and the
// TTS post-processing (resample, scaled normalize) both live here so that the
// providers stay free of DSP code.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Resample converts mono float32 samples from srcRate to dstRate using linear
// interpolation. If the rates match, or either rate is non-positive, the
// input is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}

	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range out {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// NormalizePeak scales samples so the highest absolute value becomes peak.
// A peak of 1.0 gives full-scale output; the TTS post-processing path uses
// 0.8 to leave headroom. Silent input is returned unchanged.
func NormalizePeak(samples []float32, peak float32) []float32 {
	var maxAbs float32
	for _, s := range samples {
		a := s
		if a < 0 {
			a = -a
		}
		if a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs == 0 {
		return samples
	}

	scale := peak / maxAbs
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s * scale
	}
	return out
}

// ToPCM16 converts float32 samples in [-1, 1] to little-endian 16-bit PCM.
// Out-of-range samples are clamped.
func ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		pcm := int16(math.Round(v * 32767))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(pcm))
	}
	return out
}

// FromPCM16 converts little-endian 16-bit PCM back to float32 samples.
// A trailing odd byte is ignored.
func FromPCM16(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(v) / 32768
	}
	return out
}

// WAV wraps little-endian 16-bit mono PCM in a minimal RIFF/WAVE container.
// Inference endpoints sniff the container to learn the sample rate, so raw
// PCM is not enough.
func WAV(pcm []byte, sampleRate int) []byte {
	const headerLen = 44
	buf := make([]byte, headerLen+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(buf[22:24], 1)  // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[headerLen:], pcm)

	return buf
}

// Silence returns seconds of zero samples at sampleRate. Used as the degraded
// TTS output so a failed synthesis still completes the turn audibly.
func Silence(seconds float64, sampleRate int) []float32 {
	n := int(seconds * float64(sampleRate))
	if n < 0 {
		n = 0
	}
	return make([]float32, n)
}

// ParseWAV extracts float32 samples and the sample rate from a RIFF/WAVE
// container holding 16-bit PCM. Extra chunks before "data" are skipped.
// Multi-channel audio is downmixed by taking the first channel.
func ParseWAV(b []byte) ([]float32, int, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, 0, errors.New("audio: not a RIFF/WAVE container")
	}

	var (
		sampleRate int
		channels   int
		bits       int
	)

	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(b) {
			size = len(b) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, errors.New("audio: fmt chunk too short")
			}
			channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(b[body+14 : body+16]))

		case "data":
			if sampleRate == 0 || channels == 0 {
				return nil, 0, errors.New("audio: data chunk before fmt chunk")
			}
			if bits != 16 {
				return nil, 0, fmt.Errorf("audio: unsupported bit depth %d", bits)
			}
			samples := FromPCM16(b[body : body+size])
			if channels > 1 {
				mono := make([]float32, 0, len(samples)/channels)
				for i := 0; i < len(samples); i += channels {
					mono = append(mono, samples[i])
				}
				samples = mono
			}
			return samples, sampleRate, nil
		}

		// Chunks are word-aligned.
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	return nil, 0, errors.New("audio: no data chunk found")
}
