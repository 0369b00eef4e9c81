// Package audio shapes synthesized speech for delivery: WAV framing for
// browsers, G.711 companding and resampling for the low-bandwidth mode.
// All PCM in and out is 16-bit little-endian, interleaved.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zaf/g711"

	"kaiwa/core"
)

const bytesPerSample = 2

func validatePCM(pcm []byte, channels int) error {
	if len(pcm) == 0 {
		return errors.New("audio: empty pcm data")
	}
	if len(pcm)%bytesPerSample != 0 {
		return errors.New("audio: pcm length must be even")
	}
	if channels <= 0 {
		return errors.New("audio: channel count must be positive")
	}
	if len(pcm)%(bytesPerSample*channels) != 0 {
		return errors.New("audio: pcm length does not match channel count")
	}
	return nil
}

// ── G.711 companding ──────────────────────────────────────────────────────────

// PCMBytesToULaw compands 16-bit PCM into 8-bit µ-law, halving the size.
func PCMBytesToULaw(pcm []byte) ([]byte, error) {
	if len(pcm)%bytesPerSample != 0 {
		return nil, errors.New("audio: pcm length must be even")
	}
	return g711.EncodeUlaw(pcm), nil
}

// ULawBytesToPCM expands 8-bit µ-law back to 16-bit PCM.
func ULawBytesToPCM(ulaw []byte) []byte {
	return g711.DecodeUlaw(ulaw)
}

// PCMBytesToALaw compands 16-bit PCM into 8-bit A-law.
func PCMBytesToALaw(pcm []byte) ([]byte, error) {
	if len(pcm)%bytesPerSample != 0 {
		return nil, errors.New("audio: pcm length must be even")
	}
	return g711.EncodeAlaw(pcm), nil
}

// ALawBytesToPCM expands 8-bit A-law back to 16-bit PCM.
func ALawBytesToPCM(alaw []byte) []byte {
	return g711.DecodeAlaw(alaw)
}

// ── WAV framing ───────────────────────────────────────────────────────────────

const wavHeaderSize = 44

// PCMBytesToWavBytes prefixes raw PCM with a canonical 44-byte RIFF/WAVE
// header so browsers can decode it natively. Mono or stereo only.
func PCMBytesToWavBytes(pcm []byte, channels, sampleRate int) ([]byte, error) {
	if err := validatePCM(pcm, channels); err != nil {
		return nil, err
	}
	if channels > 2 {
		return nil, errors.New("audio: wav output supports mono or stereo only")
	}
	if sampleRate <= 0 {
		return nil, errors.New("audio: sample rate must be positive")
	}

	blockAlign := channels * bytesPerSample
	out := make([]byte, wavHeaderSize+len(pcm))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(wavHeaderSize-8+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // linear PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16) // bits per sample

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)

	return out, nil
}

// StripWAVHeaderIfPresent returns the PCM payload of a RIFF/WAVE buffer,
// walking sub-chunks until it finds "data". Non-WAV input passes through
// unchanged; voice services disagree on whether they frame their PCM.
func StripWAVHeaderIfPresent(buf []byte) ([]byte, error) {
	if len(buf) < 12 || !bytes.HasPrefix(buf, []byte("RIFF")) || !bytes.Equal(buf[8:12], []byte("WAVE")) {
		return buf, nil
	}

	pos := 12
	for pos+8 <= len(buf) {
		id := string(buf[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(buf[pos+4 : pos+8]))
		body := pos + 8

		if id == "data" {
			if body+size > len(buf) {
				return nil, errors.New("audio: wav data chunk exceeds buffer")
			}
			return buf[body : body+size], nil
		}

		// Chunks are padded to even offsets.
		if size%2 != 0 {
			size++
		}
		pos = body + size
	}
	return nil, errors.New("audio: wav data chunk not found")
}

// ── Resampling and channel layout ─────────────────────────────────────────────

// ResamplePCMBytes converts 16-bit PCM between sample rates using linear
// interpolation. Interleaved frames are preserved for multi-channel input.
func ResamplePCMBytes(pcm []byte, channels, fromRate, toRate int) ([]byte, error) {
	if err := validatePCM(pcm, channels); err != nil {
		return nil, err
	}
	if fromRate <= 0 || toRate <= 0 {
		return nil, errors.New("audio: sample rates must be positive")
	}
	if fromRate == toRate {
		return pcm, nil
	}

	frameSize := bytesPerSample * channels
	frames := len(pcm) / frameSize
	outFrames := int(int64(frames) * int64(toRate) / int64(fromRate))
	if outFrames == 0 {
		return []byte{}, nil
	}

	out := make([]byte, outFrames*frameSize)
	step := float64(fromRate) / float64(toRate)

	for i := range outFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= frames {
			next = frames - 1
		}

		for ch := range channels {
			a := int16(binary.LittleEndian.Uint16(pcm[(idx*channels+ch)*2:]))
			b := int16(binary.LittleEndian.Uint16(pcm[(next*channels+ch)*2:]))
			sample := int16(float64(a) + (float64(b)-float64(a))*frac)
			binary.LittleEndian.PutUint16(out[(i*channels+ch)*2:], uint16(sample))
		}
	}
	return out, nil
}

func monoToStereo(pcm []byte) []byte {
	frames := len(pcm) / 2
	out := make([]byte, frames*4)
	for i := range frames {
		out[i*4] = pcm[i*2]
		out[i*4+1] = pcm[i*2+1]
		out[i*4+2] = pcm[i*2]
		out[i*4+3] = pcm[i*2+1]
	}
	return out
}

func stereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		left := int16(binary.LittleEndian.Uint16(pcm[i*4 : i*4+2]))
		right := int16(binary.LittleEndian.Uint16(pcm[i*4+2 : i*4+4]))
		binary.LittleEndian.PutUint16(out[i*2:], uint16((int(left)+int(right))/2))
	}
	return out
}

func convertChannels(pcm []byte, from, to int) ([]byte, error) {
	switch {
	case from == to:
		return pcm, nil
	case from == 1 && to == 2:
		return monoToStereo(pcm), nil
	case from == 2 && to == 1:
		return stereoToMono(pcm), nil
	default:
		return nil, fmt.Errorf("audio: unsupported channel conversion %d to %d", from, to)
	}
}

// ── Chunk conversion ──────────────────────────────────────────────────────────

// ConvertAudioChunk reshapes a chunk to a target format, channel count and
// sample rate. Companded input is expanded to PCM first; companding to the
// target format happens last, after any resampling.
func ConvertAudioChunk(in core.AudioChunk, format core.AudioEncodingFormat, channels, sampleRate int) (core.AudioChunk, error) {
	if in.Format == format && in.Channels == channels && in.SampleRate == sampleRate {
		return in, nil
	}

	if in.Format != core.PCM {
		var pcm []byte
		switch in.Format {
		case core.ULAW:
			pcm = ULawBytesToPCM(*in.Data)
		case core.ALAW:
			pcm = ALawBytesToPCM(*in.Data)
		default:
			return core.AudioChunk{}, fmt.Errorf("audio: unknown source format %d", in.Format)
		}
		in.Data = &pcm
		in.Format = core.PCM
	}

	if in.Channels != channels {
		mixed, err := convertChannels(*in.Data, in.Channels, channels)
		if err != nil {
			return core.AudioChunk{}, err
		}
		in.Data = &mixed
		in.Channels = channels
	}

	if in.SampleRate != sampleRate {
		resampled, err := ResamplePCMBytes(*in.Data, in.Channels, in.SampleRate, sampleRate)
		if err != nil {
			return core.AudioChunk{}, err
		}
		in.Data = &resampled
		in.SampleRate = sampleRate
	}

	if format != core.PCM {
		var companded []byte
		var err error
		switch format {
		case core.ULAW:
			companded, err = PCMBytesToULaw(*in.Data)
		case core.ALAW:
			companded, err = PCMBytesToALaw(*in.Data)
		default:
			return core.AudioChunk{}, fmt.Errorf("audio: unknown target format %d", format)
		}
		if err != nil {
			return core.AudioChunk{}, err
		}
		in.Data = &companded
		in.Format = format
	}

	return in, nil
}

// GetPCMDurationSeconds reports how long a PCM buffer plays for.
func GetPCMDurationSeconds(pcm []byte, channels, sampleRate int) (float64, error) {
	if err := validatePCM(pcm, channels); err != nil {
		return 0, err
	}
	if sampleRate <= 0 {
		return 0, errors.New("audio: sample rate must be positive")
	}
	frames := len(pcm) / (bytesPerSample * channels)
	return float64(frames) / float64(sampleRate), nil
}
