package core

import "time"

// AudioEncodingFormat identifies how the samples in an AudioChunk are
// encoded.
type AudioEncodingFormat int

const (
	PCM  AudioEncodingFormat = iota // 16-bit little-endian linear samples
	ULAW                            // G.711 µ-law companded bytes
	ALAW                            // G.711 A-law companded bytes
)

// AudioChunk is one synthesized utterance's worth of audio on its way to a
// client. Data is shared by pointer between conversion stages.
type AudioChunk struct {
	Data       *[]byte
	SampleRate int
	Channels   int
	Format     AudioEncodingFormat
	Timestamp  time.Time
}

// GetDurationInSeconds derives playout length from the byte count.
// Companded formats carry one byte per sample, PCM two.
func (ac *AudioChunk) GetDurationInSeconds() float64 {
	if ac.Data == nil || ac.SampleRate == 0 || ac.Channels == 0 {
		return 0
	}
	perSample := 2
	if ac.Format == ULAW || ac.Format == ALAW {
		perSample = 1
	}
	frames := len(*ac.Data) / (perSample * ac.Channels)
	return float64(frames) / float64(ac.SampleRate)
}
