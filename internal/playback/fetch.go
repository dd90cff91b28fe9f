package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/verbalia/voicepipe/pkg/audio"
)

// maxAssetBytes caps fetched reply audio. A synthesized utterance is a few
// hundred kilobytes; anything past this is a misbehaving upstream.
const maxAssetBytes = 16 << 20

// resolve turns a request into float samples in the output stream's format.
func (s *Service) resolve(ctx context.Context, req Request) ([]float32, error) {
	payload := req.Data
	if payload == nil {
		var err error
		payload, err = s.fetch(ctx, req.URL)
		if err != nil {
			return nil, errFetch(err)
		}
	}

	pcm, format, err := decodePCM(payload, s.out.SampleRate())
	if err != nil {
		return nil, errDecode(err)
	}

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: s.out.SampleRate(), Channels: 1}}
	pcm = conv.Convert(pcm, format)
	if len(pcm) == 0 {
		return nil, errDecode(fmt.Errorf("empty audio payload"))
	}
	return audio.PCM16ToFloat(pcm), nil
}

// fetch downloads the asset behind url with the play's own deadline.
func (s *Service) fetch(ctx context.Context, url string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %q: unexpected status %s", url, resp.Status)
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body of %q: %w", url, err)
	}
	if len(payload) > maxAssetBytes {
		return nil, fmt.Errorf("fetch %q: asset exceeds %d bytes", url, maxAssetBytes)
	}
	return payload, nil
}

// decodePCM extracts PCM16 bytes and their format from payload. RIFF
// payloads are decoded as WAV; anything else is treated as raw PCM16 mono
// at fallbackRate — the same implicit-format contract the outbound frame
// sink uses.
func decodePCM(payload []byte, fallbackRate int) ([]byte, audio.Format, error) {
	if len(payload) >= 4 && bytes.Equal(payload[:4], []byte("RIFF")) {
		return decodeWAV(payload)
	}
	if len(payload)%2 != 0 {
		return nil, audio.Format{}, fmt.Errorf("raw PCM payload has odd byte count %d", len(payload))
	}
	return payload, audio.Format{SampleRate: fallbackRate, Channels: 1}, nil
}

// decodeWAV decodes a RIFF/WAVE payload to little-endian PCM16.
func decodeWAV(payload []byte) ([]byte, audio.Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(payload))
	if !dec.IsValidFile() {
		return nil, audio.Format{}, fmt.Errorf("invalid WAV payload")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("decode WAV: %w", err)
	}

	format := audio.Format{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}
	return intBufferToPCM16(buf), format, nil
}

// intBufferToPCM16 converts a decoded sample buffer to little-endian PCM16,
// rescaling from the source bit depth when it is not 16.
func intBufferToPCM16(buf *gaudio.IntBuffer) []byte {
	shift := 0
	switch {
	case buf.SourceBitDepth > 16:
		shift = buf.SourceBitDepth - 16
	case buf.SourceBitDepth > 0 && buf.SourceBitDepth < 16:
		shift = -(16 - buf.SourceBitDepth)
	}

	out := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		switch {
		case shift > 0:
			v >>= shift
		case shift < 0:
			v <<= -shift
		}
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
