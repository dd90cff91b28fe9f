//go:build !portaudio
// +build !portaudio

package device

import "errors"

// NewHost stub when portaudio is not compiled in.
func NewHost() (Host, error) {
	return nil, errors.New("device: portaudio support not built in: rebuild with -tags portaudio")
}
