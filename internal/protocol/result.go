package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/banshee-data/liveodm/internal/fit"
)

// ResultMessage is the serialized outcome of one fitted profile. Keys of a
// peak that failed are omitted.
type ResultMessage struct {
	DisplacementMP  *float64  `msgpack:"displacement_mp,omitempty"`
	DisplacementRef *float64  `msgpack:"displacement_ref,omitempty"`
	PoptMP          []float64 `msgpack:"popt_mp,omitempty"`
	PoptRef         []float64 `msgpack:"popt_ref,omitempty"`
	FitFunctionMP   string    `msgpack:"fitFunction_mp,omitempty"`
	FitFunctionRef  string    `msgpack:"fitFunction_ref,omitempty"`
}

// NewResultMessage converts an engine result into its wire form.
func NewResultMessage(r fit.Result) ResultMessage {
	var m ResultMessage
	if p := r.Moving; p != nil {
		d := p.Displacement
		m.DisplacementMP = &d
		m.PoptMP = append([]float64(nil), p.Params...)
		m.FitFunctionMP = p.FitFunction
	}
	if p := r.Reference; p != nil {
		d := p.Displacement
		m.DisplacementRef = &d
		m.PoptRef = append([]float64(nil), p.Params...)
		m.FitFunctionRef = p.FitFunction
	}
	return m
}

// Empty reports whether the message references no peak.
func (m ResultMessage) Empty() bool {
	return m.DisplacementMP == nil && m.DisplacementRef == nil
}

// Relative returns displacement_mp - displacement_ref when both are present.
func (m ResultMessage) Relative() (float64, bool) {
	if m.DisplacementMP == nil || m.DisplacementRef == nil {
		return 0, false
	}
	return *m.DisplacementMP - *m.DisplacementRef, true
}

// EncodeResult serializes m.
func EncodeResult(m ResultMessage) ([]byte, error) {
	b, err := msgpack.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return b, nil
}

// DecodeResult parses a result message.
func DecodeResult(b []byte) (ResultMessage, error) {
	var m ResultMessage
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return ResultMessage{}, fmt.Errorf("decode result: %w", err)
	}
	return m, nil
}
