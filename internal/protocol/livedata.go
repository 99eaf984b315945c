package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Keys used by the instrument software.
const (
	DefaultProfileKey = "Intensity Profile"
	LegacyProfileKey  = "intensityProfile"
	StatusKey         = "Measurement Process State"
	LegacyStatusKey   = "status"
)

// ErrNoProfile is returned when a live message carries no intensity samples.
var ErrNoProfile = errors.New("live message has no intensity profile")

// LiveData is one message from the instrument feed.
type LiveData struct {
	Profile []float64
	Status  string
	// Metadata holds every other key of the message.
	Metadata map[string]interface{}
}

// DecodeLiveData parses a live message. The profile is read from key, or
// from the default and legacy keys when key is empty or absent. Plain
// msgpack arrays and msgpack-numpy ndarray maps are both accepted.
func DecodeLiveData(b []byte, key string) (LiveData, error) {
	var fields map[string]msgpack.RawMessage
	if err := msgpack.Unmarshal(b, &fields); err != nil {
		return LiveData{}, fmt.Errorf("decode live data: %w", err)
	}

	var data LiveData
	profileKey := ""
	for _, k := range []string{key, DefaultProfileKey, LegacyProfileKey} {
		if _, ok := fields[k]; ok && k != "" {
			profileKey = k
			break
		}
	}
	if profileKey == "" {
		return LiveData{}, ErrNoProfile
	}
	profile, err := decodeSamples(fields[profileKey])
	if err != nil {
		return LiveData{}, fmt.Errorf("decode %q: %w", profileKey, err)
	}
	data.Profile = profile

	for _, k := range []string{StatusKey, LegacyStatusKey} {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var status string
		if err := msgpack.Unmarshal(raw, &status); err == nil {
			data.Status = status
			delete(fields, k)
			break
		}
	}
	delete(fields, profileKey)

	if len(fields) > 0 {
		data.Metadata = make(map[string]interface{}, len(fields))
		for k, raw := range fields {
			var v interface{}
			if err := msgpack.Unmarshal(raw, &v); err == nil {
				data.Metadata[k] = v
			}
		}
	}
	return data, nil
}

// EncodeLiveData serializes data the way the instrument does, with the
// profile under key (DefaultProfileKey when empty).
func EncodeLiveData(data LiveData, key string) ([]byte, error) {
	if key == "" {
		key = DefaultProfileKey
	}
	msg := make(map[string]interface{}, len(data.Metadata)+2)
	for k, v := range data.Metadata {
		msg[k] = v
	}
	msg[key] = data.Profile
	if data.Status != "" {
		msg[StatusKey] = data.Status
	}
	b, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode live data: %w", err)
	}
	return b, nil
}

func decodeSamples(raw msgpack.RawMessage) ([]float64, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	c, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}
	if msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32 {
		var nd ndarray
		if err := dec.Decode(&nd); err != nil {
			return nil, err
		}
		return nd.float64s()
	}
	var samples []float64
	if err := dec.Decode(&samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// ndarray is the msgpack-numpy encoding of a numpy array.
type ndarray struct {
	ND    bool   `msgpack:"nd"`
	Type  string `msgpack:"type"`
	Shape []int  `msgpack:"shape"`
	Data  []byte `msgpack:"data"`
}

func (a ndarray) float64s() ([]float64, error) {
	if !a.ND {
		return nil, errors.New("map is not an ndarray")
	}
	if len(a.Type) < 3 {
		return nil, fmt.Errorf("unsupported dtype %q", a.Type)
	}

	var order binary.ByteOrder = binary.LittleEndian
	switch a.Type[0] {
	case '<', '|', '=':
	case '>':
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("unsupported dtype %q", a.Type)
	}
	kind := a.Type[1]
	size, err := strconv.Atoi(a.Type[2:])
	if err != nil || size <= 0 {
		return nil, fmt.Errorf("unsupported dtype %q", a.Type)
	}
	if len(a.Data)%size != 0 {
		return nil, fmt.Errorf("ndarray data length %d is not a multiple of %d", len(a.Data), size)
	}
	n := len(a.Data) / size
	if len(a.Shape) > 0 && !shapeHolds(a.Shape, n) {
		return nil, fmt.Errorf("ndarray shape %v does not match %d elements", a.Shape, n)
	}

	out := make([]float64, n)
	for i := range out {
		v, ok := element(a.Data[i*size:(i+1)*size], kind, order)
		if !ok {
			return nil, fmt.Errorf("unsupported dtype %q", a.Type)
		}
		out[i] = v
	}
	return out, nil
}

// shapeHolds reports whether shape describes exactly n elements. Negative
// dimensions never match and the product is bounded by n, so it cannot wrap.
func shapeHolds(shape []int, n int) bool {
	zero := false
	for _, d := range shape {
		if d < 0 {
			return false
		}
		zero = zero || d == 0
	}
	if zero {
		return n == 0
	}
	want := 1
	for _, d := range shape {
		if want > n/d {
			return false
		}
		want *= d
	}
	return want == n
}

func element(b []byte, kind byte, order binary.ByteOrder) (float64, bool) {
	switch {
	case kind == 'f' && len(b) == 8:
		return math.Float64frombits(order.Uint64(b)), true
	case kind == 'f' && len(b) == 4:
		return float64(math.Float32frombits(order.Uint32(b))), true
	case kind == 'i' && len(b) == 8:
		return float64(int64(order.Uint64(b))), true
	case kind == 'i' && len(b) == 4:
		return float64(int32(order.Uint32(b))), true
	case kind == 'i' && len(b) == 2:
		return float64(int16(order.Uint16(b))), true
	case kind == 'i' && len(b) == 1:
		return float64(int8(b[0])), true
	case kind == 'u' && len(b) == 8:
		return float64(order.Uint64(b)), true
	case kind == 'u' && len(b) == 4:
		return float64(order.Uint32(b)), true
	case kind == 'u' && len(b) == 2:
		return float64(order.Uint16(b)), true
	case kind == 'u' && len(b) == 1:
		return float64(b[0]), true
	}
	return 0, false
}
