// Package weights converts model weight tensors to and from the portable wire
// format shared with mobile training peers:
//
//	{"shape": [3, 3, 1, 32], "dtype": "float32", "data": "<base64 little-endian float32>"}
//
// Encoding is exact: Decode(Encode(x)) reproduces x bit for bit.
package weights

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

const bytesPerElement = 4

// WireTensor is the text-safe representation of one tensor.
type WireTensor struct {
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
	Data  string `json:"data"`
}

// Encode serializes tensors for transmission. An empty list encodes to an empty list.
func Encode(ts []Tensor) ([]WireTensor, error) {
	out := make([]WireTensor, 0, len(ts))
	for i, t := range ts {
		n, err := numElements(t.Shape)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if n != len(t.Data) {
			return nil, fmt.Errorf("layer %d: %w: shape %v holds %d elements, got %d", i, ErrShapeMismatch, t.Shape, n, len(t.Data))
		}

		buf := make([]byte, len(t.Data)*bytesPerElement)
		for j, v := range t.Data {
			binary.LittleEndian.PutUint32(buf[j*bytesPerElement:], math.Float32bits(v))
		}

		out = append(out, WireTensor{
			Shape: append([]int(nil), t.Shape...),
			DType: DType,
			Data:  base64.StdEncoding.EncodeToString(buf),
		})
	}

	return out, nil
}

// Decode is the inverse of Encode. It fails on the first malformed layer.
func Decode(wire []WireTensor) ([]Tensor, error) {
	out := make([]Tensor, 0, len(wire))
	for i, w := range wire {
		t, err := decodeOne(w)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		out = append(out, t)
	}

	return out, nil
}

func decodeOne(w WireTensor) (Tensor, error) {
	if w.DType != "" && w.DType != DType {
		return Tensor{}, fmt.Errorf("%w: %q", ErrUnsupported, w.DType)
	}
	n, err := numElements(w.Shape)
	if err != nil {
		return Tensor{}, err
	}

	raw, err := base64.StdEncoding.DecodeString(w.Data)
	if err != nil {
		return Tensor{}, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	if len(raw) != n*bytesPerElement {
		return Tensor{}, fmt.Errorf("%w: shape %v needs %d bytes, got %d", ErrShapeMismatch, w.Shape, n*bytesPerElement, len(raw))
	}

	data := make([]float32, n)
	for j := range data {
		v := math.Float32frombits(binary.LittleEndian.Uint32(raw[j*bytesPerElement:]))
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return Tensor{}, fmt.Errorf("%w: element %d", ErrNonFinite, j)
		}
		data[j] = v
	}

	return Tensor{
		Shape: append([]int(nil), w.Shape...),
		Data:  data,
	}, nil
}

// EncodeJSON encodes tensors and marshals the wire list.
func EncodeJSON(ts []Tensor) (json.RawMessage, error) {
	wire, err := Encode(ts)
	if err != nil {
		return nil, err
	}

	return json.Marshal(wire)
}

// DecodeJSON decodes a raw JSON weights field. A missing or null field
// decodes to no tensors; anything other than an array is an error.
func DecodeJSON(raw json.RawMessage) ([]Tensor, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []Tensor{}, nil
	}
	if trimmed[0] != '[' {
		return nil, ErrNotArray
	}

	var wire []WireTensor
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	return Decode(wire)
}
