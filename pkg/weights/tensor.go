package weights

import "fmt"

// DType is the only element type exchanged on the wire.
const DType = "float32"

// Tensor is one layer of model weights. Data is laid out in row-major order
// and its length always equals the product of Shape.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// NewTensor validates shape against data and returns a tensor that owns copies of both.
func NewTensor(shape []int, data []float32) (Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return Tensor{}, err
	}
	if n != len(data) {
		return Tensor{}, fmt.Errorf("%w: shape %v holds %d elements, got %d", ErrShapeMismatch, shape, n, len(data))
	}

	return Tensor{
		Shape: append([]int(nil), shape...),
		Data:  append([]float32(nil), data...),
	}, nil
}

// Zeros returns a tensor of the given shape filled with zeros.
func Zeros(shape []int) (Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return Tensor{}, err
	}

	return Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, n),
	}, nil
}

func (t Tensor) Len() int {
	return len(t.Data)
}

// SameShape reports whether t and o have identical dimensions.
func (t Tensor) SameShape(o Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}

	return true
}

func (t Tensor) Clone() Tensor {
	return Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

// Clone deep-copies a list of tensors.
func Clone(ts []Tensor) []Tensor {
	if ts == nil {
		return nil
	}
	out := make([]Tensor, len(ts))
	for i := range ts {
		out[i] = ts[i].Clone()
	}

	return out
}

// Layout is the ordered list of layer shapes a model architecture expects.
type Layout [][]int

// LayoutOf returns the layout of ts.
func LayoutOf(ts []Tensor) Layout {
	l := make(Layout, len(ts))
	for i, t := range ts {
		l[i] = append([]int(nil), t.Shape...)
	}

	return l
}

// Validate checks that ts matches the layout layer by layer. An empty tensor
// list is accepted since it means "no weights yet".
func (l Layout) Validate(ts []Tensor) error {
	if len(ts) == 0 {
		return nil
	}
	if len(ts) != len(l) {
		return fmt.Errorf("%w: expected %d layers, got %d", ErrLayerCount, len(l), len(ts))
	}
	for i, t := range ts {
		if !t.SameShape(Tensor{Shape: l[i]}) {
			return fmt.Errorf("%w: layer %d has shape %v, expected %v", ErrShapeMismatch, i, t.Shape, l[i])
		}
	}

	return nil
}

// numElements returns the product of shape. An empty shape is a scalar.
func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: %v", ErrInvalidShape, shape)
		}
		n *= d
	}

	return n, nil
}
