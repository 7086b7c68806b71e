// Package loss builds the style transfer objective on Born tensors.
//
// Every reduction is expressed with ops the autodiff tape records
// (Reshape, Transpose, MatMul, Sub, Mul, Add) so that one backward pass from
// the total yields the gradient with respect to the canvas. Scalars are
// carried as [1, 1] tensors.
package loss

import (
	"github.com/born-ml/born/tensor"
)

// Gram returns F·Fᵀ / (C·H·W) for a feature map f of shape [1, C, H, W]
// (or [C, H, W]), where F is f reshaped to [C, H·W].
func Gram[B tensor.Backend](f *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := f.Shape()
	c := shape[len(shape)-3]
	hw := shape[len(shape)-2] * shape[len(shape)-1]

	m := f.Reshape(c, hw)
	g := m.MatMul(m.Transpose(1, 0))
	return g.Mul(tensor.Full[float32](tensor.Shape{c, c}, 1/float32(c*hw), f.Backend()))
}

// SumSquares returns Σx² as a [1, 1] tensor.
func SumSquares[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	n := x.NumElements()
	row := x.Reshape(1, n)
	return row.MatMul(x.Reshape(n, 1))
}

// AbsSum returns Σ|x| as a [1, 1] tensor. The sign pattern is taken from the
// current values and held constant, so the gradient is sign(x).
func AbsSum[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	n := x.NumElements()
	sign := tensor.Zeros[float32](tensor.Shape{n, 1}, x.Backend())
	s := sign.Data()
	for i, v := range x.Data() {
		switch {
		case v > 0:
			s[i] = 1
		case v < 0:
			s[i] = -1
		}
	}
	return x.Reshape(1, n).MatMul(sign)
}

// Scale multiplies a [1, 1] tensor by w.
func Scale[B tensor.Backend](x *tensor.Tensor[float32, B], w float32) *tensor.Tensor[float32, B] {
	return x.Mul(tensor.Full[float32](tensor.Shape{1, 1}, w, x.Backend()))
}

// ContentLoss is the mean squared error between the current and the target
// content features.
func ContentLoss[B tensor.Backend](current, target *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	d := current.Sub(target)
	return Scale(SumSquares(d), 1/float32(d.NumElements()))
}

// StyleLoss is the sum of squared Gram differences, averaged over layers.
// current and targets are Gram matrices of matching layers.
func StyleLoss[B tensor.Backend](current, targets []*tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	var sum *tensor.Tensor[float32, B]
	for i := range current {
		l := SumSquares(current[i].Sub(targets[i]))
		if sum == nil {
			sum = l
		} else {
			sum = sum.Add(l)
		}
	}
	return Scale(sum, 1/float32(len(current)))
}

// TotalVariation returns Σ|x[..., :, 1:] - x[..., :, :-1]| + Σ|x[..., 1:, :] - x[..., :-1, :]|
// for x of shape [1, C, H, W]. Finite differences are taken with constant
// difference matrices so they stay on the tape.
func TotalVariation[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	c, h, w := shape[len(shape)-3], shape[len(shape)-2], shape[len(shape)-1]
	b := x.Backend()

	var tv *tensor.Tensor[float32, B]
	if w > 1 {
		// rows · Dh, Dh[j][j] = -1, Dh[j+1][j] = 1
		dh := tensor.Zeros[float32](tensor.Shape{w, w - 1}, b)
		d := dh.Data()
		for j := 0; j < w-1; j++ {
			d[j*(w-1)+j] = -1
			d[(j+1)*(w-1)+j] = 1
		}
		tv = AbsSum(x.Reshape(c*h, w).MatMul(dh))
	}
	if h > 1 {
		// Dv · cols, Dv[i][i] = -1, Dv[i][i+1] = 1
		dv := tensor.Zeros[float32](tensor.Shape{h - 1, h}, b)
		d := dv.Data()
		for i := 0; i < h-1; i++ {
			d[i*h+i] = -1
			d[i*h+i+1] = 1
		}
		cols := x.Reshape(c, h, w).Transpose(1, 0, 2).Reshape(h, c*w)
		vertical := AbsSum(dv.MatMul(cols))
		if tv == nil {
			tv = vertical
		} else {
			tv = tv.Add(vertical)
		}
	}
	if tv == nil {
		return tensor.Zeros[float32](tensor.Shape{1, 1}, b)
	}
	return tv
}

// Value reads a [1, 1] tensor.
func Value[B tensor.Backend](x *tensor.Tensor[float32, B]) float64 {
	return float64(x.Data()[0])
}
