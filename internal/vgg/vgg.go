// Package vgg implements the frozen VGG feature extractor used to describe
// images by their activations.
//
// The network is built from an Architecture with Born's nn layers:
//
//	Input: [1, 3, H, W] (mean-subtracted RGB)
//	ConvX_Y: 3x3 kernel, stride 1, padding 1
//	ReLU
//	PoolX: 2x2 max pooling, stride 2 (halves H and W)
//
// Weights are loaded from a torchvision state dict exported to
// .safetensors ("features.<index>.weight", "features.<index>.bias").
package vgg

import (
	"fmt"
	"slices"

	"github.com/born-ml/born/loader"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// layer is one stage of the features stack.
type layer[B tensor.Backend] interface {
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]
}

// Extractor runs the truncated features stack and returns the tapped
// activations.
type Extractor[B tensor.Backend] struct {
	arch    Architecture
	layers  []layer[B]
	convs   map[int]*nn.Conv2D[B] // keyed by layer index
	taps    map[int]int           // layer index -> position in Forward output
	backend B
}

// New creates an extractor with Xavier-initialized convolutions. Call
// LoadWeights to install pretrained weights.
func New[B tensor.Backend](arch Architecture, backend B) *Extractor[B] {
	e := &Extractor[B]{
		arch:    arch,
		layers:  make([]layer[B], len(arch.Layers)),
		convs:   make(map[int]*nn.Conv2D[B]),
		taps:    make(map[int]int, len(arch.Taps)),
		backend: backend,
	}
	for i, l := range arch.Layers {
		switch l.Kind {
		case Conv:
			conv := nn.NewConv2D(l.In, l.Out, 3, 3, 1, 1, true, backend)
			e.convs[i] = conv
			e.layers[i] = conv
		case ReLU:
			e.layers[i] = nn.NewReLU[B]()
		case Pool:
			e.layers[i] = nn.NewMaxPool2D(2, 2, backend)
		}
	}
	for pos, i := range arch.Taps {
		e.taps[i] = pos
	}
	return e
}

// Architecture returns the layer description the extractor was built from.
func (e *Extractor[B]) Architecture() Architecture {
	return e.arch
}

// ContentIndex is the position of the content feature in Forward's output.
func (e *Extractor[B]) ContentIndex() int {
	return e.arch.Content
}

// StyleIndices are the positions of the style features in Forward's output.
func (e *Extractor[B]) StyleIndices() []int {
	return slices.Clone(e.arch.Style)
}

// Forward runs x [1, 3, H, W] through the network and returns one feature
// map per tap, in tap order.
func (e *Extractor[B]) Forward(x *tensor.Tensor[float32, B]) []*tensor.Tensor[float32, B] {
	out := make([]*tensor.Tensor[float32, B], len(e.arch.Taps))
	for i, layer := range e.layers {
		x = layer.Forward(x)
		if pos, ok := e.taps[i]; ok {
			out[pos] = x
		}
	}
	return out
}

// Parameters returns the convolution weights and biases in layer order.
func (e *Extractor[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for i := range e.layers {
		if conv, ok := e.convs[i]; ok {
			params = append(params, conv.Parameters()...)
		}
	}
	return params
}

// LoadWeights copies pretrained weights from a .safetensors file into the
// convolutions. Every conv of the truncated stack must be present with a
// matching shape; extra tensors in the file are ignored.
func (e *Extractor[B]) LoadWeights(path string) error {
	model, err := loader.OpenModel(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open weights %s", path)
	}
	defer func() { _ = model.Close() }()

	names := model.TensorNames()
	for i, l := range e.arch.Layers {
		if l.Kind != Conv {
			continue
		}
		params := e.convs[i].Parameters()
		for j, suffix := range []string{"weight", "bias"} {
			name := fmt.Sprintf("features.%d.%s", i, suffix)
			if !lo.Contains(names, name) {
				return errors.Errorf("weights %s: missing tensor %s (%s)", path, name, l.Name)
			}
			raw, err := model.LoadTensor(name, e.backend)
			if err != nil {
				return errors.Wrapf(err, "weights %s: failed to load %s", path, name)
			}
			dst := params[j].Tensor()
			if !slices.Equal(raw.Shape(), dst.Shape()) {
				return errors.Errorf("weights %s: %s has shape %v, want %v", path, name, raw.Shape(), dst.Shape())
			}
			copy(dst.Raw().AsFloat32(), raw.AsFloat32())
		}
	}
	return nil
}
