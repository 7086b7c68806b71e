package vgg

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// M marks a 2x2 max pooling layer in a configuration list.
const M = 0

// Kind is the type of a layer in the features stack.
type Kind int

// Layer kinds.
const (
	Conv Kind = iota
	ReLU
	Pool
)

func (k Kind) String() string {
	switch k {
	case Conv:
		return "conv"
	case ReLU:
		return "relu"
	case Pool:
		return "pool"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Layer is one entry of the features stack. Its position in
// Architecture.Layers is the torchvision "features.<index>" index.
type Layer struct {
	Kind Kind
	Name string // conv3_1, relu3_1, pool3
	In   int    // conv only
	Out  int    // conv only
}

// Architecture is a truncated VGG features stack with named taps.
type Architecture struct {
	Name   string
	Layers []Layer
	// Taps are the layer indices whose outputs Forward returns, in order.
	Taps     []int
	TapNames []string
	// Content indexes Taps; Style holds indices into Taps.
	Content int
	Style   []int
}

// torchvision features configurations.
var (
	cfg16 = []int{64, 64, M, 128, 128, M, 256, 256, 256, M, 512, 512, 512, M, 512, 512, 512, M}
	cfg19 = []int{64, 64, M, 128, 128, M, 256, 256, 256, 256, M, 512, 512, 512, 512, M, 512, 512, 512, 512, M}
)

// VGG16 taps relu1_2..relu4_3 and reads content at relu2_2.
func VGG16() Architecture {
	taps := []string{"relu1_2", "relu2_2", "relu3_3", "relu4_3"}
	arch, err := Build("vgg16", cfg16, taps, "relu2_2", taps)
	if err != nil {
		panic(err)
	}
	return arch
}

// VGG19 taps relu1_1..relu5_1 plus conv4_2, which carries the content.
func VGG19() Architecture {
	arch, err := Build("vgg19", cfg19,
		[]string{"relu1_1", "relu2_1", "relu3_1", "relu4_1", "conv4_2", "relu5_1"},
		"conv4_2",
		[]string{"relu1_1", "relu2_1", "relu3_1", "relu4_1", "relu5_1"})
	if err != nil {
		panic(err)
	}
	return arch
}

// ByName returns the architecture registered under name.
func ByName(name string) (Architecture, error) {
	switch name {
	case "vgg16":
		return VGG16(), nil
	case "vgg19":
		return VGG19(), nil
	default:
		return Architecture{}, errors.Errorf("unknown model %q (choose from vgg16, vgg19)", name)
	}
}

// Build expands cfg (output channels per conv, M for pooling) into the
// torchvision layer list for 3-channel input, resolves the tap names and
// drops every layer after the deepest tap.
func Build(name string, cfg []int, taps []string, content string, style []string) (Architecture, error) {
	if len(taps) == 0 {
		return Architecture{}, errors.Errorf("%s: no tapped layers", name)
	}

	var layers []Layer
	in, block, n := 3, 1, 0
	for _, c := range cfg {
		if c == M {
			layers = append(layers, Layer{Kind: Pool, Name: fmt.Sprintf("pool%d", block)})
			block++
			n = 0
			continue
		}
		if c < 0 {
			return Architecture{}, errors.Errorf("%s: invalid channel count %d", name, c)
		}
		n++
		layers = append(layers,
			Layer{Kind: Conv, Name: fmt.Sprintf("conv%d_%d", block, n), In: in, Out: c},
			Layer{Kind: ReLU, Name: fmt.Sprintf("relu%d_%d", block, n)},
		)
		in = c
	}

	index := make(map[string]int, len(layers))
	for i, l := range layers {
		index[l.Name] = i
	}

	arch := Architecture{Name: name, TapNames: taps}
	for _, t := range taps {
		i, ok := index[t]
		if !ok {
			return Architecture{}, errors.Errorf("%s: unknown layer %q", name, t)
		}
		arch.Taps = append(arch.Taps, i)
	}
	if len(lo.Uniq(arch.Taps)) != len(arch.Taps) {
		return Architecture{}, errors.Errorf("%s: duplicate taps %v", name, taps)
	}

	if arch.Content = lo.IndexOf(taps, content); arch.Content < 0 {
		return Architecture{}, errors.Errorf("%s: content layer %q is not tapped", name, content)
	}
	for _, s := range style {
		i := lo.IndexOf(taps, s)
		if i < 0 {
			return Architecture{}, errors.Errorf("%s: style layer %q is not tapped", name, s)
		}
		arch.Style = append(arch.Style, i)
	}

	arch.Layers = layers[:lo.Max(arch.Taps)+1]
	return arch, nil
}
