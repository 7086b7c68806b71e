// Package vggtest writes small synthetic VGG weight files for tests.
package vggtest

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/born-ml/styletransfer/internal/vgg"
)

// Tiny is a two-block network small enough for gradient checks:
// conv1_1(4) relu1_1 conv1_2(4) relu1_2 pool1 conv2_1(6) relu2_1.
func Tiny() vgg.Architecture {
	arch, err := vgg.Build("tiny", []int{4, 4, vgg.M, 6},
		[]string{"relu1_1", "conv1_2", "relu2_1"}, "conv1_2",
		[]string{"relu1_1", "relu2_1"})
	if err != nil {
		panic(err)
	}
	return arch
}

type entry struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// WriteWeights writes He-initialized weights and zero biases for every conv
// of arch using torchvision key names.
func WriteWeights(path string, arch vgg.Architecture, seed uint64) error {
	tensors := make(map[string][]float32)
	shapes := make(map[string][]int)
	for i, l := range arch.Layers {
		if l.Kind != vgg.Conv {
			continue
		}
		w := make([]float32, l.Out*l.In*9)
		dist := distuv.Normal{Mu: 0, Sigma: math.Sqrt(2 / float64(l.In*9)), Src: rand.NewPCG(seed, uint64(i))}
		for j := range w {
			w[j] = float32(dist.Rand())
		}
		name := fmt.Sprintf("features.%d", i)
		tensors[name+".weight"] = w
		shapes[name+".weight"] = []int{l.Out, l.In, 3, 3}
		tensors[name+".bias"] = make([]float32, l.Out)
		shapes[name+".bias"] = []int{l.Out}
	}
	return write(path, tensors, shapes)
}

func write(path string, tensors map[string][]float32, shapes map[string][]int) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	header["__metadata__"] = map[string]string{"format": "pt"}
	var offset int64
	for _, name := range names {
		size := int64(4 * len(tensors[name]))
		header[name] = entry{DType: "F32", Shape: shapes[name], DataOffsets: [2]int64{offset, offset + size}}
		offset += size
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "failed to marshal header")
	}

	//nolint:gosec // G304: test fixture path
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer func() { _ = f.Close() }()

	if err := binary.Write(f, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return errors.Wrap(err, "failed to write header size")
	}
	if _, err := f.Write(headerJSON); err != nil {
		return errors.Wrap(err, "failed to write header")
	}
	for _, name := range names {
		if err := binary.Write(f, binary.LittleEndian, tensors[name]); err != nil {
			return errors.Wrapf(err, "failed to write %s", name)
		}
	}
	return f.Close()
}
