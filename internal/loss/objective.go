package loss

import (
	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
)

// Extractor produces feature maps and says which of them describe content
// and style.
type Extractor[B tensor.Backend] interface {
	Forward(x *tensor.Tensor[float32, B]) []*tensor.Tensor[float32, B]
	ContentIndex() int
	StyleIndices() []int
}

// Weights scale the three loss terms. A zero weight drops the term.
type Weights struct {
	Content float32
	Style   float32
	TV      float32
}

// Components are the unweighted loss terms of one evaluation together with
// the weighted total.
type Components struct {
	Total   float64
	Content float64
	Style   float64
	TV      float64
}

// Weighted returns the components multiplied by their weights, as reported
// in progress output.
func (c Components) Weighted(w Weights) Components {
	return Components{
		Total:   c.Total,
		Content: float64(w.Content) * c.Content,
		Style:   float64(w.Style) * c.Style,
		TV:      float64(w.TV) * c.TV,
	}
}

// Targets are the fixed representations the canvas is pulled towards.
type Targets[B tensor.Backend] struct {
	Content *tensor.Tensor[float32, B]   // content layer activation, nil when unused
	Style   []*tensor.Tensor[float32, B] // Gram matrices per style layer, nil when unused
}

// NewTargets computes the content target from content and the style targets
// from style. Either image may be nil to skip its targets. Gradient
// recording is suspended while the targets are built.
func NewTargets[B tensor.Backend](e Extractor[B], content, style *tensor.Tensor[float32, B]) Targets[B] {
	var t Targets[B]
	if content == nil && style == nil {
		return t
	}
	b := content
	if b == nil {
		b = style
	}
	if rec, ok := any(b.Backend()).(autodiff.BackwardCapable); ok {
		if tape := rec.GetTape(); tape.IsRecording() {
			tape.StopRecording()
			defer tape.StartRecording()
		}
	}

	if content != nil {
		t.Content = e.Forward(content)[e.ContentIndex()]
	}
	if style != nil {
		features := e.Forward(style)
		for _, i := range e.StyleIndices() {
			t.Style = append(t.Style, Gram(features[i]))
		}
	}
	return t
}

// Objective is the weighted sum of content, style and total variation loss.
type Objective[B tensor.Backend] struct {
	extractor Extractor[B]
	targets   Targets[B]
	weights   Weights
}

// NewObjective checks that every weighted term has its target.
func NewObjective[B tensor.Backend](e Extractor[B], targets Targets[B], w Weights) (*Objective[B], error) {
	switch {
	case w.Content == 0 && w.Style == 0 && w.TV == 0:
		return nil, errors.New("all loss weights are zero")
	case w.Content != 0 && targets.Content == nil:
		return nil, errors.New("content weight set without a content target")
	case w.Style != 0 && len(targets.Style) == 0:
		return nil, errors.New("style weight set without style targets")
	}
	return &Objective[B]{extractor: e, targets: targets, weights: w}, nil
}

// Weights returns the term weights.
func (o *Objective[B]) Weights() Weights {
	return o.weights
}

// Evaluate builds cw·content + sw·style + tvw·tv for canvas. The returned
// total is the last tensor computed, so on a recording autodiff backend it
// is the output of the last op on the tape.
func (o *Objective[B]) Evaluate(canvas *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], Components) {
	var (
		total *tensor.Tensor[float32, B]
		comps Components
	)
	add := func(term *tensor.Tensor[float32, B], w float32) {
		scaled := Scale(term, w)
		if total == nil {
			total = scaled
		} else {
			total = total.Add(scaled)
		}
	}

	var features []*tensor.Tensor[float32, B]
	if o.weights.Content != 0 || o.weights.Style != 0 {
		features = o.extractor.Forward(canvas)
	}
	if o.weights.Content != 0 {
		c := ContentLoss(features[o.extractor.ContentIndex()], o.targets.Content)
		comps.Content = Value(c)
		add(c, o.weights.Content)
	}
	if o.weights.Style != 0 {
		grams := make([]*tensor.Tensor[float32, B], 0, len(o.targets.Style))
		for _, i := range o.extractor.StyleIndices() {
			grams = append(grams, Gram(features[i]))
		}
		s := StyleLoss(grams, o.targets.Style)
		comps.Style = Value(s)
		add(s, o.weights.Style)
	}
	if o.weights.TV != 0 {
		tv := TotalVariation(canvas)
		comps.TV = Value(tv)
		add(tv, o.weights.TV)
	}

	comps.Total = Value(total)
	return total, comps
}
