package graph

import (
	"fmt"
	"log/slog"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

// Property is one element property. Properties are applied in order.
type Property struct {
	Name  string
	Value any
}

// ElementSpec describes one node of a branch.
type ElementSpec struct {
	Factory    string
	Name       string
	Properties []Property
}

// BranchSpec describes a chain of nodes built as one unit.
type BranchSpec struct {
	Name     string
	Elements []ElementSpec

	// SinkTemplate requests the entry pad from the first node (e.g.
	// "video_%u" on a muxer). Empty uses its static "sink" pad.
	SinkTemplate string
	// Finalizer names the node that receives EOS when the branch detaches.
	// Empty means the first node.
	Finalizer string
	// ExposeSrc adds a ghost "src" pad forwarding the last node's output.
	ExposeSrc bool
}

// Branch is a built, self-contained subgraph. It is owned by whoever built
// it until a FanoutPoint attaches it.
type Branch struct {
	Key  string
	Spec BranchSpec
	Bin  media.Bin
	// Sink is the ghost pad the outlet links to.
	Sink media.Pad
	// Src is nil unless Spec.ExposeSrc.
	Src media.Pad

	elements []media.Element
	entry    media.Pad
}

// BuildBranch instantiates spec. On error nothing of the branch survives.
func BuildBranch(rt media.Runtime, key string, spec BranchSpec) (*Branch, error) {
	if len(spec.Elements) == 0 {
		return nil, newError(KindConstruction, "build", key, fmt.Errorf("branch %q has no elements", spec.Name))
	}

	binName := spec.Name
	if key != "" {
		binName = spec.Name + "-" + key
	}
	bin, err := rt.NewBin(binName)
	if err != nil {
		return nil, newError(KindConstruction, "build", key, err)
	}

	b := &Branch{Key: key, Spec: spec, Bin: bin}
	if err := b.populate(rt); err != nil {
		b.discard()
		return nil, err
	}
	return b, nil
}

func (b *Branch) populate(rt media.Runtime) error {
	for _, es := range b.Spec.Elements {
		el, err := rt.NewElement(es.Factory, es.Name)
		if err != nil {
			return newError(KindConstruction, "build", b.Key, err)
		}
		for _, p := range es.Properties {
			if err := el.SetProperty(p.Name, p.Value); err != nil {
				return newError(KindConstruction, "build", b.Key, err)
			}
		}
		if err := b.Bin.Add(el); err != nil {
			return newError(KindLinking, "build", b.Key, err)
		}
		b.elements = append(b.elements, el)
	}

	if err := media.LinkMany(b.elements...); err != nil {
		return newError(KindLinking, "build", b.Key, err)
	}

	first := b.elements[0]
	if b.Spec.SinkTemplate != "" {
		p, err := first.RequestPad(b.Spec.SinkTemplate)
		if err != nil {
			return newError(KindConstruction, "build", b.Key, err)
		}
		b.entry = p
	} else if b.entry = first.StaticPad("sink"); b.entry == nil {
		return newError(KindConstruction, "build", b.Key,
			fmt.Errorf("%w: %s has no sink pad", media.ErrNoPad, first.Name()))
	}

	sink, err := b.Bin.AddGhostPad("sink", b.entry)
	if err != nil {
		return newError(KindLinking, "build", b.Key, err)
	}
	b.Sink = sink

	if b.Spec.ExposeSrc {
		last := b.elements[len(b.elements)-1]
		target := last.StaticPad("src")
		if target == nil {
			return newError(KindConstruction, "build", b.Key,
				fmt.Errorf("%w: %s has no src pad", media.ErrNoPad, last.Name()))
		}
		src, err := b.Bin.AddGhostPad("src", target)
		if err != nil {
			return newError(KindLinking, "build", b.Key, err)
		}
		b.Src = src
	}

	if b.Spec.Finalizer != "" && b.Element(b.Spec.Finalizer) == nil {
		return newError(KindConstruction, "build", b.Key,
			fmt.Errorf("finalizer %q is not part of branch %q", b.Spec.Finalizer, b.Spec.Name))
	}
	return nil
}

// discard releases what populate managed to create.
func (b *Branch) discard() {
	if b.entry != nil && b.Spec.SinkTemplate != "" {
		b.elements[0].ReleaseRequestPad(b.entry)
	}
	if len(b.elements) > 0 {
		if err := b.Bin.Remove(b.elements...); err != nil {
			slog.Debug("graph: discard branch", "branch", b.Bin.Name(), "error", err)
		}
	}
	b.elements = nil
}

// Elements returns the nodes in chain order.
func (b *Branch) Elements() []media.Element {
	return append([]media.Element(nil), b.elements...)
}

// Element returns the node with the given name, or nil.
func (b *Branch) Element(name string) media.Element {
	for _, el := range b.elements {
		if el.Name() == name {
			return el
		}
	}
	return nil
}

// Finalizer returns the node that receives EOS on detach.
func (b *Branch) Finalizer() media.Element {
	if b.Spec.Finalizer != "" {
		return b.Element(b.Spec.Finalizer)
	}
	return b.elements[0]
}

// Last returns the final node of the chain.
func (b *Branch) Last() media.Element {
	return b.elements[len(b.elements)-1]
}

// NodeInfo is the live configuration of one node.
type NodeInfo struct {
	Name       string         `json:"name"`
	Factory    string         `json:"factory"`
	State      string         `json:"state"`
	Properties map[string]any `json:"properties"`
}

// Describe reads the live properties of every node.
func (b *Branch) Describe() []NodeInfo {
	out := make([]NodeInfo, 0, len(b.elements))
	for _, el := range b.elements {
		out = append(out, describeElement(el))
	}
	return out
}

func describeElement(el media.Element) NodeInfo {
	info := NodeInfo{
		Name:       el.Name(),
		Factory:    el.Factory(),
		State:      el.CurrentState().String(),
		Properties: make(map[string]any),
	}
	for _, name := range el.Properties() {
		if v, err := el.Property(name); err == nil {
			info.Properties[name] = v
		}
	}
	return info
}
