// Package history keeps the sliding window of frames a temporal noise
// reduction pass reads from.
//
// A Chain is a plain value. Every operation returns the next chain together
// with the frames that left it, so the caller can apply hardware changes first
// and commit the new window only when they succeed.
package history

import "github.com/smazurov/memscaler/internal/framepool"

// Chain is the per-channel frame window.
type Chain struct {
	// Next is the geometry the next submission inherits for fields it leaves unset.
	Next *framepool.Geometry
	// Current is the frame being (or last) scaled.
	Current *framepool.Frame
	// Previous1 is one frame (or field) back.
	Previous1 *framepool.Frame
	// Previous2 is two fields back; interlaced content only.
	Previous2 *framepool.Frame
}

// Refs are the history frames the engine reads for one job.
type Refs struct {
	Previous1 *framepool.Frame
	Previous2 *framepool.Frame
}

// Advance makes f the current frame. Current always moves to Previous1; the
// old Previous1 moves to Previous2 only when f is interlaced, otherwise both
// old history frames leave the chain.
func (c Chain) Advance(f *framepool.Frame) (Chain, []*framepool.Frame) {
	var evicted []*framepool.Frame
	next := c

	if f.Input.Interlaced() {
		evicted = appendFrame(evicted, c.Previous2)
		next.Previous2 = c.Previous1
	} else {
		evicted = appendFrame(evicted, c.Previous1, c.Previous2)
		next.Previous2 = nil
	}
	next.Previous1 = c.Current
	next.Current = f

	g := f.Geometry
	next.Next = &g
	return next, evicted
}

// References selects the history frames the engine should read for Current.
// Previous2 is only used when Current's polarity differs from Previous1 and
// matches Previous2.
func (c Chain) References(temporal bool) Refs {
	if !temporal || c.Current == nil || c.Previous1 == nil {
		return Refs{}
	}

	refs := Refs{Previous1: c.Previous1}
	if !c.Current.Input.Interlaced() || c.Previous2 == nil {
		return refs
	}

	field := c.Current.Input.Field
	if field != c.Previous1.Input.Field && field == c.Previous2.Input.Field {
		refs.Previous2 = c.Previous2
	}
	return refs
}

// Retire removes the frames that aged out once Current has been scaled.
// With temporal filtering Previous2 always ages out, and Previous1 too for
// progressive content; Current stays to become the next job's Previous1.
// Without temporal filtering everything ages out.
func (c Chain) Retire(temporal bool) (Chain, []*framepool.Frame) {
	next := c
	if !temporal {
		next.Current, next.Previous1, next.Previous2 = nil, nil, nil
		return next, appendFrame(nil, c.Current, c.Previous1, c.Previous2)
	}

	retired := appendFrame(nil, c.Previous2)
	next.Previous2 = nil
	if c.Current == nil || !c.Current.Input.Interlaced() {
		retired = appendFrame(retired, c.Previous1)
		next.Previous1 = nil
	}
	return next, retired
}

// Drain empties the window, keeping only the Next template.
func (c Chain) Drain() (Chain, []*framepool.Frame) {
	return Chain{Next: c.Next}, appendFrame(nil, c.Current, c.Previous1, c.Previous2)
}

// Retained returns the number of history frames held besides Current.
func (c Chain) Retained() int {
	n := 0
	if c.Previous1 != nil {
		n++
	}
	if c.Previous2 != nil {
		n++
	}
	return n
}

// Frames returns every frame in the window, Current first.
func (c Chain) Frames() []*framepool.Frame {
	return appendFrame(nil, c.Current, c.Previous1, c.Previous2)
}

// Inherit fills the unset parts of g from the Next template. A window is only
// inherited together with the raster it belongs to.
func (c Chain) Inherit(g framepool.Geometry) framepool.Geometry {
	if c.Next == nil {
		return g
	}
	if g.Input == (framepool.VideoInfo{}) {
		g.Input = c.Next.Input
		if g.Crop.IsZero() {
			g.Crop = c.Next.Crop
		}
	}
	if g.Output == (framepool.VideoInfo{}) {
		g.Output = c.Next.Output
		if g.Active.IsZero() {
			g.Active = c.Next.Active
		}
	}
	return g
}

func appendFrame(dst []*framepool.Frame, frames ...*framepool.Frame) []*framepool.Frame {
	for _, f := range frames {
		if f != nil {
			dst = append(dst, f)
		}
	}
	return dst
}
