package history

import (
	"testing"

	"github.com/smazurov/memscaler/internal/framepool"
)

func frame(scan framepool.ScanType, field framepool.FieldType) *framepool.Frame {
	return &framepool.Frame{
		Geometry: framepool.Geometry{
			Input:  framepool.VideoInfo{Width: 720, Height: 576, Scan: scan, Field: field},
			Output: framepool.VideoInfo{Width: 360, Height: 288, Scan: framepool.Progressive},
		},
	}
}

func progressive() *framepool.Frame {
	return frame(framepool.Progressive, "")
}

func TestAdvanceProgressiveNeverFillsPrevious2(t *testing.T) {
	var c Chain
	frames := []*framepool.Frame{progressive(), progressive(), progressive(), progressive()}

	for i, f := range frames {
		var evicted []*framepool.Frame
		c, evicted = c.Advance(f)
		if c.Previous2 != nil {
			t.Fatalf("step %d: progressive advance populated Previous2", i)
		}
		if c.Current != f {
			t.Fatalf("step %d: Current not updated", i)
		}
		if i > 0 && c.Previous1 != frames[i-1] {
			t.Fatalf("step %d: Previous1 is not the prior frame", i)
		}
		if i >= 2 {
			if len(evicted) != 1 || evicted[0] != frames[i-2] {
				t.Fatalf("step %d: expected frame %d evicted, got %d frames", i, i-2, len(evicted))
			}
		}
	}
}

func TestAdvanceInterlacedShiftsPrevious2(t *testing.T) {
	a := frame(framepool.Interlaced, framepool.TopField)
	b := frame(framepool.Interlaced, framepool.BottomField)
	c3 := frame(framepool.Interlaced, framepool.TopField)

	var c Chain
	c, _ = c.Advance(a)
	c, _ = c.Advance(b)
	if c.Previous2 != nil {
		t.Fatal("Previous2 populated after only one prior submission")
	}

	c, evicted := c.Advance(c3)
	if len(evicted) != 0 {
		t.Fatalf("unexpected eviction: %d", len(evicted))
	}
	if c.Previous1 != b || c.Previous2 != a {
		t.Fatal("interlaced advance did not shift Previous1 into Previous2")
	}
	if c.Retained() != 2 {
		t.Errorf("Retained() = %d, want 2", c.Retained())
	}
}

func TestAdvanceProgressiveAfterInterlacedEvictsHistory(t *testing.T) {
	a := frame(framepool.Interlaced, framepool.TopField)
	b := frame(framepool.Interlaced, framepool.BottomField)
	c3 := frame(framepool.Interlaced, framepool.TopField)
	p := progressive()

	var c Chain
	c, _ = c.Advance(a)
	c, _ = c.Advance(b)
	c, _ = c.Advance(c3)

	c, evicted := c.Advance(p)
	if len(evicted) != 2 || evicted[0] != b || evicted[1] != a {
		t.Fatalf("expected b and a evicted, got %v", evicted)
	}
	if c.Previous1 != c3 || c.Previous2 != nil {
		t.Fatal("progressive advance left stale history")
	}
}

func TestReferences(t *testing.T) {
	top1 := frame(framepool.Interlaced, framepool.TopField)
	bottom := frame(framepool.Interlaced, framepool.BottomField)
	top2 := frame(framepool.Interlaced, framepool.TopField)
	top3 := frame(framepool.Interlaced, framepool.TopField)

	tests := []struct {
		name     string
		chain    Chain
		temporal bool
		want     Refs
	}{
		{"tnr off", Chain{Current: top2, Previous1: bottom, Previous2: top1}, false, Refs{}},
		{"no history", Chain{Current: top1}, true, Refs{}},
		{"progressive", Chain{Current: progressive(), Previous1: top1}, true, Refs{Previous1: top1}},
		{"opposite then same parity", Chain{Current: top2, Previous1: bottom, Previous2: top1}, true, Refs{Previous1: bottom, Previous2: top1}},
		{"same parity as previous1", Chain{Current: top3, Previous1: top2, Previous2: bottom}, true, Refs{Previous1: top2}},
		{"no previous2", Chain{Current: top2, Previous1: bottom}, true, Refs{Previous1: bottom}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.chain.References(tt.temporal)
			if got != tt.want {
				t.Errorf("References() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRetire(t *testing.T) {
	a := progressive()
	b := progressive()

	t.Run("progressive with tnr retires previous1", func(t *testing.T) {
		c := Chain{Current: b, Previous1: a}
		next, retired := c.Retire(true)
		if len(retired) != 1 || retired[0] != a {
			t.Fatalf("retired = %v, want [a]", retired)
		}
		if next.Current != b || next.Previous1 != nil {
			t.Fatal("Current must stay for the next submission")
		}
	})

	t.Run("interlaced with tnr retires previous2 only", func(t *testing.T) {
		x := frame(framepool.Interlaced, framepool.TopField)
		y := frame(framepool.Interlaced, framepool.BottomField)
		z := frame(framepool.Interlaced, framepool.TopField)
		c := Chain{Current: z, Previous1: y, Previous2: x}
		next, retired := c.Retire(true)
		if len(retired) != 1 || retired[0] != x {
			t.Fatalf("retired = %v, want [x]", retired)
		}
		if next.Current != z || next.Previous1 != y || next.Previous2 != nil {
			t.Fatal("unexpected chain after interlaced retire")
		}
	})

	t.Run("no tnr retires everything", func(t *testing.T) {
		c := Chain{Current: b, Previous1: a}
		next, retired := c.Retire(false)
		if len(retired) != 2 {
			t.Fatalf("retired %d frames, want 2", len(retired))
		}
		if len(next.Frames()) != 0 {
			t.Fatal("chain not empty")
		}
	})
}

func TestDrainKeepsTemplate(t *testing.T) {
	var c Chain
	a := progressive()
	c, _ = c.Advance(a)

	next, drained := c.Drain()
	if len(drained) != 1 || drained[0] != a {
		t.Fatalf("drained = %v", drained)
	}
	if next.Next == nil || next.Next.Input.Width != 720 {
		t.Fatal("Drain must keep the Next template")
	}
	if len(next.Frames()) != 0 {
		t.Fatal("Drain left frames behind")
	}
}

func TestInherit(t *testing.T) {
	var c Chain
	a := progressive()
	a.Crop = framepool.Window{Width: 700, Height: 500}
	c, _ = c.Advance(a)

	got := c.Inherit(framepool.Geometry{})
	if got.Input != a.Input || got.Output != a.Output || got.Crop != a.Crop {
		t.Errorf("Inherit() = %+v", got)
	}

	// A new input raster must not inherit the old crop.
	in := framepool.VideoInfo{Width: 320, Height: 240, Scan: framepool.Progressive}
	got = c.Inherit(framepool.Geometry{Input: in})
	if got.Input != in || !got.Crop.IsZero() {
		t.Errorf("Inherit() with new input = %+v", got)
	}
	if got.Output != a.Output {
		t.Error("output not inherited")
	}
}
