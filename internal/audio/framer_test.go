package audio

import "testing"

func TestFramer_ExactFrames(t *testing.T) {
	var frames [][]float32
	f := NewFramer(4, func(frame []float32) {
		cp := make([]float32, len(frame))
		copy(cp, frame)
		frames = append(frames, cp)
	})

	f.Write([]float32{1, 2, 3})
	if len(frames) != 0 {
		t.Fatalf("emitted %d frames before a full frame accumulated", len(frames))
	}
	f.Write([]float32{4, 5, 6, 7, 8, 9})

	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	want := [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}}
	for i, frame := range frames {
		for j := range frame {
			if frame[j] != want[i][j] {
				t.Errorf("frame[%d][%d] = %v, want %v", i, j, frame[j], want[i][j])
			}
		}
	}
	if f.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", f.Pending())
	}
}

func TestFramer_LargeWriteEmitsAll(t *testing.T) {
	count := 0
	f := NewFramer(512, func([]float32) { count++ })
	f.Write(make([]float32, 512*3+100))
	if count != 3 {
		t.Errorf("emitted %d frames, want 3", count)
	}
	if f.Pending() != 100 {
		t.Errorf("Pending() = %d, want 100", f.Pending())
	}
}

func TestFramer_ResetDropsPartial(t *testing.T) {
	count := 0
	f := NewFramer(4, func([]float32) { count++ })
	f.Write([]float32{1, 2, 3})
	f.Reset()
	f.Write([]float32{4})
	if count != 0 || f.Pending() != 1 {
		t.Errorf("count = %d, Pending = %d after reset", count, f.Pending())
	}
}
