package thoughts

import (
	"reflect"
	"testing"
)

func texts(records []Record) []string {
	var out []string
	for _, r := range records {
		out = append(out, r.Text)
	}
	return out
}

func TestParser_SingleFeed(t *testing.T) {
	p := NewParser()
	got := p.Feed("[bt]ask about weather[et][done]")
	if want := []string{"ask about weather"}; !reflect.DeepEqual(texts(got), want) {
		t.Errorf("thoughts = %v, want %v", texts(got), want)
	}
	if !p.Done() {
		t.Error("parser not done after [done]")
	}
}

func TestParser_DeduplicatesExactText(t *testing.T) {
	p := NewParser()
	got := p.Feed("[bt]A[et][bt]A[et][bt]B[et]")
	if want := []string{"A", "B"}; !reflect.DeepEqual(texts(got), want) {
		t.Errorf("thoughts = %v, want %v", texts(got), want)
	}
	if got[0].Ordinal != 0 || got[1].Ordinal != 1 {
		t.Errorf("ordinals = %d,%d, want 0,1", got[0].Ordinal, got[1].Ordinal)
	}
}

func TestParser_ChunkBoundaries(t *testing.T) {
	// Every split point of the same stream must yield the same two thoughts.
	stream := "[bt]A[et][bt]A[et][bt]B[et]"
	for split := 0; split <= len(stream); split++ {
		p := NewParser()
		var all []Record
		all = append(all, p.Feed(stream[:split])...)
		all = append(all, p.Feed(stream[split:])...)
		if want := []string{"A", "B"}; !reflect.DeepEqual(texts(all), want) {
			t.Errorf("split at %d: thoughts = %v, want %v", split, texts(all), want)
		}
	}
}

func TestParser_MarkerSplitMidToken(t *testing.T) {
	p := NewParser()
	if got := p.Feed("[b"); len(got) != 0 {
		t.Fatalf("premature emission: %v", texts(got))
	}
	if got := p.Feed("t]hello[e"); len(got) != 0 {
		t.Fatalf("premature emission: %v", texts(got))
	}
	got := p.Feed("t]")
	if want := []string{"hello"}; !reflect.DeepEqual(texts(got), want) {
		t.Errorf("thoughts = %v, want %v", texts(got), want)
	}
}

func TestParser_InteriorTrimmed(t *testing.T) {
	p := NewParser()
	got := p.Feed("[bt]  spaced out \n[et]")
	if len(got) != 1 || got[0].Text != "spaced out" {
		t.Errorf("thoughts = %v, want [spaced out]", texts(got))
	}
}

func TestParser_EmptyThoughtSkipped(t *testing.T) {
	p := NewParser()
	got := p.Feed("[bt]   [et][bt]real[et]")
	if want := []string{"real"}; !reflect.DeepEqual(texts(got), want) {
		t.Errorf("thoughts = %v, want %v", texts(got), want)
	}
}

func TestParser_DoneStopsFurtherFeeds(t *testing.T) {
	p := NewParser()
	p.Feed("[bt]A[et][done]")
	if got := p.Feed("[bt]B[et]"); len(got) != 0 {
		t.Errorf("feed after done emitted %v", texts(got))
	}
	if p.Count() != 1 {
		t.Errorf("Count = %d, want 1", p.Count())
	}
}

func TestParser_DoneBeforeAnyThought(t *testing.T) {
	p := NewParser()
	if got := p.Feed("[done]"); len(got) != 0 {
		t.Errorf("thoughts = %v, want none", texts(got))
	}
	if !p.Done() {
		t.Error("parser not done")
	}
}

func TestParser_OpenMarkerWaitsForCloser(t *testing.T) {
	p := NewParser()
	if got := p.Feed("[bt]still going"); len(got) != 0 {
		t.Fatalf("premature emission: %v", texts(got))
	}
	if p.Done() {
		t.Fatal("parser done without [done]")
	}
	got := p.Feed(" and going[et][done]")
	if len(got) != 1 || got[0].Text != "still going and going" {
		t.Errorf("thoughts = %v", texts(got))
	}
	if !p.Done() {
		t.Error("parser not done")
	}
}
