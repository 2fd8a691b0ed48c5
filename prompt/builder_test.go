package prompt

import (
	"strings"
	"testing"

	"montazh/credits"
)

func TestBuildContainsBoundariesVerbatim(t *testing.T) {
	in := BuildInput{
		ChunkIndex:  1,
		TotalChunks: 3,
		Segments: []credits.Segment{
			{StartTimecode: "00:03:00:00", EndTimecode: "00:03:12:08", Type: credits.TypeRegular},
			{StartTimecode: "00:03:12:08", EndTimecode: "00:04:00:00", Type: credits.TypeRegular},
		},
		Registry: "ГАЛЯ\nЮСЕФ",
	}
	p := Build(in)

	for _, want := range []string{
		"00:03:00:00 - 00:03:12:08",
		"00:03:12:08 - 00:04:00:00",
		"фрагмент 2 из 3",
		"ГАЛЯ",
		"ЮСЕФ",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	// A middle chunk carries neither the first- nor last-chunk notes.
	if strings.Contains(p, "первый фрагмент") || strings.Contains(p, "последний фрагмент") {
		t.Error("middle chunk prompt carries first/last notes")
	}
}

func TestBuildFirstAndLastFlags(t *testing.T) {
	first := Build(BuildInput{ChunkIndex: 0, TotalChunks: 2})
	if !strings.Contains(first, "первый фрагмент") {
		t.Error("first chunk prompt missing opening note")
	}

	last := Build(BuildInput{ChunkIndex: 1, TotalChunks: 2})
	if !strings.Contains(last, "последний фрагмент") {
		t.Error("last chunk prompt missing closing note")
	}

	single := Build(BuildInput{ChunkIndex: 0, TotalChunks: 1})
	if !strings.Contains(single, "первый фрагмент") || !strings.Contains(single, "последний фрагмент") {
		t.Error("single chunk prompt should carry both notes")
	}
}

func TestBuildCreditSegmentAnnotations(t *testing.T) {
	p := Build(BuildInput{
		ChunkIndex:  0,
		TotalChunks: 1,
		Segments: []credits.Segment{
			{StartTimecode: "00:00:00:00", EndTimecode: "00:00:05:00", Type: credits.TypeLogo},
			{StartTimecode: "00:00:05:00", EndTimecode: "00:01:00:00", Type: credits.TypeOpeningCredits},
			{StartTimecode: "00:01:00:00", EndTimecode: "00:02:00:00", Type: credits.TypeRegular},
		},
	})
	if !strings.Contains(p, "(логотип)") || !strings.Contains(p, "(начальные титры)") {
		t.Errorf("prompt missing credits annotations:\n%s", p)
	}
}
