// Package prompt builds per-chunk analysis prompts and parses the model
// replies into scene records.
package prompt

import (
	"fmt"
	"strings"

	"montazh/credits"
)

// Scene is one parsed scene block from a model reply.
type Scene struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	PlanType    string `json:"plan_type"`
	Description string `json:"visual_description"`
	Dialogues   string `json:"dialogue"`
}

// BuildInput describes one chunk for the prompt builder.
type BuildInput struct {
	ChunkIndex  int
	TotalChunks int
	Segments    []credits.Segment // merged scenes intersected with the chunk window
	Registry    string            // formatted character registry snapshot
}

// Build produces the analysis prompt for one chunk. The scene boundaries
// are listed verbatim so the model can repeat them back exactly.
func Build(in BuildInput) string {
	var b strings.Builder

	first := in.ChunkIndex == 0
	last := in.ChunkIndex == in.TotalChunks-1

	b.WriteString("Ты — монтажёр, составляющий монтажный лист фильма.\n")
	fmt.Fprintf(&b, "Это фрагмент %d из %d.\n", in.ChunkIndex+1, in.TotalChunks)
	if first {
		b.WriteString("Это первый фрагмент: он может начинаться с логотипа и начальных титров.\n")
	}
	if last {
		b.WriteString("Это последний фрагмент: он может заканчиваться финальными титрами.\n")
	}
	b.WriteString("\n")

	if in.Registry != "" {
		b.WriteString("Известные персонажи (используй именно эти имена):\n")
		b.WriteString(in.Registry)
		b.WriteString("\n\n")
	}

	b.WriteString("Опиши каждую сцену отдельным блоком в заданном порядке. Формат блока:\n")
	b.WriteString("**начало - конец**\n")
	b.WriteString("План: (крупность: Кр., Ср., Общ., Дет.)\n")
	b.WriteString("Содержание: (что происходит в кадре)\n")
	b.WriteString("Диалоги: (реплики с именем говорящего перед каждой; если речи нет — Музыка)\n\n")

	b.WriteString("Границы сцен (используй эти таймкоды без изменений):\n")
	for _, s := range in.Segments {
		fmt.Fprintf(&b, "%s - %s", s.StartTimecode, s.EndTimecode)
		switch s.Type {
		case credits.TypeLogo:
			b.WriteString(" (логотип)")
		case credits.TypeOpeningCredits:
			b.WriteString(" (начальные титры)")
		case credits.TypeClosingCredits:
			b.WriteString(" (финальные титры)")
		}
		b.WriteString("\n")
	}

	return b.String()
}
