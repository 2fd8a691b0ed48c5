package prompt

import (
	"encoding/json"
	"log"
	"regexp"
	"strings"
)

// Parse runs the reply parsers in order (markdown blocks, JSON,
// line-oriented fallback) and returns the first non-empty result. An
// unparseable reply is logged in full and yields an empty list, not an
// error: the chunk fails terminally upstream.
func Parse(response string) []Scene {
	for _, strategy := range []func(string) []Scene{parseMarkdown, parseJSON, parseLines} {
		if scenes := strategy(response); len(scenes) > 0 {
			return scenes
		}
	}
	log.Printf("[Parser] No scenes parsed from response:\n%s", response)
	return nil
}

var (
	timecodePairRe = regexp.MustCompile(`\*\*\s*(\d{2}:\d{2}:\d{2}:\d{2})\s*[-–]\s*(\d{2}:\d{2}:\d{2}:\d{2})\s*\*\*`)
	bareTimecodeRe = regexp.MustCompile(`(\d{2}:\d{2}:\d{2}:\d{2})\s*[-–]\s*(\d{2}:\d{2}:\d{2}:\d{2})`)
)

// parseMarkdown handles the primary reply format: blocks headed by a
// bold timecode pair with План:/Содержание:/Диалоги: fields below.
func parseMarkdown(response string) []Scene {
	headers := timecodePairRe.FindAllStringSubmatchIndex(response, -1)
	if len(headers) == 0 {
		return nil
	}

	var scenes []Scene
	for i, h := range headers {
		bodyStart := h[1]
		bodyEnd := len(response)
		if i+1 < len(headers) {
			bodyEnd = headers[i+1][0]
		}
		body := response[bodyStart:bodyEnd]

		scene := Scene{
			Start: response[h[2]:h[3]],
			End:   response[h[4]:h[5]],
		}
		fillFields(&scene, body)
		scenes = append(scenes, scene)
	}
	return scenes
}

// fillFields extracts the labelled fields from a block body.
func fillFields(scene *Scene, body string) {
	lines := strings.Split(body, "\n")
	current := ""
	for _, line := range lines {
		trimmed := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "*"))
		field, value, ok := matchField(trimmed)
		switch {
		case ok && field == "plan":
			scene.PlanType = value
			current = ""
		case ok && field == "description":
			scene.Description = value
			current = "description"
		case ok && field == "dialogues":
			scene.Dialogues = value
			current = "dialogues"
		case trimmed == "":
			current = ""
		default:
			// Continuation of a multi-line field.
			switch current {
			case "description":
				scene.Description = joinLines(scene.Description, trimmed)
			case "dialogues":
				scene.Dialogues = joinLines(scene.Dialogues, strings.TrimSpace(line))
			}
		}
	}
	scene.Dialogues = NormalizeDialogue(scene.Dialogues)
}

var fieldLabels = []struct {
	label string
	field string
}{
	{"План", "plan"},
	{"Вид", "plan"},
	{"Содержание", "description"},
	{"Диалоги/Музыка", "dialogues"},
	{"Диалоги", "dialogues"},
	{"Музыка", "dialogues"},
}

// matchField recognizes a "<label>: value" line. A label with no inline
// value still matches, with an empty value.
func matchField(line string) (field, value string, ok bool) {
	for _, fl := range fieldLabels {
		if strings.HasPrefix(line, fl.label+":") {
			v := strings.TrimSpace(strings.TrimPrefix(line, fl.label+":"))
			v = strings.TrimSpace(strings.TrimLeft(v, "*"))
			return fl.field, v, true
		}
	}
	return "", "", false
}

func joinLines(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "\n" + next
}

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\[.*?\\])\\s*```")

type jsonScene struct {
	Start          string `json:"start"`
	End            string `json:"end"`
	PlanType       string `json:"plan_type"`
	VisualDesc     string `json:"visual_description"`
	ContentSummary string `json:"content_summary"`
	Dialogue       string `json:"dialogue"`
}

// parseJSON accepts a fenced json block or a raw JSON array.
func parseJSON(response string) []Scene {
	payload := ""
	if m := fencedJSONRe.FindStringSubmatch(response); m != nil {
		payload = m[1]
	} else {
		trimmed := strings.TrimSpace(response)
		if strings.HasPrefix(trimmed, "[") {
			payload = trimmed
		}
	}
	if payload == "" {
		return nil
	}

	var raw []jsonScene
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil
	}

	var scenes []Scene
	for _, r := range raw {
		desc := r.VisualDesc
		if desc == "" {
			desc = r.ContentSummary
		}
		scenes = append(scenes, Scene{
			Start:       r.Start,
			End:         r.End,
			PlanType:    r.PlanType,
			Description: desc,
			Dialogues:   NormalizeDialogue(r.Dialogue),
		})
	}
	return scenes
}

// parseLines is the last-resort parser: any line carrying a bare
// timecode pair opens a scene, labelled lines below fill its fields.
func parseLines(response string) []Scene {
	var scenes []Scene
	var current *Scene

	flush := func() {
		if current != nil {
			current.Dialogues = NormalizeDialogue(current.Dialogues)
			scenes = append(scenes, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(response, "\n") {
		if m := bareTimecodeRe.FindStringSubmatch(line); m != nil {
			flush()
			current = &Scene{Start: m[1], End: m[2]}
			continue
		}
		if current == nil {
			continue
		}
		trimmed := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "*"))
		field, value, ok := matchField(trimmed)
		if !ok || value == "" {
			continue
		}
		switch field {
		case "plan":
			current.PlanType = value
		case "description":
			current.Description = value
		case "dialogues":
			current.Dialogues = value
		}
	}
	flush()
	return scenes
}
