package services

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"quizmark/internal/models"
)

// Strategy names recorded on the batch for observability.
const (
	StrategyStrict    = "strict"
	StrategySegmented = "segmented"
	StrategyScan      = "scan"
)

var (
	reObjBoundary   = regexp.MustCompile(`\}\s*,\s*\{`)
	reBareKey       = regexp.MustCompile(`([,{]\s*)([A-Za-z_][A-Za-z0-9_.]*)(\s*:)`)
	reTrailingComma = regexp.MustCompile(`,\s*([}\]])`)
	reQuestionKey   = regexp.MustCompile(`^q\d+`)
	// One question-shaped object: opening brace, a q{n}. key, anything
	// up to a quoted correct value, closing brace. Non-greedy so adjacent
	// objects match separately even when the array is truncated.
	reQuestionObj = regexp.MustCompile(`(?s)\{\s*"?q\d+\.?"?\s*:.*?"?correct"?\s*:\s*"[^"]*"\s*,?\s*\}`)
)

type parseStrategy struct {
	name string
	fn   func(string) []models.QuestionRecord
}

// parseStrategies is the extraction cascade, in preference order. The
// first strategy yielding at least one valid record wins.
var parseStrategies = []parseStrategy{
	{StrategyStrict, parseStrict},
	{StrategySegmented, parseSegmented},
	{StrategyScan, parseScan},
}

// ParseReply converts the model's raw reply into a validated batch.
// Individual malformed entries are dropped; only a reply with zero
// usable records anywhere fails, as an answer key with no questions has
// no value to the caller.
func ParseReply(raw string) (models.ExtractionBatch, error) {
	for _, st := range parseStrategies {
		records := st.fn(raw)
		if len(records) == 0 {
			continue
		}
		for i := range records {
			records[i].Index = i + 1
		}
		return models.ExtractionBatch{Questions: records, StrategyUsed: st.name}, nil
	}
	return models.ExtractionBatch{}, &PipelineError{
		Code:     CodeNoQuestionsFound,
		Message:  "no parseable questions in model reply",
		RawReply: raw,
	}
}

// parseStrict strips code fences and parses the whole reply as one JSON
// document with a top-level questions array. Cheapest path, preserves
// the model's intended ordering.
func parseStrict(raw string) []models.QuestionRecord {
	cleaned := extractJSON(raw)
	var doc struct {
		Questions []map[string]any `json:"questions"`
	}
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil
	}
	return validateAll(doc.Questions)
}

// parseSegmented rescues replies whose document does not parse as a
// whole: it takes the substring between the questions array's outer
// brackets, splits it at boundaries between adjacent object literals,
// re-wraps each chunk into a standalone object, and parses each one
// permissively. Chunks that fail are skipped.
func parseSegmented(raw string) []models.QuestionRecord {
	keyIdx := strings.Index(raw, "questions")
	if keyIdx == -1 {
		return nil
	}
	open := strings.Index(raw[keyIdx:], "[")
	if open == -1 {
		return nil
	}
	open += keyIdx
	closeIdx := strings.LastIndex(raw, "]")
	if closeIdx <= open {
		return nil
	}
	inner := raw[open+1 : closeIdx]

	var elements []map[string]any
	for _, chunk := range reObjBoundary.Split(inner, -1) {
		chunk = strings.TrimSpace(chunk)
		chunk = strings.TrimPrefix(chunk, "{")
		chunk = strings.TrimSuffix(chunk, "}")
		obj, err := parseLenientObject("{" + chunk + "}")
		if err != nil {
			continue
		}
		elements = append(elements, obj)
	}
	return validateAll(elements)
}

// parseScan is the last resort for replies where the array boundary
// itself cannot be located, e.g. a reply truncated before the closing
// bracket. It scans the entire raw text for substrings shaped like a
// single question object and parses each match individually.
func parseScan(raw string) []models.QuestionRecord {
	var elements []map[string]any
	for _, match := range reQuestionObj.FindAllString(raw, -1) {
		obj, err := parseLenientObject(match)
		if err != nil {
			continue
		}
		elements = append(elements, obj)
	}
	return validateAll(elements)
}

// parseLenientObject parses a single object literal, tolerating unquoted
// keys and trailing commas.
func parseLenientObject(s string) (map[string]any, error) {
	repaired := reBareKey.ReplaceAllString(s, `$1"$2"$3`)
	repaired = reTrailingComma.ReplaceAllString(repaired, `$1`)
	var obj map[string]any
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func validateAll(elements []map[string]any) []models.QuestionRecord {
	var records []models.QuestionRecord
	for _, el := range elements {
		if rec, ok := validateRecord(el); ok {
			records = append(records, rec)
		}
	}
	return records
}

// validateRecord maps one raw object onto a QuestionRecord using
// key-prefix matching: the schema tolerates a model omitting the
// trailing period in "q3." or writing "A" instead of "A.".
func validateRecord(el map[string]any) (models.QuestionRecord, bool) {
	rec := models.QuestionRecord{Options: make(map[string]string, len(models.OptionLabels))}
	var correctRaw string

	for key, val := range el {
		k := strings.TrimSpace(key)
		switch {
		case reQuestionKey.MatchString(k):
			rec.Prompt = strings.TrimSpace(toString(val))
		case strings.HasPrefix(strings.ToLower(k), "correct"):
			correctRaw = strings.TrimSpace(toString(val))
		case isOptionKey(k):
			rec.Options[strings.ToUpper(k[:1])] = strings.TrimSpace(toString(val))
		}
	}

	rec.CorrectLabel = resolveCorrectLabel(correctRaw)
	if !rec.Valid() {
		return models.QuestionRecord{}, false
	}
	return rec, true
}

// isOptionKey accepts "A", "A.", "a." and the like: a single option
// letter optionally followed by punctuation, nothing else.
func isOptionKey(k string) bool {
	if k == "" {
		return false
	}
	first := unicode.ToUpper(rune(k[0]))
	if first < 'A' || first > 'D' {
		return false
	}
	rest := k[1:]
	return rest == "" || rest == "." || rest == ")"
}

// resolveCorrectLabel reduces the model's correct value to one of the
// option labels. The value must be the bare label or start with
// "<label>." verbatim; anything else means no recognized correct option
// and the renderer leaves the question unhighlighted.
func resolveCorrectLabel(v string) string {
	for _, label := range models.OptionLabels {
		if v == label || strings.HasPrefix(v, label+".") {
			return label
		}
	}
	return ""
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// extractJSON removes markdown code block formatting if present and
// narrows the text to the outermost JSON object.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		// Skip past the opening ``` and optional language identifier.
		start := 3
		if newlineIdx := strings.Index(content[start:], "\n"); newlineIdx != -1 {
			start += newlineIdx + 1
		}
		if endIdx := strings.Index(content[start:], "```"); endIdx != -1 {
			content = content[start : start+endIdx]
		} else {
			content = content[start:]
		}
	}

	content = strings.TrimSpace(content)

	if startIdx := strings.Index(content, "{"); startIdx != -1 {
		if endIdx := strings.LastIndex(content, "}"); endIdx != -1 && endIdx > startIdx {
			content = content[startIdx : endIdx+1]
		}
	}

	return strings.TrimSpace(content)
}
