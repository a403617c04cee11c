package ocr

import (
	"github.com/go-playground/validator/v10"
)

// DocumentAnalysis is the fixed per-page analysis shape. The same structure
// is sent to the provider as a response schema and re-validated here after
// decoding; a response that fails validation counts as a provider failure.
type DocumentAnalysis struct {
	Transcription     string            `json:"transcription"`
	NamedEntities     []NamedEntity     `json:"namedEntities" validate:"dive"`
	Timeline          []TimelineEvent   `json:"timeline" validate:"dive"`
	TopicTags         []string          `json:"topicTags"`
	SentimentAnalysis SentimentAnalysis `json:"sentimentAnalysis"`
	Vocabulary        []VocabularyEntry `json:"vocabulary" validate:"dive"`
	Locations         []LocationMention `json:"locations" validate:"dive"`
}

type NamedEntity struct {
	Text       string `json:"text" validate:"required"`
	Type       string `json:"type" validate:"oneof=PERSON LOCATION DATE ORG EVENT MILITARY_UNIT"`
	StartIndex int    `json:"startIndex" validate:"min=0"`
	EndIndex   int    `json:"endIndex" validate:"min=0"`
}

type TimelineEvent struct {
	Date           string   `json:"date" validate:"required"`
	Description    string   `json:"description" validate:"required"`
	LinkedEntities []string `json:"linkedEntities,omitempty"`
}

type SentimentAnalysis struct {
	Sentiment  string   `json:"sentiment" validate:"oneof=positive neutral negative"`
	Emotions   []string `json:"emotions,omitempty"`
	Confidence float64  `json:"confidence" validate:"min=0,max=1"`
}

type VocabularyEntry struct {
	Term            string `json:"term" validate:"required"`
	Definition      string `json:"definition" validate:"required"`
	ContextSentence string `json:"contextSentence,omitempty"`
}

type LocationMention struct {
	Name               string      `json:"name" validate:"required"`
	Coordinates        Coordinates `json:"coordinates"`
	RelatedTextIndices [][2]int    `json:"relatedTextIndices"`
}

type Coordinates struct {
	Lat float64 `json:"lat" validate:"min=-90,max=90"`
	Lon float64 `json:"lon" validate:"min=-180,max=180"`
}

var validate = validator.New()

// Validate checks a decoded analysis against the fixed schema constraints.
func (a *DocumentAnalysis) Validate() error {
	return validate.Struct(a)
}

// ResponseSchema is the same shape expressed in the provider's schema dialect
// (an OpenAPI subset), constraining structured generation server-side.
func ResponseSchema() map[string]any {
	span := map[string]any{
		"type":  "ARRAY",
		"items": map[string]any{"type": "INTEGER"},
	}
	return map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"transcription": map[string]any{
				"type":        "STRING",
				"description": "The full transcribed text from the handwritten document.",
			},
			"namedEntities": map[string]any{
				"type": "ARRAY",
				"items": map[string]any{
					"type": "OBJECT",
					"properties": map[string]any{
						"text":       map[string]any{"type": "STRING"},
						"type":       map[string]any{"type": "STRING", "enum": []string{"PERSON", "LOCATION", "DATE", "ORG", "EVENT", "MILITARY_UNIT"}},
						"startIndex": map[string]any{"type": "INTEGER"},
						"endIndex":   map[string]any{"type": "INTEGER"},
					},
					"required": []string{"text", "type", "startIndex", "endIndex"},
				},
			},
			"timeline": map[string]any{
				"type": "ARRAY",
				"items": map[string]any{
					"type": "OBJECT",
					"properties": map[string]any{
						"date":           map[string]any{"type": "STRING", "description": "ISO 8601 date of the event, e.g. '1944-06-06'."},
						"description":    map[string]any{"type": "STRING"},
						"linkedEntities": map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}},
					},
					"required": []string{"date", "description"},
				},
			},
			"topicTags": map[string]any{
				"type":  "ARRAY",
				"items": map[string]any{"type": "STRING"},
			},
			"sentimentAnalysis": map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"sentiment":  map[string]any{"type": "STRING", "enum": []string{"positive", "neutral", "negative"}},
					"emotions":   map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}},
					"confidence": map[string]any{"type": "NUMBER"},
				},
				"required": []string{"sentiment", "confidence"},
			},
			"vocabulary": map[string]any{
				"type": "ARRAY",
				"items": map[string]any{
					"type": "OBJECT",
					"properties": map[string]any{
						"term":            map[string]any{"type": "STRING"},
						"definition":      map[string]any{"type": "STRING"},
						"contextSentence": map[string]any{"type": "STRING"},
					},
					"required": []string{"term", "definition"},
				},
			},
			"locations": map[string]any{
				"type": "ARRAY",
				"items": map[string]any{
					"type": "OBJECT",
					"properties": map[string]any{
						"name": map[string]any{"type": "STRING"},
						"coordinates": map[string]any{
							"type": "OBJECT",
							"properties": map[string]any{
								"lat": map[string]any{"type": "NUMBER"},
								"lon": map[string]any{"type": "NUMBER"},
							},
							"required": []string{"lat", "lon"},
						},
						"relatedTextIndices": map[string]any{"type": "ARRAY", "items": span},
					},
					"required": []string{"name", "coordinates", "relatedTextIndices"},
				},
			},
		},
		"required": []string{"transcription", "namedEntities", "timeline", "topicTags", "sentimentAnalysis", "vocabulary", "locations"},
	}
}
