package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const assessmentDraftSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["title", "questions"],
  "properties": {
    "title": {"type": "string", "minLength": 1, "maxLength": 255},
    "description": {"type": "string"},
    "category": {"type": "string", "maxLength": 64},
    "questions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["type", "prompt", "points"],
        "properties": {
          "type": {"enum": ["multiple_choice", "true_false", "short_answer"]},
          "prompt": {"type": "string", "minLength": 1},
          "points": {"type": "number", "minimum": 0},
          "options": {"type": "array", "items": {"type": "string", "minLength": 1}},
          "correct_index": {"type": "integer", "minimum": 0},
          "correct": {"enum": ["True", "False"]},
          "reference_answer": {"type": "string"}
        },
        "allOf": [
          {
            "if": {"properties": {"type": {"const": "multiple_choice"}}},
            "then": {"required": ["options", "correct_index"], "properties": {"options": {"minItems": 2}}}
          },
          {
            "if": {"properties": {"type": {"const": "true_false"}}},
            "then": {"required": ["correct"]}
          }
        ]
      }
    }
  }
}`

const gradeDraftSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["score", "feedback"],
  "properties": {
    "score": {"type": "number", "minimum": 0},
    "feedback": {"type": "string"},
    "rationale": {"type": "string"}
  }
}`

const (
	assessmentSchemaURL = "https://gema.local/schemas/assessment_draft.json"
	gradeSchemaURL      = "https://gema.local/schemas/grade_draft.json"
)

var (
	schemaOnce       sync.Once
	assessmentSchema *jsonschema.Schema
	gradeSchema      *jsonschema.Schema
	schemaErr        error
)

func compileSchemas() error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft7
		if err := compiler.AddResource(assessmentSchemaURL, strings.NewReader(assessmentDraftSchema)); err != nil {
			schemaErr = err
			return
		}
		if err := compiler.AddResource(gradeSchemaURL, strings.NewReader(gradeDraftSchema)); err != nil {
			schemaErr = err
			return
		}
		if assessmentSchema, schemaErr = compiler.Compile(assessmentSchemaURL); schemaErr != nil {
			return
		}
		gradeSchema, schemaErr = compiler.Compile(gradeSchemaURL)
	})
	return schemaErr
}

// ParseAssessmentDraft validates model output against the draft schema and
// decodes it. Multiple-choice indices are range checked here as well.
func ParseAssessmentDraft(content []byte) (AssessmentDraft, error) {
	if err := validateAgainst(content, func() *jsonschema.Schema { return assessmentSchema }); err != nil {
		return AssessmentDraft{}, err
	}

	var draft AssessmentDraft
	if err := json.Unmarshal(content, &draft); err != nil {
		return AssessmentDraft{}, fmt.Errorf("decode assessment draft: %w", err)
	}
	for i, question := range draft.Questions {
		if question.Type == "multiple_choice" && question.CorrectIndex != nil && *question.CorrectIndex >= len(question.Options) {
			return AssessmentDraft{}, fmt.Errorf("questions[%d]: correct_index out of range", i)
		}
	}
	return draft, nil
}

// ParseGradeDraft validates and decodes a grade draft, clamping the score to
// the attempt's points possible.
func ParseGradeDraft(content []byte, maxPoints float64) (GradeDraft, error) {
	if err := validateAgainst(content, func() *jsonschema.Schema { return gradeSchema }); err != nil {
		return GradeDraft{}, err
	}

	var draft GradeDraft
	if err := json.Unmarshal(content, &draft); err != nil {
		return GradeDraft{}, fmt.Errorf("decode grade draft: %w", err)
	}
	if draft.Score > maxPoints {
		draft.Score = maxPoints
	}
	return draft, nil
}

func validateAgainst(content []byte, schema func() *jsonschema.Schema) error {
	if err := compileSchemas(); err != nil {
		return fmt.Errorf("compile draft schema: %w", err)
	}

	var payload interface{}
	if err := json.Unmarshal(content, &payload); err != nil {
		return fmt.Errorf("parse draft json: %w", err)
	}
	if err := schema().Validate(payload); err != nil {
		return fmt.Errorf("draft does not match schema: %w", err)
	}
	return nil
}
