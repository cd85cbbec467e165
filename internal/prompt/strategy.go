package prompt

import (
	"fmt"
	"strings"
	"unicode"
)

// Strategy identifies how a prompt was produced.
type Strategy string

const (
	StrategyTemplate       Strategy = "template"
	StrategyCodeGeneration Strategy = "code_generation"
	StrategyAnalysis       Strategy = "analysis"
	StrategyChainOfThought Strategy = "chain_of_thought"
)

var (
	codeKeywords     = []string{"code", "programming", "develop"}
	analysisKeywords = []string{"analysis", "evaluate", "review"}
)

// DefaultLanguage and DefaultFrameworks apply when nothing else can be inferred.
var (
	DefaultLanguage   = "typescript"
	DefaultFrameworks = []string{"NestJS", "Prisma"}
)

// ChainOfThoughtSteps is the fixed reasoning scaffold of generic prompts.
var ChainOfThoughtSteps = []string{
	"1. Understand the goal of the task",
	"2. Identify the available input parameters",
	"3. Decide how to approach the task in a structured way",
	"4. Carry out the task following best practices",
	"5. Check that the result meets the expected criteria",
}

// Classify picks a generic strategy from keywords in the task description.
func Classify(description string) Strategy {
	d := strings.ToLower(description)
	for _, kw := range codeKeywords {
		if strings.Contains(d, kw) {
			return StrategyCodeGeneration
		}
	}
	for _, kw := range analysisKeywords {
		if strings.Contains(d, kw) {
			return StrategyAnalysis
		}
	}
	return StrategyChainOfThought
}

// BuildGeneric builds a prompt without a template, dispatching on Classify.
func BuildGeneric(s Subject, input map[string]any) (string, Strategy) {
	input = orEmpty(input)
	switch strategy := Classify(s.Description); strategy {
	case StrategyCodeGeneration:
		return CodeGeneration(s.Description, InferLanguage(s, input),
			strings.Join(InferFrameworks(s, input), ", "), toJSON(input, false)), strategy
	case StrategyAnalysis:
		snippet, ok := input["codeToAnalyze"].(string)
		if !ok || snippet == "" {
			snippet = toJSON(input, false)
		}
		return Analysis(snippet, "all"), strategy
	default:
		finalAnswer := "Provide a clear, structured result."
		if s.ExpectedOutput != "" {
			finalAnswer = "The result should be: " + s.ExpectedOutput
		}
		reasoning := fmt.Sprintf("This task involves: %s.\n\nThe input parameters are: %s",
			s.Description, toJSON(input, true))
		return ChainOfThought(s.Description, ChainOfThoughtSteps, reasoning, finalAnswer), StrategyChainOfThought
	}
}

// CodeGeneration renders the code-generation skeleton.
func CodeGeneration(taskText, language, frameworks, requirements string) string {
	return BuildFromTemplate(Skeleton("code-generation"), map[string]any{
		"task":         taskText,
		"language":     language,
		"frameworks":   frameworks,
		"requirements": requirements,
	})
}

// Analysis renders the code-analysis skeleton.
func Analysis(snippet, analysisType string) string {
	return BuildFromTemplate(Skeleton("code-analysis"), map[string]any{
		"codeSnippet":  snippet,
		"analysisType": analysisType,
	})
}

// ChainOfThought renders the chain-of-thought skeleton.
func ChainOfThought(question string, steps []string, reasoning, finalAnswer string) string {
	return BuildFromTemplate(Skeleton("chain-of-thought"), map[string]any{
		"question":    question,
		"steps":       strings.Join(steps, "\n"),
		"reasoning":   reasoning,
		"finalAnswer": finalAnswer,
	})
}

var languageHints = []struct {
	words    []string
	language string
}{
	{[]string{"typescript", "ts"}, "typescript"},
	{[]string{"javascript", "js"}, "javascript"},
	{[]string{"python"}, "python"},
	{[]string{"java"}, "java"},
	{[]string{"c#", "csharp"}, "csharp"},
	{[]string{"rust"}, "rust"},
	{[]string{"go", "golang"}, "go"},
}

// InferLanguage looks at input.language, then context.language, then the description.
func InferLanguage(s Subject, input map[string]any) string {
	if lang, ok := input["language"].(string); ok && lang != "" {
		return lang
	}
	if lang, ok := s.Context["language"].(string); ok && lang != "" {
		return lang
	}
	words := wordSet(s.Description)
	for _, h := range languageHints {
		for _, w := range h.words {
			if words[w] {
				return h.language
			}
		}
	}
	return DefaultLanguage
}

var frameworkHints = []struct {
	word      string
	framework string
}{
	{"nestjs", "NestJS"},
	{"react", "React"},
	{"next", "Next.js"},
	{"express", "Express"},
	{"prisma", "Prisma"},
	{"django", "Django"},
	{"flask", "Flask"},
}

// InferFrameworks looks at input.frameworks, then context.frameworks, then the description.
func InferFrameworks(s Subject, input map[string]any) []string {
	if fw := frameworkList(input["frameworks"]); len(fw) > 0 {
		return fw
	}
	if fw := frameworkList(s.Context["frameworks"]); len(fw) > 0 {
		return fw
	}
	words := wordSet(s.Description)
	var found []string
	for _, h := range frameworkHints {
		if words[h.word] {
			found = append(found, h.framework)
		}
	}
	if len(found) == 0 {
		return append([]string(nil), DefaultFrameworks...)
	}
	return found
}

func frameworkList(v any) []string {
	switch x := v.(type) {
	case string:
		if x != "" {
			return []string{x}
		}
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, Stringify(item))
		}
		return out
	}
	return nil
}

// wordSet splits text into lower-cased words. '#' counts as a letter so "c#" survives.
func wordSet(text string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '#'
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
