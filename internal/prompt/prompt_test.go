package prompt

import (
	"strings"
	"testing"
)

func TestBuildFromTemplate(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		vars map[string]any
		want string
	}{
		{"simple", "Hello {{name}}", map[string]any{"name": "World"}, "Hello World"},
		{"unresolved kept", "Hello {{name}} from {{place}}", map[string]any{"name": "World"}, "Hello World from {{place}}"},
		{"repeated", "{{x}}-{{x}}", map[string]any{"x": "a"}, "a-a"},
		{"number", "n={{n}}", map[string]any{"n": float64(3)}, "n=3"},
		{"bool", "{{ok}}", map[string]any{"ok": true}, "true"},
		{"nil", "{{v}}", map[string]any{"v": nil}, "null"},
		{"composite", "{{v}}", map[string]any{"v": map[string]any{"a": 1}}, `{"a":1}`},
		{"regex chars in key", "{{a.b}}", map[string]any{"a.b": "ok"}, "ok"},
		{"no vars", "plain", nil, "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildFromTemplate(tt.tmpl, tt.vars); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVariablesTaskFieldsWin(t *testing.T) {
	s := Subject{ID: "t1", Description: "desc", ExpectedOutput: "out", Context: map[string]any{"k": "v"}}
	vars := Variables(s, map[string]any{"taskDescription": "spoofed", "extra": 1})

	if vars["taskDescription"] != "desc" {
		t.Errorf("taskDescription = %v", vars["taskDescription"])
	}
	if vars["taskId"] != "t1" || vars["expectedOutput"] != "out" {
		t.Errorf("unexpected vars %v", vars)
	}
	if vars["context"] != `{"k":"v"}` {
		t.Errorf("context = %v", vars["context"])
	}
	if vars["extra"] != 1 {
		t.Errorf("input values should be kept")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		desc string
		want Strategy
	}{
		{"Write code for a login form", StrategyCodeGeneration},
		{"PROGRAMMING exercise", StrategyCodeGeneration},
		{"Develop an API", StrategyCodeGeneration},
		{"Performance analysis of the service", StrategyAnalysis},
		{"Evaluate this proposal", StrategyAnalysis},
		{"Review the pull request", StrategyAnalysis},
		{"Review this code", StrategyCodeGeneration},
		{"Generate a greeting", StrategyChainOfThought},
	}
	for _, tt := range tests {
		if got := Classify(tt.desc); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.desc, got, tt.want)
		}
	}
}

func TestInferLanguage(t *testing.T) {
	tests := []struct {
		name  string
		s     Subject
		input map[string]any
		want  string
	}{
		{"input wins", Subject{Description: "python code", Context: map[string]any{"language": "rust"}}, map[string]any{"language": "kotlin"}, "kotlin"},
		{"context next", Subject{Description: "python code", Context: map[string]any{"language": "rust"}}, nil, "rust"},
		{"description", Subject{Description: "Write Python code"}, nil, "python"},
		{"javascript before java", Subject{Description: "javascript code"}, nil, "javascript"},
		{"short token", Subject{Description: "develop a Go service"}, nil, "go"},
		{"c sharp", Subject{Description: "C# code"}, nil, "csharp"},
		{"no substring match", Subject{Description: "develop a good trusted algorithm"}, nil, DefaultLanguage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferLanguage(tt.s, orEmpty(tt.input)); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInferFrameworks(t *testing.T) {
	got := InferFrameworks(Subject{Description: "code"}, map[string]any{"frameworks": []any{"Gin", "GORM"}})
	if strings.Join(got, ",") != "Gin,GORM" {
		t.Errorf("array input: %v", got)
	}
	got = InferFrameworks(Subject{Description: "code", Context: map[string]any{"frameworks": "Fiber"}}, map[string]any{})
	if strings.Join(got, ",") != "Fiber" {
		t.Errorf("string context: %v", got)
	}
	got = InferFrameworks(Subject{Description: "develop a React app with Express and Prisma"}, map[string]any{})
	if strings.Join(got, ",") != "React,Express,Prisma" {
		t.Errorf("description: %v", got)
	}
	got = InferFrameworks(Subject{Description: "develop something"}, map[string]any{})
	if strings.Join(got, ",") != "NestJS,Prisma" {
		t.Errorf("default: %v", got)
	}
}

func TestBuildGenericCodeGeneration(t *testing.T) {
	text, strategy := BuildGeneric(Subject{Description: "Develop a Python scraper"}, map[string]any{"url": "x"})
	if strategy != StrategyCodeGeneration {
		t.Fatalf("strategy = %s", strategy)
	}
	for _, want := range []string{"Develop a Python scraper", "python", "NestJS, Prisma", `{"url":"x"}`} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt missing %q:\n%s", want, text)
		}
	}
}

func TestBuildGenericAnalysis(t *testing.T) {
	text, strategy := BuildGeneric(Subject{Description: "Security review"}, map[string]any{"codeToAnalyze": "eval(x)"})
	if strategy != StrategyAnalysis {
		t.Fatalf("strategy = %s", strategy)
	}
	if !strings.Contains(text, "eval(x)") || !strings.Contains(text, "all") {
		t.Errorf("unexpected prompt:\n%s", text)
	}

	text, _ = BuildGeneric(Subject{Description: "Evaluate"}, map[string]any{"n": 1})
	if !strings.Contains(text, `{"n":1}`) {
		t.Errorf("expected JSON input fallback:\n%s", text)
	}
}

func TestBuildGenericChainOfThought(t *testing.T) {
	text, strategy := BuildGeneric(Subject{Description: "Generate a greeting"}, nil)
	if strategy != StrategyChainOfThought {
		t.Fatalf("strategy = %s", strategy)
	}
	for _, step := range ChainOfThoughtSteps {
		if !strings.Contains(text, step) {
			t.Errorf("missing step %q", step)
		}
	}
	if !strings.Contains(text, "This task involves: Generate a greeting.") {
		t.Errorf("missing reasoning:\n%s", text)
	}
	if !strings.Contains(text, "The input parameters are: {}") {
		t.Errorf("nil input should render as {}:\n%s", text)
	}
	if !strings.Contains(text, "Provide a clear, structured result.") {
		t.Errorf("missing default final answer")
	}

	text, _ = BuildGeneric(Subject{Description: "Say hi", ExpectedOutput: "a greeting"}, nil)
	if !strings.Contains(text, "The result should be: a greeting") {
		t.Errorf("missing expected output:\n%s", text)
	}
}

func TestBuildGenericIsDeterministic(t *testing.T) {
	s := Subject{Description: "Summarize", Context: map[string]any{"b": 2, "a": 1}}
	in := map[string]any{"z": 1, "y": []any{1, 2}}
	first, _ := BuildGeneric(s, in)
	for i := 0; i < 10; i++ {
		if next, _ := BuildGeneric(s, in); next != first {
			t.Fatal("prompt output changed between calls")
		}
	}
}

func TestSkeletonUnknownPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	Skeleton("does-not-exist")
}
