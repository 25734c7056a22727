package llm

import (
	"encoding/json"
	"testing"
)

func testExtractor() *XMLToolExtractor {
	return NewXMLToolExtractor([]ToolSpec{
		{Name: "semantic_code_search"},
		{Name: "read_file"},
		{Name: "shell_execute"},
	})
}

func TestXMLExtractBasic(t *testing.T) {
	x := testExtractor()
	before, after, call := x.Extract("I will search. <semantic_code_search><query>foo</query></semantic_code_search> done.")
	if call == nil {
		t.Fatal("expected a tool call")
	}
	if call.Name != "semantic_code_search" {
		t.Errorf("got name %q", call.Name)
	}
	if before != "I will search. " {
		t.Errorf("leading text should keep its trailing space, got %q", before)
	}
	if after != " done." {
		t.Errorf("trailing text should be preserved, got %q", after)
	}
	var args map[string]any
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if args["query"] != "foo" {
		t.Errorf("got query %v", args["query"])
	}
}

func TestXMLExtractFirstMatchOnly(t *testing.T) {
	x := testExtractor()
	text := "<read_file><path>a.go</path></read_file> then <read_file><path>b.go</path></read_file>"
	_, after, call := x.Extract(text)
	if call == nil {
		t.Fatal("expected a tool call")
	}
	var args map[string]any
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		t.Fatal(err)
	}
	if args["path"] != "a.go" {
		t.Errorf("should take the first element, got %v", args["path"])
	}
	if after != " then <read_file><path>b.go</path></read_file>" {
		t.Errorf("second element should survive in the trailing text, got %q", after)
	}
}

func TestXMLExtractUnknownAndMarkupTags(t *testing.T) {
	x := testExtractor()
	for _, text := range []string{
		"use <pre>formatted</pre> output",
		"<unknown_tool><a>b</a></unknown_tool>",
		"mismatched <read_file>oops</shell_execute>",
		"plain text with no tags",
	} {
		before, _, call := x.Extract(text)
		if call != nil {
			t.Errorf("%q should not extract a call, got %v", text, call.Name)
		}
		if before != text {
			t.Errorf("%q: text should pass through unchanged, got %q", text, before)
		}
	}
}

func TestXMLExtractTypedValues(t *testing.T) {
	x := testExtractor()
	_, _, call := x.Extract(`<semantic_code_search><query>foo</query><limit>5</limit><fuzzy>true</fuzzy></semantic_code_search>`)
	if call == nil {
		t.Fatal("expected a tool call")
	}
	var args map[string]any
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		t.Fatal(err)
	}
	if args["limit"] != float64(5) {
		t.Errorf("numeric value should stay numeric, got %T %v", args["limit"], args["limit"])
	}
	if args["fuzzy"] != true {
		t.Errorf("boolean value should stay boolean, got %v", args["fuzzy"])
	}
}

func TestXMLExtractBareBody(t *testing.T) {
	x := testExtractor()
	_, _, call := x.Extract(`<shell_execute>ls -la</shell_execute>`)
	if call == nil {
		t.Fatal("expected a tool call")
	}
	var args map[string]any
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		t.Fatal(err)
	}
	if args["content"] != "ls -la" {
		t.Errorf("bare body should map to the content parameter, got %v", args)
	}
}

func TestXMLExtractSkipsEarlierJunkTag(t *testing.T) {
	x := testExtractor()
	_, _, call := x.Extract("<em>note</em> <read_file><path>x</path></read_file>")
	if call == nil || call.Name != "read_file" {
		t.Fatalf("scan should skip markup and find the later tool element, got %v", call)
	}
}
